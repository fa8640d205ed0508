package packet

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

/*
属性系统 (Properties)
参考章节: 2.2.2 Properties

MQTT v5.0共定义了27个属性，每个属性由单字节标识符和按类型编码的值组成。
属性块的编码格式: 属性长度(变长字节整数) + 若干 (标识符, 值)。

属性约束:
  - 除用户属性(0x26)和PUBLISH报文中的订阅标识符(0x0B)外，
    同一属性在一个属性块中最多出现一次，重复出现按Malformed Packet处理。
  - 每种报文只接受属于自己的属性集合，集合外的标识符同样是Malformed Packet，
    见 validProperties。
*/

// 属性标识符
// 参考章节: 2.2.2.2 Property
const (
	PropPayloadFormatIndicator          = 0x01
	PropMessageExpiryInterval           = 0x02
	PropContentType                     = 0x03
	PropResponseTopic                   = 0x08
	PropCorrelationData                 = 0x09
	PropSubscriptionIdentifier          = 0x0B
	PropSessionExpiryInterval           = 0x11
	PropAssignedClientIdentifier        = 0x12
	PropServerKeepAlive                 = 0x13
	PropAuthenticationMethod            = 0x15
	PropAuthenticationData              = 0x16
	PropRequestProblemInformation       = 0x17
	PropWillDelayInterval               = 0x18
	PropRequestResponseInformation      = 0x19
	PropResponseInformation             = 0x1A
	PropServerReference                 = 0x1C
	PropReasonString                    = 0x1F
	PropReceiveMaximum                  = 0x21
	PropTopicAliasMaximum               = 0x22
	PropTopicAlias                      = 0x23
	PropMaximumQoS                      = 0x24
	PropRetainAvailable                 = 0x25
	PropUserProperty                    = 0x26
	PropMaximumPacketSize               = 0x27
	PropWildcardSubscriptionAvailable   = 0x28
	PropSubscriptionIdentifiersAvailable = 0x29
	PropSharedSubscriptionAvailable     = 0x2A
)

// willPropertiesKind validProperties表中遗嘱属性块的伪报文类型。
// 遗嘱属性在CONNECT载荷中，拥有自己的合法属性集合。
const willPropertiesKind byte = 0x10

// validProperties 每种报文的合法属性集合
// 参考章节: 2.2.2.2 Property 表2-4
// 解码时收到集合之外的标识符必须按Malformed Packet处理。
var validProperties = map[byte]map[uint32]struct{}{
	0x1: propSet(PropSessionExpiryInterval, PropReceiveMaximum, PropMaximumPacketSize,
		PropTopicAliasMaximum, PropRequestResponseInformation, PropRequestProblemInformation,
		PropUserProperty, PropAuthenticationMethod, PropAuthenticationData),
	0x2: propSet(PropSessionExpiryInterval, PropReceiveMaximum, PropMaximumQoS, PropRetainAvailable,
		PropMaximumPacketSize, PropAssignedClientIdentifier, PropTopicAliasMaximum, PropReasonString,
		PropUserProperty, PropWildcardSubscriptionAvailable, PropSubscriptionIdentifiersAvailable,
		PropSharedSubscriptionAvailable, PropServerKeepAlive, PropResponseInformation,
		PropServerReference, PropAuthenticationMethod, PropAuthenticationData),
	0x3: propSet(PropPayloadFormatIndicator, PropMessageExpiryInterval, PropTopicAlias,
		PropResponseTopic, PropCorrelationData, PropUserProperty, PropSubscriptionIdentifier,
		PropContentType),
	0x4: propSet(PropReasonString, PropUserProperty),
	0x5: propSet(PropReasonString, PropUserProperty),
	0x6: propSet(PropReasonString, PropUserProperty),
	0x7: propSet(PropReasonString, PropUserProperty),
	0x8: propSet(PropSubscriptionIdentifier, PropUserProperty),
	0x9: propSet(PropReasonString, PropUserProperty),
	0xA: propSet(PropUserProperty),
	0xB: propSet(PropReasonString, PropUserProperty),
	0xE: propSet(PropSessionExpiryInterval, PropReasonString, PropUserProperty, PropServerReference),
	0xF: propSet(PropAuthenticationMethod, PropAuthenticationData, PropReasonString, PropUserProperty),
	willPropertiesKind: propSet(PropWillDelayInterval, PropPayloadFormatIndicator,
		PropMessageExpiryInterval, PropContentType, PropResponseTopic, PropCorrelationData,
		PropUserProperty),
}

func propSet(ids ...uint32) map[uint32]struct{} {
	m := make(map[uint32]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	return m
}

// propReader 驱动一个属性块的解码
// 负责属性长度、逐个标识符、合法性校验和重复检测，具体的值解析由各报文的switch完成。
type propReader struct {
	kind      byte
	remaining uint32
	seen      map[uint32]bool
}

func newPropReader(kind byte, buf *bytes.Buffer) (*propReader, error) {
	propsLen, err := decodeLength(buf)
	if err != nil {
		return nil, err
	}
	if int(propsLen) > buf.Len() {
		return nil, ErrMalformedInsufficientData
	}
	return &propReader{kind: kind, remaining: propsLen, seen: make(map[uint32]bool)}, nil
}

// next 返回下一个属性标识符，属性块耗尽时ok为false。
func (r *propReader) next(buf *bytes.Buffer) (uint32, bool, error) {
	if r.remaining == 0 {
		return 0, false, nil
	}
	before := buf.Len()
	id, err := decodeLength(buf)
	if err != nil {
		return 0, false, err
	}
	r.remaining -= uint32(before - buf.Len())
	if _, ok := validProperties[r.kind][id]; !ok {
		return 0, false, fmt.Errorf("%w: identifier 0x%02X in %s", ErrMalformedProperties, id, Kind[r.kind])
	}
	// 用户属性可以重复出现，PUBLISH报文中的订阅标识符也可以 [MQTT-3.3.4-4]
	repeatable := id == PropUserProperty || (id == PropSubscriptionIdentifier && r.kind == 0x3)
	if r.seen[id] && !repeatable {
		return 0, false, fmt.Errorf("%w: identifier 0x%02X", ErrMalformedDuplicateProperty, id)
	}
	r.seen[id] = true
	return id, true, nil
}

// consume 记录本属性值消耗的字节数
func (r *propReader) consume(n uint32) error {
	if n > r.remaining {
		return ErrMalformedProperties
	}
	r.remaining -= n
	return nil
}

// SessionExpiryInterval 会话过期间隔 (0x11)
type SessionExpiryInterval uint32

func (s SessionExpiryInterval) Pack(buf *bytes.Buffer) {
	if s == 0 {
		return
	}
	buf.WriteByte(PropSessionExpiryInterval)
	buf.Write(i4b(uint32(s)))
}

func (s *SessionExpiryInterval) Unpack(buf *bytes.Buffer) (uint32, error) {
	if buf.Len() < 4 {
		return 0, ErrMalformedInsufficientData
	}
	*s = SessionExpiryInterval(binary.BigEndian.Uint32(buf.Next(4)))
	return 4, nil
}

func (s SessionExpiryInterval) Uint32() uint32 { return uint32(s) }

// ReceiveMaximum 接收最大值 (0x21)，非零
type ReceiveMaximum uint16

func (s ReceiveMaximum) Pack(buf *bytes.Buffer) {
	if s == 0 {
		return
	}
	buf.WriteByte(PropReceiveMaximum)
	buf.Write(i2b(uint16(s)))
}

func (s *ReceiveMaximum) Unpack(buf *bytes.Buffer) (uint32, error) {
	if buf.Len() < 2 {
		return 0, ErrMalformedInsufficientData
	}
	v, err := nonZero(binary.BigEndian.Uint16(buf.Next(2)))
	if err != nil {
		return 0, fmt.Errorf("%w: receive maximum", err)
	}
	*s = ReceiveMaximum(v)
	return 2, nil
}

func (s ReceiveMaximum) Uint16() uint16 { return uint16(s) }

// MaximumPacketSize 最大报文长度 (0x27)，非零
type MaximumPacketSize uint32

func (s MaximumPacketSize) Pack(buf *bytes.Buffer) {
	if s == 0 {
		return
	}
	buf.WriteByte(PropMaximumPacketSize)
	buf.Write(i4b(uint32(s)))
}

func (s *MaximumPacketSize) Unpack(buf *bytes.Buffer) (uint32, error) {
	if buf.Len() < 4 {
		return 0, ErrMalformedInsufficientData
	}
	v, err := nonZero(binary.BigEndian.Uint32(buf.Next(4)))
	if err != nil {
		return 0, fmt.Errorf("%w: maximum packet size", err)
	}
	*s = MaximumPacketSize(v)
	return 4, nil
}

func (s MaximumPacketSize) Uint32() uint32 { return uint32(s) }

// TopicAliasMaximum 主题别名最大值 (0x22)
type TopicAliasMaximum uint16

func (s TopicAliasMaximum) Pack(buf *bytes.Buffer) {
	if s == 0 {
		return
	}
	buf.WriteByte(PropTopicAliasMaximum)
	buf.Write(i2b(uint16(s)))
}

func (s *TopicAliasMaximum) Unpack(buf *bytes.Buffer) (uint32, error) {
	if buf.Len() < 2 {
		return 0, ErrMalformedInsufficientData
	}
	*s = TopicAliasMaximum(binary.BigEndian.Uint16(buf.Next(2)))
	return 2, nil
}

func (s TopicAliasMaximum) Uint16() uint16 { return uint16(s) }

// TopicAlias 主题别名 (0x23)，非零
type TopicAlias uint16

func (s TopicAlias) Pack(buf *bytes.Buffer) {
	if s == 0 {
		return
	}
	buf.WriteByte(PropTopicAlias)
	buf.Write(i2b(uint16(s)))
}

func (s *TopicAlias) Unpack(buf *bytes.Buffer) (uint32, error) {
	if buf.Len() < 2 {
		return 0, ErrMalformedInsufficientData
	}
	v, err := nonZero(binary.BigEndian.Uint16(buf.Next(2)))
	if err != nil {
		return 0, fmt.Errorf("%w: topic alias", err)
	}
	*s = TopicAlias(v)
	return 2, nil
}

func (s TopicAlias) Uint16() uint16 { return uint16(s) }

// boolByte 单字节0/1属性的公共解码
// RequestResponseInformation等属性的值既不是0也不是1将造成协议错误
func boolByte(buf *bytes.Buffer, name string) (uint8, uint32, error) {
	if buf.Len() < 1 {
		return 0, 0, ErrMalformedInsufficientData
	}
	v := buf.Next(1)[0]
	if v > 1 {
		return 0, 0, fmt.Errorf("%w: invalid %s", ErrProtocolErr, name)
	}
	return v, 1, nil
}

// RequestResponseInformation 请求响应信息 (0x19)
type RequestResponseInformation uint8

func (s RequestResponseInformation) Pack(buf *bytes.Buffer) {
	if s == 0 {
		return
	}
	buf.WriteByte(PropRequestResponseInformation)
	buf.WriteByte(uint8(s))
}

func (s *RequestResponseInformation) Unpack(buf *bytes.Buffer) (uint32, error) {
	v, n, err := boolByte(buf, "request response information")
	*s = RequestResponseInformation(v)
	return n, err
}

// RequestProblemInformation 请求问题信息 (0x17)
type RequestProblemInformation uint8

func (s RequestProblemInformation) Pack(buf *bytes.Buffer) {
	if s == 0 {
		return
	}
	buf.WriteByte(PropRequestProblemInformation)
	buf.WriteByte(uint8(s))
}

func (s *RequestProblemInformation) Unpack(buf *bytes.Buffer) (uint32, error) {
	v, n, err := boolByte(buf, "request problem information")
	*s = RequestProblemInformation(v)
	return n, err
}

// UserProperties 用户属性 (0x26)
// UTF-8字符串对，可出现多次，解码时保持到达顺序。
type UserProperties [][2]string

func (s UserProperties) Pack(buf *bytes.Buffer) {
	for _, kv := range s {
		buf.WriteByte(PropUserProperty)
		buf.Write(encodeUTF8(kv[0]))
		buf.Write(encodeUTF8(kv[1]))
	}
}

// UnpackOne 解析一对名称/值并追加
func (s *UserProperties) UnpackOne(buf *bytes.Buffer) (uint32, error) {
	name, n1, err := decodeUTF8[string](buf)
	if err != nil {
		return 0, err
	}
	value, n2, err := decodeUTF8[string](buf)
	if err != nil {
		return 0, err
	}
	*s = append(*s, [2]string{name, value})
	return n1 + n2, nil
}

// Get 返回第一个匹配名称的值
func (s UserProperties) Get(name string) (string, bool) {
	for _, kv := range s {
		if kv[0] == name {
			return kv[1], true
		}
	}
	return "", false
}

// AuthenticationMethod 认证方法 (0x15)
type AuthenticationMethod string

func (s AuthenticationMethod) Pack(buf *bytes.Buffer) {
	if s == "" {
		return
	}
	buf.WriteByte(PropAuthenticationMethod)
	buf.Write(encodeUTF8(string(s)))
}

func (s *AuthenticationMethod) Unpack(buf *bytes.Buffer) (uint32, error) {
	method, n, err := decodeUTF8[string](buf)
	*s = AuthenticationMethod(method)
	return n, err
}

func (s AuthenticationMethod) String() string { return string(s) }

// AuthenticationData 认证数据 (0x16)
type AuthenticationData []byte

func (s AuthenticationData) Pack(buf *bytes.Buffer) {
	if len(s) == 0 {
		return
	}
	buf.WriteByte(PropAuthenticationData)
	buf.Write(encodeUTF8([]byte(s)))
}

func (s *AuthenticationData) Unpack(buf *bytes.Buffer) (uint32, error) {
	data, n, err := decodeUTF8[[]byte](buf)
	*s = AuthenticationData(data)
	return n, err
}

func (s AuthenticationData) Bytes() []byte { return []byte(s) }

// MaximumQoS 最大服务质量 (0x24)
type MaximumQoS uint8

func (s MaximumQoS) Pack(buf *bytes.Buffer) {
	buf.WriteByte(PropMaximumQoS)
	buf.WriteByte(uint8(s))
}

func (s *MaximumQoS) Unpack(buf *bytes.Buffer) (uint32, error) {
	v, n, err := boolByte(buf, "maximum qos")
	*s = MaximumQoS(v)
	return n, err
}

func (s MaximumQoS) Uint8() uint8 { return uint8(s) }

// RetainAvailable 保留消息可用性 (0x25)
type RetainAvailable uint8

func (s RetainAvailable) Pack(buf *bytes.Buffer) {
	buf.WriteByte(PropRetainAvailable)
	buf.WriteByte(uint8(s))
}

func (s *RetainAvailable) Unpack(buf *bytes.Buffer) (uint32, error) {
	v, n, err := boolByte(buf, "retain available")
	*s = RetainAvailable(v)
	return n, err
}

// AssignedClientIdentifier 分配的客户端标识符 (0x12)
type AssignedClientIdentifier string

func (s AssignedClientIdentifier) Pack(buf *bytes.Buffer) {
	if s == "" {
		return
	}
	buf.WriteByte(PropAssignedClientIdentifier)
	buf.Write(encodeUTF8(string(s)))
}

func (s *AssignedClientIdentifier) Unpack(buf *bytes.Buffer) (uint32, error) {
	id, n, err := decodeUTF8[string](buf)
	*s = AssignedClientIdentifier(id)
	return n, err
}

func (s AssignedClientIdentifier) String() string { return string(s) }

// ReasonString 原因字符串 (0x1F)
// 为诊断而设计的可读字符串，不应被接收方解析。
type ReasonString string

func (s ReasonString) Pack(buf *bytes.Buffer) {
	if s == "" {
		return
	}
	buf.WriteByte(PropReasonString)
	buf.Write(encodeUTF8(string(s)))
}

func (s *ReasonString) Unpack(buf *bytes.Buffer) (uint32, error) {
	reason, n, err := decodeUTF8[string](buf)
	*s = ReasonString(reason)
	return n, err
}

func (s ReasonString) String() string { return string(s) }

// WildcardSubscriptionAvailable 通配符订阅可用性 (0x28)
type WildcardSubscriptionAvailable uint8

func (s WildcardSubscriptionAvailable) Pack(buf *bytes.Buffer) {
	buf.WriteByte(PropWildcardSubscriptionAvailable)
	buf.WriteByte(uint8(s))
}

func (s *WildcardSubscriptionAvailable) Unpack(buf *bytes.Buffer) (uint32, error) {
	v, n, err := boolByte(buf, "wildcard subscription available")
	*s = WildcardSubscriptionAvailable(v)
	return n, err
}

// SubscriptionIdentifiersAvailable 订阅标识符可用性 (0x29)
type SubscriptionIdentifiersAvailable uint8

func (s SubscriptionIdentifiersAvailable) Pack(buf *bytes.Buffer) {
	buf.WriteByte(PropSubscriptionIdentifiersAvailable)
	buf.WriteByte(uint8(s))
}

func (s *SubscriptionIdentifiersAvailable) Unpack(buf *bytes.Buffer) (uint32, error) {
	v, n, err := boolByte(buf, "subscription identifiers available")
	*s = SubscriptionIdentifiersAvailable(v)
	return n, err
}

// SharedSubscriptionAvailable 共享订阅可用性 (0x2A)
type SharedSubscriptionAvailable uint8

func (s SharedSubscriptionAvailable) Pack(buf *bytes.Buffer) {
	buf.WriteByte(PropSharedSubscriptionAvailable)
	buf.WriteByte(uint8(s))
}

func (s *SharedSubscriptionAvailable) Unpack(buf *bytes.Buffer) (uint32, error) {
	v, n, err := boolByte(buf, "shared subscription available")
	*s = SharedSubscriptionAvailable(v)
	return n, err
}

// ServerKeepAlive 服务端保活时间 (0x13)
// 服务端返回此属性时，客户端必须用它替代CONNECT中请求的保活时间 [MQTT-3.1.2-21]
type ServerKeepAlive uint16

func (s ServerKeepAlive) Pack(buf *bytes.Buffer) {
	buf.WriteByte(PropServerKeepAlive)
	buf.Write(i2b(uint16(s)))
}

func (s *ServerKeepAlive) Unpack(buf *bytes.Buffer) (uint32, error) {
	if buf.Len() < 2 {
		return 0, ErrMalformedInsufficientData
	}
	*s = ServerKeepAlive(binary.BigEndian.Uint16(buf.Next(2)))
	return 2, nil
}

func (s ServerKeepAlive) Uint16() uint16 { return uint16(s) }

// ResponseInformation 响应信息 (0x1A)
type ResponseInformation string

func (s ResponseInformation) Pack(buf *bytes.Buffer) {
	if s == "" {
		return
	}
	buf.WriteByte(PropResponseInformation)
	buf.Write(encodeUTF8(string(s)))
}

func (s *ResponseInformation) Unpack(buf *bytes.Buffer) (uint32, error) {
	response, n, err := decodeUTF8[string](buf)
	*s = ResponseInformation(response)
	return n, err
}

// ServerReference 服务端引用 (0x1C)
// 参考章节 4.11 Server redirection
type ServerReference string

func (s ServerReference) Pack(buf *bytes.Buffer) {
	if s == "" {
		return
	}
	buf.WriteByte(PropServerReference)
	buf.Write(encodeUTF8(string(s)))
}

func (s *ServerReference) Unpack(buf *bytes.Buffer) (uint32, error) {
	reference, n, err := decodeUTF8[string](buf)
	*s = ServerReference(reference)
	return n, err
}

func (s ServerReference) String() string { return string(s) }

// PayloadFormatIndicator 载荷格式指示 (0x01)
// 0表示未指定的字节流，1表示UTF-8字符数据
type PayloadFormatIndicator uint8

func (s PayloadFormatIndicator) Pack(buf *bytes.Buffer) {
	if s == 0 {
		return
	}
	buf.WriteByte(PropPayloadFormatIndicator)
	buf.WriteByte(uint8(s))
}

func (s *PayloadFormatIndicator) Unpack(buf *bytes.Buffer) (uint32, error) {
	v, n, err := boolByte(buf, "payload format indicator")
	*s = PayloadFormatIndicator(v)
	return n, err
}

// MessageExpiryInterval 消息过期间隔 (0x02)
type MessageExpiryInterval uint32

func (s MessageExpiryInterval) Pack(buf *bytes.Buffer) {
	if s == 0 {
		return
	}
	buf.WriteByte(PropMessageExpiryInterval)
	buf.Write(i4b(uint32(s)))
}

func (s *MessageExpiryInterval) Unpack(buf *bytes.Buffer) (uint32, error) {
	if buf.Len() < 4 {
		return 0, ErrMalformedInsufficientData
	}
	*s = MessageExpiryInterval(binary.BigEndian.Uint32(buf.Next(4)))
	return 4, nil
}

func (s MessageExpiryInterval) Uint32() uint32 { return uint32(s) }

// WillDelayInterval 遗嘱延时间隔 (0x18)
type WillDelayInterval uint32

func (s WillDelayInterval) Pack(buf *bytes.Buffer) {
	if s == 0 {
		return
	}
	buf.WriteByte(PropWillDelayInterval)
	buf.Write(i4b(uint32(s)))
}

func (s *WillDelayInterval) Unpack(buf *bytes.Buffer) (uint32, error) {
	if buf.Len() < 4 {
		return 0, ErrMalformedInsufficientData
	}
	*s = WillDelayInterval(binary.BigEndian.Uint32(buf.Next(4)))
	return 4, nil
}

// CorrelationData 对比数据 (0x09)
type CorrelationData []byte

func (s CorrelationData) Pack(buf *bytes.Buffer) {
	if len(s) == 0 {
		return
	}
	buf.WriteByte(PropCorrelationData)
	buf.Write(encodeUTF8([]byte(s)))
}

func (s *CorrelationData) Unpack(buf *bytes.Buffer) (uint32, error) {
	data, n, err := decodeUTF8[[]byte](buf)
	*s = CorrelationData(data)
	return n, err
}

func (s CorrelationData) Bytes() []byte { return []byte(s) }

// ContentType 内容类型 (0x03)
type ContentType string

func (s ContentType) Pack(buf *bytes.Buffer) {
	if s == "" {
		return
	}
	buf.WriteByte(PropContentType)
	buf.Write(encodeUTF8(string(s)))
}

func (s *ContentType) Unpack(buf *bytes.Buffer) (uint32, error) {
	ct, n, err := decodeUTF8[string](buf)
	*s = ContentType(ct)
	return n, err
}

func (s ContentType) String() string { return string(s) }

// ResponseTopic 响应主题 (0x08)
type ResponseTopic string

func (s ResponseTopic) Pack(buf *bytes.Buffer) {
	if s == "" {
		return
	}
	buf.WriteByte(PropResponseTopic)
	buf.Write(encodeUTF8(string(s)))
}

func (s *ResponseTopic) Unpack(buf *bytes.Buffer) (uint32, error) {
	topic, n, err := decodeUTF8[string](buf)
	*s = ResponseTopic(topic)
	return n, err
}

func (s ResponseTopic) String() string { return string(s) }

// SubscriptionIdentifier 订阅标识符 (0x0B)
// 变长字节整数编码，非零。客户端在SUBSCRIBE中携带，
// 服务端在每条匹配的PUBLISH中回显，用于把消息路由到正确的订阅流。
type SubscriptionIdentifier uint32

func (s SubscriptionIdentifier) Pack(buf *bytes.Buffer) error {
	if s == 0 {
		return nil
	}
	buf.WriteByte(PropSubscriptionIdentifier)
	v, err := encodeLength(uint32(s))
	if err != nil {
		return err
	}
	buf.Write(v)
	return nil
}

func (s *SubscriptionIdentifier) Unpack(buf *bytes.Buffer) (uint32, error) {
	before := buf.Len()
	id, err := decodeLength(buf)
	if err != nil {
		return 0, err
	}
	v, err := nonZero(id)
	if err != nil {
		return 0, fmt.Errorf("%w: subscription identifier", err)
	}
	*s = SubscriptionIdentifier(v)
	return uint32(before - buf.Len()), nil
}

func (s SubscriptionIdentifier) Uint32() uint32 { return uint32(s) }
