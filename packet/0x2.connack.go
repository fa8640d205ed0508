package packet

import (
	"bytes"
	"fmt"
	"io"
)

// CONNACK 连接确认报文
//
// MQTT v5.0: 参考章节 3.2 CONNACK - Connect acknowledgement
//
// 报文结构:
// 固定报头: 报文类型0x02，标志位必须为0
// 可变报头: 连接确认标志(会话存在位)、连接原因码、连接确认属性
// 载荷: 无载荷
//
// 服务端发送给客户端的第一个报文必须是CONNACK [MQTT-3.2.0-1]。
// 原因码 >= 0x80 表示连接被拒绝，服务端随后必须关闭网络连接。
type CONNACK struct {
	*FixedHeader

	// SessionPresent 会话存在标志
	// 参考章节: 3.2.2.1.1 Session Present
	// 位置: 连接确认标志字节的bit 0，其余位必须为0 [MQTT-3.2.2-1]
	SessionPresent bool

	// ReasonCode 连接原因码
	// 参考章节: 3.2.2.2 Connect Reason Code
	ReasonCode ReasonCode

	// Props 连接确认属性
	// 参考章节: 3.2.2.3 CONNACK Properties
	Props *ConnackProperties
}

// connackReasonCodes CONNACK合法原因码集合
// 参考章节: 3.2.2.2 表3-1
var connackReasonCodes = map[uint8]ReasonCode{
	0x00: CodeSuccess,
	0x80: ErrUnspecifiedError,
	0x81: ErrMalformedPacket,
	0x82: ErrProtocolErr,
	0x83: ErrImplementationSpecificError,
	0x84: ErrUnsupportedProtocolVersion,
	0x85: ErrClientIdentifierNotValid,
	0x86: ErrBadUsernameOrPassword,
	0x87: ErrNotAuthorized,
	0x88: ErrServerUnavailable,
	0x89: ErrServerBusy,
	0x8A: ErrBanned,
	0x8C: ErrBadAuthenticationMethod,
	0x8F: ErrTopicFilterInvalid,
	0x90: ErrTopicNameInvalid,
	0x95: ErrPacketTooLarge,
	0x97: ErrQuotaExceeded,
	0x99: ErrPayloadFormatInvalid,
	0x9A: ErrRetainNotSupported,
	0x9B: ErrQosNotSupported,
	0x9C: ErrUseAnotherServer,
	0x9D: ErrServerMoved,
	0x9F: ErrConnectionRateExceeded,
}

func (pkt *CONNACK) Kind() byte {
	return 0x2
}

func (pkt *CONNACK) String() string {
	return fmt.Sprintf("[0x2]CONNACK: SessionPresent=%t, ReasonCode=%d", pkt.SessionPresent, pkt.ReasonCode.Code)
}

func (pkt *CONNACK) Pack(w io.Writer) error {
	buf := GetBuffer()
	defer PutBuffer(buf)

	var ack byte
	if pkt.SessionPresent {
		ack = 0x01
	}
	buf.WriteByte(ack)
	buf.WriteByte(pkt.ReasonCode.Code)

	if pkt.Props == nil {
		pkt.Props = &ConnackProperties{}
	}
	if err := packProps(buf, pkt.Props.pack); err != nil {
		return err
	}

	pkt.FixedHeader.RemainingLength = uint32(buf.Len())
	if err := pkt.FixedHeader.Pack(w); err != nil {
		return err
	}
	_, err := buf.WriteTo(w)
	return err
}

func (pkt *CONNACK) Unpack(buf *bytes.Buffer) error {
	if buf.Len() < 2 {
		return ErrMalformedInsufficientData
	}

	// 连接确认标志: bit 0是会话存在位，bits 7-1必须为0 [MQTT-3.2.2-1]
	ack := buf.Next(1)[0]
	if ack&0xFE != 0 {
		return ErrMalformedFlags
	}
	pkt.SessionPresent = ack&0x01 == 0x01

	var err error
	if pkt.ReasonCode, err = lookupReasonCode(buf.Next(1)[0], connackReasonCodes); err != nil {
		return err
	}
	// 服务端发送的原因码不是0x00时，会话存在标志必须为0 [MQTT-3.2.2-6]
	if pkt.ReasonCode.Failed() && pkt.SessionPresent {
		return ErrProtocolErr
	}

	pkt.Props = &ConnackProperties{}
	return pkt.Props.Unpack(buf)
}

// ConnackProperties 连接确认属性
// 参考章节: 3.2.2.3 CONNACK Properties
// 服务端通过这些属性向客户端通告它的能力和对连接参数的裁决。
type ConnackProperties struct {
	// SessionExpiryInterval 会话过期间隔 (0x11)
	// 参考章节: 3.2.2.3.2
	// 服务端用它覆盖客户端在CONNECT中请求的值
	SessionExpiryInterval SessionExpiryInterval

	// ReceiveMaximum 接收最大值 (0x21)
	// 参考章节: 3.2.2.3.3
	// 服务端愿意同时处理的QoS>0发布消息数量，约束客户端的发送配额，
	// 缺省值65535。参考章节 4.9 Flow Control。
	ReceiveMaximum ReceiveMaximum

	// MaximumQoS 最大服务质量 (0x24)
	// 参考章节: 3.2.2.3.4
	MaximumQoS MaximumQoS
	HasMaximumQoS bool

	// RetainAvailable 保留消息可用性 (0x25)
	// 参考章节: 3.2.2.3.5
	RetainAvailable RetainAvailable
	HasRetainAvailable bool

	// MaximumPacketSize 最大报文长度 (0x27)
	// 参考章节: 3.2.2.3.6
	MaximumPacketSize MaximumPacketSize

	// AssignedClientIdentifier 分配的客户端标识符 (0x12)
	// 参考章节: 3.2.2.3.7
	// 客户端用空客户端ID连接时服务端必须返回分配的标识符 [MQTT-3.2.2-16]
	AssignedClientIdentifier AssignedClientIdentifier

	// TopicAliasMaximum 主题别名最大值 (0x22)
	// 参考章节: 3.2.2.3.8
	TopicAliasMaximum TopicAliasMaximum

	// ReasonString 原因字符串 (0x1F)
	// 参考章节: 3.2.2.3.9
	ReasonString ReasonString

	// UserProperties 用户属性 (0x26)
	// 参考章节: 3.2.2.3.10
	UserProperties UserProperties

	// WildcardSubscriptionAvailable 通配符订阅可用性 (0x28)
	// 参考章节: 3.2.2.3.11
	WildcardSubscriptionAvailable WildcardSubscriptionAvailable
	HasWildcardSubscriptionAvailable bool

	// SubscriptionIdentifiersAvailable 订阅标识符可用性 (0x29)
	// 参考章节: 3.2.2.3.12
	SubscriptionIdentifiersAvailable SubscriptionIdentifiersAvailable
	HasSubscriptionIdentifiersAvailable bool

	// SharedSubscriptionAvailable 共享订阅可用性 (0x2A)
	// 参考章节: 3.2.2.3.13
	SharedSubscriptionAvailable SharedSubscriptionAvailable
	HasSharedSubscriptionAvailable bool

	// ServerKeepAlive 服务端保活时间 (0x13)
	// 参考章节: 3.2.2.3.14
	// 设置时客户端必须用它替代自己请求的保活时间 [MQTT-3.2.2-21]
	ServerKeepAlive ServerKeepAlive
	HasServerKeepAlive bool

	// ResponseInformation 响应信息 (0x1A)
	// 参考章节: 3.2.2.3.15
	ResponseInformation ResponseInformation

	// ServerReference 服务端引用 (0x1C)
	// 参考章节: 3.2.2.3.16, 4.11 Server redirection
	ServerReference ServerReference

	// AuthenticationMethod/AuthenticationData 扩展认证 (0x15/0x16)
	// 参考章节: 3.2.2.3.17, 3.2.2.3.18
	AuthenticationMethod AuthenticationMethod
	AuthenticationData   AuthenticationData
}

func (props *ConnackProperties) pack(buf *bytes.Buffer) error {
	props.SessionExpiryInterval.Pack(buf)
	props.ReceiveMaximum.Pack(buf)
	if props.HasMaximumQoS {
		props.MaximumQoS.Pack(buf)
	}
	if props.HasRetainAvailable {
		props.RetainAvailable.Pack(buf)
	}
	props.MaximumPacketSize.Pack(buf)
	props.AssignedClientIdentifier.Pack(buf)
	props.TopicAliasMaximum.Pack(buf)
	props.ReasonString.Pack(buf)
	props.UserProperties.Pack(buf)
	if props.HasWildcardSubscriptionAvailable {
		props.WildcardSubscriptionAvailable.Pack(buf)
	}
	if props.HasSubscriptionIdentifiersAvailable {
		props.SubscriptionIdentifiersAvailable.Pack(buf)
	}
	if props.HasSharedSubscriptionAvailable {
		props.SharedSubscriptionAvailable.Pack(buf)
	}
	if props.HasServerKeepAlive {
		props.ServerKeepAlive.Pack(buf)
	}
	props.ResponseInformation.Pack(buf)
	props.ServerReference.Pack(buf)
	props.AuthenticationMethod.Pack(buf)
	props.AuthenticationData.Pack(buf)
	return nil
}

func (props *ConnackProperties) Unpack(buf *bytes.Buffer) error {
	r, err := newPropReader(0x2, buf)
	if err != nil {
		return err
	}
	for {
		id, ok, err := r.next(buf)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		var uLen uint32
		switch id {
		case PropSessionExpiryInterval:
			uLen, err = props.SessionExpiryInterval.Unpack(buf)
		case PropReceiveMaximum:
			uLen, err = props.ReceiveMaximum.Unpack(buf)
		case PropMaximumQoS:
			props.HasMaximumQoS = true
			uLen, err = props.MaximumQoS.Unpack(buf)
		case PropRetainAvailable:
			props.HasRetainAvailable = true
			uLen, err = props.RetainAvailable.Unpack(buf)
		case PropMaximumPacketSize:
			uLen, err = props.MaximumPacketSize.Unpack(buf)
		case PropAssignedClientIdentifier:
			uLen, err = props.AssignedClientIdentifier.Unpack(buf)
		case PropTopicAliasMaximum:
			uLen, err = props.TopicAliasMaximum.Unpack(buf)
		case PropReasonString:
			uLen, err = props.ReasonString.Unpack(buf)
		case PropUserProperty:
			uLen, err = props.UserProperties.UnpackOne(buf)
		case PropWildcardSubscriptionAvailable:
			props.HasWildcardSubscriptionAvailable = true
			uLen, err = props.WildcardSubscriptionAvailable.Unpack(buf)
		case PropSubscriptionIdentifiersAvailable:
			props.HasSubscriptionIdentifiersAvailable = true
			uLen, err = props.SubscriptionIdentifiersAvailable.Unpack(buf)
		case PropSharedSubscriptionAvailable:
			props.HasSharedSubscriptionAvailable = true
			uLen, err = props.SharedSubscriptionAvailable.Unpack(buf)
		case PropServerKeepAlive:
			props.HasServerKeepAlive = true
			uLen, err = props.ServerKeepAlive.Unpack(buf)
		case PropResponseInformation:
			uLen, err = props.ResponseInformation.Unpack(buf)
		case PropServerReference:
			uLen, err = props.ServerReference.Unpack(buf)
		case PropAuthenticationMethod:
			uLen, err = props.AuthenticationMethod.Unpack(buf)
		case PropAuthenticationData:
			uLen, err = props.AuthenticationData.Unpack(buf)
		}
		if err != nil {
			return err
		}
		if err := r.consume(uLen); err != nil {
			return err
		}
	}
}
