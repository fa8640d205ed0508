package packet

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strings"
)

// PUBLISH 发布消息报文
//
// MQTT v5.0: 参考章节 3.3 PUBLISH - Publish message
//
// 报文结构:
// 固定报头: 报文类型0x03，标志位包含DUP、QoS、RETAIN
// 可变报头: 主题名、报文标识符(QoS>0时)、发布属性
// 载荷: 应用消息内容
//
// 标志位规则:
//   - DUP: 重发时设置为1 [MQTT-3.3.1-1]; QoS 0消息必须为0 [MQTT-3.3.1-2]
//   - QoS: 0(最多一次)、1(至少一次)、2(恰好一次)；两个QoS位同时为1不合法 [MQTT-3.3.1-4]
//   - RETAIN: 消息是否被服务端保留 [MQTT-3.3.1-5]
type PUBLISH struct {
	*FixedHeader `json:"FixedHeader,omitempty"`

	// PacketID 报文标识符
	// 参考章节: 2.2.1 Packet Identifier
	// QoS = 0 的PUBLISH报文不能包含报文标识符 [MQTT-2.2.1-2]
	// QoS > 0 的PUBLISH报文必须包含非零报文标识符 [MQTT-2.2.1-3]
	PacketID uint16 `json:"PacketID,omitempty"`

	Message *Message `json:"message,omitempty"`

	// Props 发布属性
	// 参考章节: 3.3.2.3 PUBLISH Properties
	Props *PublishProperties `json:"properties,omitempty"`
}

func (pkt *PUBLISH) Kind() byte {
	return 0x3
}

func (pkt *PUBLISH) Pack(w io.Writer) error {
	buf := GetBuffer()
	defer PutBuffer(buf)

	if pkt.FixedHeader == nil {
		pkt.FixedHeader = &FixedHeader{Kind: 0x3}
	}
	if pkt.FixedHeader.QoS > 2 {
		return ErrProtocolViolationQosOutOfRange
	}
	// 所有QoS 0消息的DUP标志必须设置为0 [MQTT-3.3.1-2]
	if pkt.FixedHeader.QoS == 0 && pkt.FixedHeader.Dup != 0 {
		return ErrProtocolViolationDupNoQos
	}
	if pkt.Message == nil || pkt.Message.TopicName == "" {
		return ErrProtocolViolationNoTopic
	}
	// 主题名不能包含通配符 [MQTT-3.3.2-2]
	if strings.ContainsAny(pkt.Message.TopicName, "+#") {
		return ErrProtocolViolationSurplusWildcard
	}

	buf.Write(s2b(pkt.Message.TopicName))
	// QoS设置为0的PUBLISH报文不能包含报文标识符 [MQTT-2.2.1-2]
	if pkt.FixedHeader.QoS > 0 {
		if _, err := nonZero(pkt.PacketID); err != nil {
			return fmt.Errorf("%w: publish packet identifier", err)
		}
		buf.Write(i2b(pkt.PacketID))
	}

	if pkt.Props == nil {
		pkt.Props = &PublishProperties{}
	}
	// 订阅标识符只允许出现在服务端发出的PUBLISH中 [MQTT-3.3.4-6]
	if len(pkt.Props.SubscriptionIdentifiers) != 0 && !pkt.Props.allowSubscriptionID {
		return ErrProtocolViolationSurplusSubID
	}
	if err := packProps(buf, pkt.Props.pack); err != nil {
		return err
	}

	buf.Write(pkt.Message.Content)

	pkt.FixedHeader.RemainingLength = uint32(buf.Len())
	if err := pkt.FixedHeader.Pack(w); err != nil {
		return err
	}
	_, err := buf.WriteTo(w)
	return err
}

func (pkt *PUBLISH) Unpack(buf *bytes.Buffer) error {
	topic, _, err := decodeUTF8[string](buf)
	if err != nil {
		return err
	}
	if topic == "" {
		return ErrProtocolViolationNoTopic
	}
	if strings.ContainsAny(topic, "+#") {
		return ErrProtocolViolationSurplusWildcard
	}
	pkt.Message = &Message{TopicName: topic}

	// QoS > 0 的PUBLISH报文必须包含报文标识符 [MQTT-2.2.1-3]
	if pkt.FixedHeader.QoS > 0 {
		if buf.Len() < 2 {
			return ErrMalformedInsufficientData
		}
		if pkt.PacketID, err = nonZero(binary.BigEndian.Uint16(buf.Next(2))); err != nil {
			return fmt.Errorf("%w: publish packet identifier", err)
		}
	}

	pkt.Props = &PublishProperties{}
	if err := pkt.Props.Unpack(buf); err != nil {
		return fmt.Errorf("pkt.RemainingLength=%v err=%w", pkt.RemainingLength, err)
	}

	// buf.Bytes()返回的是缓冲区底层数组的引用，缓冲区随后会被复用，
	// 载荷必须深拷贝出来。
	pkt.Message.Content = append([]byte{}, buf.Bytes()...)
	buf.Reset()
	return nil
}

// Message 发布消息内容
// 参考章节: 3.3.2.1 Topic Name, 3.3.3 PUBLISH Payload
type Message struct {
	// TopicName 主题名
	// UTF-8编码字符串，不能为空，不能包含通配符 [MQTT-3.3.2-2]
	TopicName string

	// Content 消息内容，二进制数据
	// 包含零长度有效载荷的PUBLISH报文是合法的
	Content []byte
}

func (m *Message) String() string {
	return fmt.Sprintf("%s # %s", m.TopicName, m.Content)
}

// PublishProperties 发布属性
// 参考章节: 3.3.2.3 PUBLISH Properties
type PublishProperties struct {
	// PayloadFormatIndicator 载荷格式指示 (0x01)
	// 参考章节: 3.3.2.3.2
	PayloadFormatIndicator PayloadFormatIndicator

	// MessageExpiryInterval 消息过期间隔 (0x02)
	// 参考章节: 3.3.2.3.3
	MessageExpiryInterval MessageExpiryInterval

	// TopicAlias 主题别名 (0x23)，非零
	// 参考章节: 3.3.2.3.4
	TopicAlias TopicAlias

	// ResponseTopic 响应主题 (0x08)
	// 参考章节: 3.3.2.3.5
	ResponseTopic ResponseTopic

	// CorrelationData 对比数据 (0x09)
	// 参考章节: 3.3.2.3.6
	CorrelationData CorrelationData

	// UserProperties 用户属性 (0x26)，可出现多次
	// 参考章节: 3.3.2.3.7
	UserProperties UserProperties

	// SubscriptionIdentifiers 订阅标识符 (0x0B)，可出现多次
	// 参考章节: 3.3.2.3.8
	// 服务端把消息转发给多个订阅时，报文携带每个匹配订阅的标识符。
	// 客户端发出的PUBLISH不允许携带 [MQTT-3.3.4-6]。
	SubscriptionIdentifiers []uint32

	// ContentType 内容类型 (0x03)
	// 参考章节: 3.3.2.3.9
	ContentType ContentType

	// allowSubscriptionID 解码入站报文时置位；出站编码禁止订阅标识符
	allowSubscriptionID bool
}

func (props *PublishProperties) pack(buf *bytes.Buffer) error {
	props.PayloadFormatIndicator.Pack(buf)
	props.MessageExpiryInterval.Pack(buf)
	props.TopicAlias.Pack(buf)
	props.ResponseTopic.Pack(buf)
	props.CorrelationData.Pack(buf)
	props.UserProperties.Pack(buf)
	for _, id := range props.SubscriptionIdentifiers {
		if err := SubscriptionIdentifier(id).Pack(buf); err != nil {
			return err
		}
	}
	props.ContentType.Pack(buf)
	return nil
}

func (props *PublishProperties) Unpack(buf *bytes.Buffer) error {
	props.allowSubscriptionID = true
	r, err := newPropReader(0x3, buf)
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
		case PropPayloadFormatIndicator:
			uLen, err = props.PayloadFormatIndicator.Unpack(buf)
		case PropMessageExpiryInterval:
			uLen, err = props.MessageExpiryInterval.Unpack(buf)
		case PropTopicAlias:
			uLen, err = props.TopicAlias.Unpack(buf)
		case PropResponseTopic:
			uLen, err = props.ResponseTopic.Unpack(buf)
		case PropCorrelationData:
			uLen, err = props.CorrelationData.Unpack(buf)
		case PropUserProperty:
			uLen, err = props.UserProperties.UnpackOne(buf)
		case PropSubscriptionIdentifier:
			var sid SubscriptionIdentifier
			uLen, err = sid.Unpack(buf)
			props.SubscriptionIdentifiers = append(props.SubscriptionIdentifiers, sid.Uint32())
		case PropContentType:
			uLen, err = props.ContentType.Unpack(buf)
		}
		if err != nil {
			return err
		}
		if err := r.consume(uLen); err != nil {
			return err
		}
	}
}
