package packet

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// SUBSCRIBE 订阅请求报文
//
// MQTT v5.0: 参考章节 3.8 SUBSCRIBE - Subscribe request
//
// 报文结构:
// 固定报头: 报文类型0x08，标志位必须为DUP=0, QoS=1, RETAIN=0 [MQTT-3.8.1-1]
// 可变报头: 报文标识符、订阅属性
// 载荷: 订阅列表，每个订阅包含主题过滤器和订阅选项字节
type SUBSCRIBE struct {
	*FixedHeader `json:"FixedHeader,omitempty"`

	// PacketID 报文标识符
	// 参考章节: 2.2.1 Packet Identifier
	PacketID uint16 `json:"PacketID,omitempty"`

	// Props 订阅属性
	// 参考章节: 3.8.2.1 SUBSCRIBE Properties
	Props *SubscribeProperties

	// Subscriptions 订阅列表
	// 参考章节: 3.8.3 SUBSCRIBE Payload
	// 载荷必须至少包含一对主题过滤器和订阅选项 [MQTT-3.8.3-2]
	Subscriptions []Subscription `json:"Subscription,omitempty"`
}

func (pkt *SUBSCRIBE) Kind() byte {
	return 0x8
}

func (pkt *SUBSCRIBE) Pack(w io.Writer) error {
	buf := GetBuffer()
	defer PutBuffer(buf)

	if _, err := nonZero(pkt.PacketID); err != nil {
		return fmt.Errorf("%w: subscribe packet identifier", err)
	}
	if len(pkt.Subscriptions) == 0 {
		return ErrProtocolViolationNoFilters
	}

	buf.Write(i2b(pkt.PacketID))

	if pkt.Props == nil {
		pkt.Props = &SubscribeProperties{}
	}
	if err := packProps(buf, pkt.Props.pack); err != nil {
		return err
	}

	for _, subscription := range pkt.Subscriptions {
		if subscription.TopicFilter == "" {
			return ErrProtocolViolationNoTopic
		}
		options, err := subscription.options()
		if err != nil {
			return err
		}
		buf.Write(s2b(subscription.TopicFilter))
		buf.WriteByte(options)
	}

	// 固定报头的bits 3-0必须是0,0,1,0 [MQTT-3.8.1-1]
	pkt.FixedHeader.Dup, pkt.FixedHeader.QoS, pkt.FixedHeader.Retain = 0, 1, 0
	pkt.FixedHeader.RemainingLength = uint32(buf.Len())
	if err := pkt.FixedHeader.Pack(w); err != nil {
		return err
	}
	_, err := buf.WriteTo(w)
	return err
}

func (pkt *SUBSCRIBE) Unpack(buf *bytes.Buffer) error {
	if buf.Len() < 2 {
		return ErrMalformedInsufficientData
	}
	var err error
	if pkt.PacketID, err = nonZero(binary.BigEndian.Uint16(buf.Next(2))); err != nil {
		return fmt.Errorf("%w: subscribe packet identifier", err)
	}

	pkt.Props = &SubscribeProperties{}
	if err := pkt.Props.Unpack(buf); err != nil {
		return err
	}

	for buf.Len() != 0 {
		subscription := Subscription{}
		if subscription.TopicFilter, _, err = decodeUTF8[string](buf); err != nil {
			return err
		}
		if buf.Len() < 1 {
			return ErrMalformedInsufficientData
		}
		options := buf.Next(1)[0]
		subscription.MaximumQoS = options & 0b00000011
		if subscription.MaximumQoS > 0x02 {
			return ErrProtocolViolationQosOutOfRange
		}
		subscription.NoLocal = options&0b00000100>>2 == 1
		subscription.RetainAsPublished = options&0b00001000>>3 == 1
		subscription.RetainHandling = options & 0b00110000 >> 4
		if subscription.RetainHandling > 0x02 {
			return ErrMalformedFlags
		}
		// 订阅选项的bits 7-6是保留位，必须为0 [MQTT-3.8.3-5]
		if options&0b11000000 != 0 {
			return ErrMalformedFlags
		}
		pkt.Subscriptions = append(pkt.Subscriptions, subscription)
	}
	if len(pkt.Subscriptions) == 0 {
		return ErrProtocolViolationNoFilters
	}
	return nil
}

// Subscription 订阅项
// 参考章节: 3.8.3 SUBSCRIBE Payload
type Subscription struct {
	// TopicFilter 主题过滤器
	// 参考章节: 3.8.3, 4.7 Topic Names and Topic Filters
	// UTF-8编码字符串，支持 + (单层) 和 # (多层) 通配符
	TopicFilter string

	// MaximumQoS 最大QoS等级，订阅选项字节的bits 1-0
	MaximumQoS uint8

	// NoLocal 本地标志，bit 2
	// 为true时应用消息不会被转发给发布它的客户端 [MQTT-3.8.3-3]
	NoLocal bool

	// RetainAsPublished 保留为已发布标志，bit 3
	RetainAsPublished bool

	// RetainHandling 保留消息处理选项，bits 5-4
	// 0: 订阅建立时发送保留消息
	// 1: 只在订阅不存在时发送保留消息
	// 2: 不发送保留消息
	RetainHandling uint8
}

func (s *Subscription) String() string {
	return fmt.Sprintf("%s@%d", s.TopicFilter, s.MaximumQoS)
}

// options 组合订阅选项字节
// 参考章节: 3.8.3.1 Subscription Options
func (s *Subscription) options() (byte, error) {
	if s.MaximumQoS > 2 {
		return 0, ErrProtocolViolationQosOutOfRange
	}
	if s.RetainHandling > 2 {
		return 0, ErrMalformedFlags
	}
	options := s.MaximumQoS
	if s.NoLocal {
		options |= 1 << 2
	}
	if s.RetainAsPublished {
		options |= 1 << 3
	}
	options |= s.RetainHandling << 4
	return options, nil
}

// SubscribeProperties 订阅属性
// 参考章节: 3.8.2.1 SUBSCRIBE Properties
type SubscribeProperties struct {
	// SubscriptionIdentifier 订阅标识符 (0x0B)，非零
	// 参考章节: 3.8.2.1.2
	// 服务端会在每条匹配此订阅的PUBLISH报文中回显这个标识符，
	// 客户端据此把消息路由到正确的订阅流。
	SubscriptionIdentifier SubscriptionIdentifier

	// UserProperties 用户属性 (0x26)
	// 参考章节: 3.8.2.1.3
	UserProperties UserProperties
}

func (props *SubscribeProperties) pack(buf *bytes.Buffer) error {
	if err := props.SubscriptionIdentifier.Pack(buf); err != nil {
		return err
	}
	props.UserProperties.Pack(buf)
	return nil
}

func (props *SubscribeProperties) Unpack(buf *bytes.Buffer) error {
	r, err := newPropReader(0x8, buf)
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
		case PropSubscriptionIdentifier:
			uLen, err = props.SubscriptionIdentifier.Unpack(buf)
		case PropUserProperty:
			uLen, err = props.UserProperties.UnpackOne(buf)
		}
		if err != nil {
			return err
		}
		if err := r.consume(uLen); err != nil {
			return err
		}
	}
}
