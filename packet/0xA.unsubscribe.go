package packet

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// UNSUBSCRIBE 取消订阅报文
//
// MQTT v5.0: 参考章节 3.10 UNSUBSCRIBE - Unsubscribe request
//
// 固定报头的bits 3-0必须是0,0,1,0 [MQTT-3.10.1-1]。
// 载荷必须至少包含一个主题过滤器 [MQTT-3.10.3-2]。
type UNSUBSCRIBE struct {
	*FixedHeader

	// PacketID 报文标识符
	PacketID uint16

	// Props 取消订阅属性，只有用户属性
	// 参考章节: 3.10.2.1 UNSUBSCRIBE Properties
	Props *UnsubscribeProperties

	// TopicFilters 要取消的主题过滤器列表
	// 参考章节: 3.10.3 UNSUBSCRIBE Payload
	TopicFilters []string
}

func (pkt *UNSUBSCRIBE) Kind() byte {
	return 0xA
}

func (pkt *UNSUBSCRIBE) Pack(w io.Writer) error {
	buf := GetBuffer()
	defer PutBuffer(buf)

	if _, err := nonZero(pkt.PacketID); err != nil {
		return fmt.Errorf("%w: unsubscribe packet identifier", err)
	}
	if len(pkt.TopicFilters) == 0 {
		return ErrProtocolViolationNoFilters
	}

	buf.Write(i2b(pkt.PacketID))
	if pkt.Props == nil {
		pkt.Props = &UnsubscribeProperties{}
	}
	if err := packProps(buf, pkt.Props.pack); err != nil {
		return err
	}
	for _, filter := range pkt.TopicFilters {
		if filter == "" {
			return ErrProtocolViolationNoTopic
		}
		buf.Write(s2b(filter))
	}

	pkt.FixedHeader.Dup, pkt.FixedHeader.QoS, pkt.FixedHeader.Retain = 0, 1, 0
	pkt.FixedHeader.RemainingLength = uint32(buf.Len())
	if err := pkt.FixedHeader.Pack(w); err != nil {
		return err
	}
	_, err := buf.WriteTo(w)
	return err
}

func (pkt *UNSUBSCRIBE) Unpack(buf *bytes.Buffer) error {
	if buf.Len() < 2 {
		return ErrMalformedInsufficientData
	}
	var err error
	if pkt.PacketID, err = nonZero(binary.BigEndian.Uint16(buf.Next(2))); err != nil {
		return fmt.Errorf("%w: unsubscribe packet identifier", err)
	}

	pkt.Props = &UnsubscribeProperties{}
	if err := pkt.Props.Unpack(buf); err != nil {
		return err
	}

	for buf.Len() != 0 {
		filter, _, err := decodeUTF8[string](buf)
		if err != nil {
			return err
		}
		pkt.TopicFilters = append(pkt.TopicFilters, filter)
	}
	if len(pkt.TopicFilters) == 0 {
		return ErrProtocolViolationNoFilters
	}
	return nil
}

// UnsubscribeProperties 取消订阅属性
// 参考章节: 3.10.2.1 UNSUBSCRIBE Properties
type UnsubscribeProperties struct {
	// UserProperties 用户属性 (0x26)
	UserProperties UserProperties
}

func (props *UnsubscribeProperties) pack(buf *bytes.Buffer) error {
	props.UserProperties.Pack(buf)
	return nil
}

func (props *UnsubscribeProperties) Unpack(buf *bytes.Buffer) error {
	r, err := newPropReader(0xA, buf)
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
		if id == PropUserProperty {
			if uLen, err = props.UserProperties.UnpackOne(buf); err != nil {
				return err
			}
		}
		if err := r.consume(uLen); err != nil {
			return err
		}
	}
}
