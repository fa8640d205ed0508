package packet

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// SUBACK 订阅确认报文
//
// MQTT v5.0: 参考章节 3.9 SUBACK - Subscribe acknowledgement
//
// 报文结构:
// 固定报头: 报文类型0x09，标志位必须为0
// 可变报头: 报文标识符、订阅确认属性
// 载荷: 原因码列表，与SUBSCRIBE载荷中的主题过滤器一一对应 [MQTT-3.9.3-1]
type SUBACK struct {
	*FixedHeader

	// PacketID 报文标识符，与被确认的SUBSCRIBE相同
	PacketID uint16

	// Props 订阅确认属性
	// 参考章节: 3.9.2.1 SUBACK Properties
	Props *SubackProperties

	// ReasonCodes 每个主题过滤器的订阅结果
	// 参考章节: 3.9.3 SUBACK Payload
	ReasonCodes []ReasonCode
}

// subackReasonCodes SUBACK合法原因码集合
// 参考章节: 3.9.3 表3-8
var subackReasonCodes = map[uint8]ReasonCode{
	0x00: CodeGrantedQos0,
	0x01: CodeGrantedQos1,
	0x02: CodeGrantedQos2,
	0x80: ErrUnspecifiedError,
	0x83: ErrImplementationSpecificError,
	0x87: ErrNotAuthorized,
	0x8F: ErrTopicFilterInvalid,
	0x91: ErrPacketIdentifierInUse,
	0x97: ErrQuotaExceeded,
	0x9E: ErrSharedSubscriptionsNotSupported,
	0xA1: ErrSubscriptionIdentifiersNotSupported,
	0xA2: ErrWildcardSubscriptionsNotSupported,
}

func (pkt *SUBACK) Kind() byte {
	return 0x9
}

func (pkt *SUBACK) String() string {
	return fmt.Sprintf("[0x9]SUBACK: PacketID=%d, Reasons=%d", pkt.PacketID, len(pkt.ReasonCodes))
}

func (pkt *SUBACK) Pack(w io.Writer) error {
	buf := GetBuffer()
	defer PutBuffer(buf)

	if _, err := nonZero(pkt.PacketID); err != nil {
		return fmt.Errorf("%w: suback packet identifier", err)
	}
	if len(pkt.ReasonCodes) == 0 {
		return ErrProtocolViolationNoFilters
	}

	buf.Write(i2b(pkt.PacketID))
	if pkt.Props == nil {
		pkt.Props = &SubackProperties{}
	}
	if err := packProps(buf, pkt.Props.pack); err != nil {
		return err
	}
	for _, rc := range pkt.ReasonCodes {
		buf.WriteByte(rc.Code)
	}

	pkt.FixedHeader.RemainingLength = uint32(buf.Len())
	if err := pkt.FixedHeader.Pack(w); err != nil {
		return err
	}
	_, err := buf.WriteTo(w)
	return err
}

func (pkt *SUBACK) Unpack(buf *bytes.Buffer) error {
	if buf.Len() < 2 {
		return ErrMalformedInsufficientData
	}
	var err error
	if pkt.PacketID, err = nonZero(binary.BigEndian.Uint16(buf.Next(2))); err != nil {
		return fmt.Errorf("%w: suback packet identifier", err)
	}

	pkt.Props = &SubackProperties{}
	if err := pkt.Props.Unpack(buf); err != nil {
		return err
	}

	for buf.Len() != 0 {
		rc, err := lookupReasonCode(buf.Next(1)[0], subackReasonCodes)
		if err != nil {
			return err
		}
		pkt.ReasonCodes = append(pkt.ReasonCodes, rc)
	}
	if len(pkt.ReasonCodes) == 0 {
		return ErrProtocolViolationNoFilters
	}
	return nil
}

// SubackProperties 订阅确认属性
// 参考章节: 3.9.2.1 SUBACK Properties
type SubackProperties struct {
	// ReasonString 原因字符串 (0x1F)
	ReasonString ReasonString

	// UserProperties 用户属性 (0x26)
	UserProperties UserProperties
}

func (props *SubackProperties) pack(buf *bytes.Buffer) error {
	props.ReasonString.Pack(buf)
	props.UserProperties.Pack(buf)
	return nil
}

func (props *SubackProperties) Unpack(buf *bytes.Buffer) error {
	r, err := newPropReader(0x9, buf)
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
		case PropReasonString:
			uLen, err = props.ReasonString.Unpack(buf)
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
