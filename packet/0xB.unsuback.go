package packet

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// UNSUBACK 取消订阅确认报文
//
// MQTT v5.0: 参考章节 3.11 UNSUBACK - Unsubscribe acknowledgement
//
// 载荷是原因码列表，与UNSUBSCRIBE载荷中的主题过滤器一一对应 [MQTT-3.11.3-1]。
type UNSUBACK struct {
	*FixedHeader

	// PacketID 报文标识符，与被确认的UNSUBSCRIBE相同
	PacketID uint16

	// Props 取消订阅确认属性
	// 参考章节: 3.11.2.1 UNSUBACK Properties
	Props *SubackProperties

	// ReasonCodes 每个主题过滤器的取消订阅结果
	// 参考章节: 3.11.3 UNSUBACK Payload
	ReasonCodes []ReasonCode
}

// unsubackReasonCodes UNSUBACK合法原因码集合
// 参考章节: 3.11.3 表3-9
var unsubackReasonCodes = map[uint8]ReasonCode{
	0x00: CodeSuccess,
	0x11: CodeNoSubscriptionExisted,
	0x80: ErrUnspecifiedError,
	0x83: ErrImplementationSpecificError,
	0x87: ErrNotAuthorized,
	0x8F: ErrTopicFilterInvalid,
	0x91: ErrPacketIdentifierInUse,
}

func (pkt *UNSUBACK) Kind() byte {
	return 0xB
}

func (pkt *UNSUBACK) String() string {
	return fmt.Sprintf("[0xB]UNSUBACK: PacketID=%d, Reasons=%d", pkt.PacketID, len(pkt.ReasonCodes))
}

func (pkt *UNSUBACK) Pack(w io.Writer) error {
	buf := GetBuffer()
	defer PutBuffer(buf)

	if _, err := nonZero(pkt.PacketID); err != nil {
		return fmt.Errorf("%w: unsuback packet identifier", err)
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

func (pkt *UNSUBACK) Unpack(buf *bytes.Buffer) error {
	if buf.Len() < 2 {
		return ErrMalformedInsufficientData
	}
	var err error
	if pkt.PacketID, err = nonZero(binary.BigEndian.Uint16(buf.Next(2))); err != nil {
		return fmt.Errorf("%w: unsuback packet identifier", err)
	}

	// UNSUBACK的属性集合与SUBACK相同，但属性合法性按自己的类型校验
	pkt.Props = &SubackProperties{}
	r, err := newPropReader(0xB, buf)
	if err != nil {
		return err
	}
	for {
		id, ok, err := r.next(buf)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		var uLen uint32
		switch id {
		case PropReasonString:
			uLen, err = pkt.Props.ReasonString.Unpack(buf)
		case PropUserProperty:
			uLen, err = pkt.Props.UserProperties.UnpackOne(buf)
		}
		if err != nil {
			return err
		}
		if err := r.consume(uLen); err != nil {
			return err
		}
	}

	for buf.Len() != 0 {
		rc, err := lookupReasonCode(buf.Next(1)[0], unsubackReasonCodes)
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
