package packet

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// PUBACK 发布确认报文 (QoS 1)
//
// MQTT v5.0: 参考章节 3.4 PUBACK - Publish acknowledgement
//
// 报文结构:
// 固定报头: 报文类型0x04，标志位必须为0
// 可变报头: 报文标识符、原因码、发布确认属性
// 载荷: 无载荷
//
// 短编码: 剩余长度为2时表示原因码0x00(成功)且没有属性 [3.4.2.1]。
// 剩余长度为3时原因码之后没有属性长度字段，属性为空。
// 本实现在成功且无属性时总是发出最短编码，解码接受全部三种形式。
type PUBACK struct {
	*FixedHeader

	// PacketID 报文标识符
	// 参考章节: 2.2.1 Packet Identifier
	// 与被确认的PUBLISH报文相同，范围1-65535
	PacketID uint16

	// ReasonCode 原因码
	// 参考章节: 3.4.2.1 PUBACK Reason Code
	ReasonCode ReasonCode

	// Props 发布确认属性
	// 参考章节: 3.4.2.2 PUBACK Properties
	Props *AckProperties
}

// pubackReasonCodes PUBACK/PUBREC共用的合法原因码集合
// 参考章节: 3.4.2.1 表3-4
var pubackReasonCodes = map[uint8]ReasonCode{
	0x00: CodeSuccess,
	0x10: CodeNoMatchingSubscribers,
	0x80: ErrUnspecifiedError,
	0x83: ErrImplementationSpecificError,
	0x87: ErrNotAuthorized,
	0x90: ErrTopicNameInvalid,
	0x91: ErrPacketIdentifierInUse,
	0x97: ErrQuotaExceeded,
	0x99: ErrPayloadFormatInvalid,
}

func (pkt *PUBACK) Kind() byte {
	return 0x4
}

func (pkt *PUBACK) String() string {
	return fmt.Sprintf("[0x4]PUBACK: PacketID=%d, ReasonCode=%d", pkt.PacketID, pkt.ReasonCode.Code)
}

func (pkt *PUBACK) Pack(w io.Writer) error {
	return packAck(w, pkt.FixedHeader, pkt.PacketID, pkt.ReasonCode, pkt.Props)
}

func (pkt *PUBACK) Unpack(buf *bytes.Buffer) error {
	return unpackAck(buf, 0x4, pubackReasonCodes, &pkt.PacketID, &pkt.ReasonCode, &pkt.Props)
}

// AckProperties PUBACK/PUBREC/PUBREL/PUBCOMP共用的确认属性
// 参考章节: 3.4.2.2 PUBACK Properties
// 四种确认报文的属性集合相同: 原因字符串和用户属性。
type AckProperties struct {
	// ReasonString 原因字符串 (0x1F)
	// 为诊断而设计的可读字符串，不应被接收方解析
	ReasonString ReasonString

	// UserProperties 用户属性 (0x26)，可出现多次
	UserProperties UserProperties
}

func (props *AckProperties) pack(buf *bytes.Buffer) error {
	props.ReasonString.Pack(buf)
	props.UserProperties.Pack(buf)
	return nil
}

func (props *AckProperties) empty() bool {
	return props == nil || (props.ReasonString == "" && len(props.UserProperties) == 0)
}

func (props *AckProperties) unpack(buf *bytes.Buffer, kind byte) error {
	r, err := newPropReader(kind, buf)
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

// packAck 四种确认报文共用的编码
// 成功且无属性时发出两字节短编码，仅原因码时省略属性长度字段。
func packAck(w io.Writer, fixed *FixedHeader, packetID uint16, reason ReasonCode, props *AckProperties) error {
	if _, err := nonZero(packetID); err != nil {
		return fmt.Errorf("%w: ack packet identifier", err)
	}

	buf := GetBuffer()
	defer PutBuffer(buf)

	buf.Write(i2b(packetID))
	switch {
	case reason.Code == 0 && props.empty():
		// 剩余长度2: 原因码0x00且无属性时可以省略原因码和属性长度
	case props.empty():
		buf.WriteByte(reason.Code)
	default:
		buf.WriteByte(reason.Code)
		if err := packProps(buf, props.pack); err != nil {
			return err
		}
	}

	fixed.RemainingLength = uint32(buf.Len())
	if err := fixed.Pack(w); err != nil {
		return err
	}
	_, err := buf.WriteTo(w)
	return err
}

// unpackAck 四种确认报文共用的解码，接受全部短编码形式
func unpackAck(buf *bytes.Buffer, kind byte, valid map[uint8]ReasonCode, packetID *uint16, reason *ReasonCode, props **AckProperties) error {
	if buf.Len() < 2 {
		return ErrMalformedInsufficientData
	}
	var err error
	if *packetID, err = nonZero(binary.BigEndian.Uint16(buf.Next(2))); err != nil {
		return fmt.Errorf("%w: ack packet identifier", err)
	}

	*props = &AckProperties{}
	// 剩余长度为2时原因码取0x00(成功)，小于4时没有属性 [3.4.2.1]
	if buf.Len() == 0 {
		*reason = CodeSuccess
		return nil
	}
	if *reason, err = lookupReasonCode(buf.Next(1)[0], valid); err != nil {
		return err
	}
	if buf.Len() == 0 {
		return nil
	}
	return (*props).unpack(buf, kind)
}
