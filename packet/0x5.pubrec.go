package packet

import (
	"bytes"
	"fmt"
	"io"
)

// PUBREC 发布收到报文 (QoS 2交换的第一步应答)
//
// MQTT v5.0: 参考章节 3.5 PUBREC - Publish received
//
// 报文结构与PUBACK相同: 报文标识符、原因码、确认属性，支持短编码。
// 原因码 >= 0x80 时发送方不再发送PUBREL，本次交换终止。
type PUBREC struct {
	*FixedHeader

	// PacketID 报文标识符，与被确认的PUBLISH相同
	PacketID uint16

	// ReasonCode 原因码
	// 参考章节: 3.5.2.1 PUBREC Reason Code，合法集合与PUBACK相同
	ReasonCode ReasonCode

	// Props 确认属性
	// 参考章节: 3.5.2.2 PUBREC Properties
	Props *AckProperties
}

func (pkt *PUBREC) Kind() byte {
	return 0x5
}

func (pkt *PUBREC) String() string {
	return fmt.Sprintf("[0x5]PUBREC: PacketID=%d, ReasonCode=%d", pkt.PacketID, pkt.ReasonCode.Code)
}

func (pkt *PUBREC) Pack(w io.Writer) error {
	return packAck(w, pkt.FixedHeader, pkt.PacketID, pkt.ReasonCode, pkt.Props)
}

func (pkt *PUBREC) Unpack(buf *bytes.Buffer) error {
	return unpackAck(buf, 0x5, pubackReasonCodes, &pkt.PacketID, &pkt.ReasonCode, &pkt.Props)
}
