package packet

import (
	"bytes"
	"fmt"
	"io"
)

// PUBCOMP 发布完成报文 (QoS 2交换的终点)
//
// MQTT v5.0: 参考章节 3.7 PUBCOMP - Publish complete
//
// 报文结构与PUBACK相同，合法原因码与PUBREL相同。
// 收到PUBCOMP后，发送方释放报文标识符，QoS 2交换结束。
type PUBCOMP struct {
	*FixedHeader

	// PacketID 报文标识符，与整个QoS 2交换相同
	PacketID uint16

	// ReasonCode 原因码
	// 参考章节: 3.7.2.1 PUBCOMP Reason Code
	ReasonCode ReasonCode

	// Props 确认属性
	// 参考章节: 3.7.2.2 PUBCOMP Properties
	Props *AckProperties
}

func (pkt *PUBCOMP) Kind() byte {
	return 0x7
}

func (pkt *PUBCOMP) String() string {
	return fmt.Sprintf("[0x7]PUBCOMP: PacketID=%d, ReasonCode=%d", pkt.PacketID, pkt.ReasonCode.Code)
}

func (pkt *PUBCOMP) Pack(w io.Writer) error {
	return packAck(w, pkt.FixedHeader, pkt.PacketID, pkt.ReasonCode, pkt.Props)
}

func (pkt *PUBCOMP) Unpack(buf *bytes.Buffer) error {
	return unpackAck(buf, 0x7, pubrelReasonCodes, &pkt.PacketID, &pkt.ReasonCode, &pkt.Props)
}
