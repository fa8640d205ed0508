package packet

import (
	"bytes"
	"fmt"
	"io"
)

// PUBREL 发布释放报文 (QoS 2交换的第二步)
//
// MQTT v5.0: 参考章节 3.6 PUBREL - Publish release
//
// 固定报头的bits 3-0必须是0,0,1,0，其他取值按Malformed Packet处理 [MQTT-3.6.1-1]。
// 只响应收到成功PUBREC的情况；对应的PUBCOMP到达后交换完成。
type PUBREL struct {
	*FixedHeader

	// PacketID 报文标识符，与整个QoS 2交换相同
	PacketID uint16

	// ReasonCode 原因码
	// 参考章节: 3.6.2.1 PUBREL Reason Code
	ReasonCode ReasonCode

	// Props 确认属性
	// 参考章节: 3.6.2.2 PUBREL Properties
	Props *AckProperties
}

// pubrelReasonCodes PUBREL/PUBCOMP共用的合法原因码集合
// 参考章节: 3.6.2.1 表3-6
var pubrelReasonCodes = map[uint8]ReasonCode{
	0x00: CodeSuccess,
	0x92: ErrPacketIdentifierNotFound,
}

// NewPUBREL 构建QoS 2续传用的PUBREL
func NewPUBREL(packetID uint16) *PUBREL {
	return &PUBREL{
		FixedHeader: &FixedHeader{Kind: 0x6, QoS: 1},
		PacketID:    packetID,
		ReasonCode:  CodeSuccess,
	}
}

func (pkt *PUBREL) Kind() byte {
	return 0x6
}

func (pkt *PUBREL) String() string {
	return fmt.Sprintf("[0x6]PUBREL: PacketID=%d, ReasonCode=%d", pkt.PacketID, pkt.ReasonCode.Code)
}

func (pkt *PUBREL) Pack(w io.Writer) error {
	// 固定报头标志位0b0010 [MQTT-3.6.1-1]
	pkt.FixedHeader.Dup, pkt.FixedHeader.QoS, pkt.FixedHeader.Retain = 0, 1, 0
	return packAck(w, pkt.FixedHeader, pkt.PacketID, pkt.ReasonCode, pkt.Props)
}

func (pkt *PUBREL) Unpack(buf *bytes.Buffer) error {
	return unpackAck(buf, 0x6, pubrelReasonCodes, &pkt.PacketID, &pkt.ReasonCode, &pkt.Props)
}
