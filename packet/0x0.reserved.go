package packet

import (
	"bytes"
	"io"
)

// RESERVED 类型0x0是保留值，任何方向都禁止发送
// 参考章节: 2.1.2 MQTT Control Packet type
// 解码器只在报告错误时携带这个结构，它永远无法合法地出现在连接上。
type RESERVED struct {
	*FixedHeader
}

func (pkt *RESERVED) Kind() byte {
	return 0x0
}

func (pkt *RESERVED) Pack(io.Writer) error {
	return ErrMalformedPacketHeader
}

func (pkt *RESERVED) Unpack(*bytes.Buffer) error {
	return ErrMalformedPacketHeader
}
