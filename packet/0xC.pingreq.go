package packet

import (
	"bytes"
	"io"
)

// PINGREQ 心跳请求报文
//
// MQTT v5.0: 参考章节 3.12 PINGREQ - PING request
//
// 没有可变报头和载荷，剩余长度固定为0。
// 客户端在保持连接时间内没有任何其他报文发送给服务端时，
// 必须发送PINGREQ报文 [MQTT-3.1.2-20]。
type PINGREQ struct {
	*FixedHeader
}

func (pkt *PINGREQ) Kind() byte {
	return 0xC
}

func (pkt *PINGREQ) Pack(w io.Writer) error {
	pkt.FixedHeader.RemainingLength = 0
	return pkt.FixedHeader.Pack(w)
}

func (pkt *PINGREQ) Unpack(buf *bytes.Buffer) error {
	if buf.Len() != 0 {
		return ErrMalformedPacket
	}
	return nil
}
