package packet

import (
	"bytes"
	"io"
)

// PINGRESP 心跳响应报文
//
// MQTT v5.0: 参考章节 3.13 PINGRESP - PING response
//
// 服务端必须发送PINGRESP响应客户端的PINGREQ [MQTT-3.12.4-1]。
// 没有可变报头和载荷。
type PINGRESP struct {
	*FixedHeader
}

func (pkt *PINGRESP) Kind() byte {
	return 0xD
}

func (pkt *PINGRESP) Pack(w io.Writer) error {
	pkt.FixedHeader.RemainingLength = 0
	return pkt.FixedHeader.Pack(w)
}

func (pkt *PINGRESP) Unpack(buf *bytes.Buffer) error {
	if buf.Len() != 0 {
		return ErrMalformedPacket
	}
	return nil
}
