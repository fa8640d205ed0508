package packet

import (
	"bytes"
	"fmt"
	"io"
)

// Packet 定义了MQTT v5.0控制报文的通用接口
//
// MQTT v5.0 (OASIS Standard, 7 March 2019):
// - 参考章节: 2.1 Structure of an MQTT Control Packet
// - 每个控制报文都包含固定报头和可变报头，某些报文还包含载荷
// - v5.0的属性(Properties)系统允许在报文中携带额外的控制信息
type Packet interface {
	// Kind 返回报文的类型标识符
	// 位置: 固定报头第1字节的bits 7-4，范围 0x01-0x0F
	Kind() byte

	// Unpack 从缓冲区解析可变报头和载荷
	// 调用方已经解析固定报头并把剩余长度对应的字节读入缓冲区。
	// 解析顺序: 可变报头 -> 属性 -> 载荷(如果有)
	Unpack(*bytes.Buffer) error

	// Pack 将完整报文(含固定报头)序列化到写入器
	// 序列化顺序: 固定报头 -> 可变报头 -> 属性 -> 载荷(如果有)
	Pack(io.Writer) error
}

// New 按类型标识符创建空报文结构
// 类型0x0是保留值，收到它按Malformed Packet处理 [MQTT-2.1.2-1]。
func New(fixed *FixedHeader) (Packet, error) {
	switch fixed.Kind {
	case 0x1:
		return &CONNECT{FixedHeader: fixed}, nil
	case 0x2:
		return &CONNACK{FixedHeader: fixed}, nil
	case 0x3:
		return &PUBLISH{FixedHeader: fixed}, nil
	case 0x4:
		return &PUBACK{FixedHeader: fixed}, nil
	case 0x5:
		return &PUBREC{FixedHeader: fixed}, nil
	case 0x6:
		return &PUBREL{FixedHeader: fixed}, nil
	case 0x7:
		return &PUBCOMP{FixedHeader: fixed}, nil
	case 0x8:
		return &SUBSCRIBE{FixedHeader: fixed}, nil
	case 0x9:
		return &SUBACK{FixedHeader: fixed}, nil
	case 0xA:
		return &UNSUBSCRIBE{FixedHeader: fixed}, nil
	case 0xB:
		return &UNSUBACK{FixedHeader: fixed}, nil
	case 0xC:
		return &PINGREQ{FixedHeader: fixed}, nil
	case 0xD:
		return &PINGRESP{FixedHeader: fixed}, nil
	case 0xE:
		return &DISCONNECT{FixedHeader: fixed}, nil
	case 0xF:
		return &AUTH{FixedHeader: fixed}, nil
	default:
		return &RESERVED{FixedHeader: fixed}, fmt.Errorf("%w: type 0x%X", ErrMalformedPacketHeader, fixed.Kind)
	}
}

// Unpack 从读取器解析一个完整的MQTT控制报文
//
// 解析流程参考章节 2.1 Structure of an MQTT Control Packet:
//  1. 解析固定报头获取报文类型和剩余长度
//  2. 读满剩余长度对应的字节
//  3. 根据报文类型解析可变报头和载荷
func Unpack(r io.Reader) (Packet, error) {
	fixed := &FixedHeader{}
	if err := fixed.Unpack(r); err != nil {
		return nil, err
	}

	buf := GetBuffer()
	defer PutBuffer(buf)

	if _, err := buf.ReadFrom(io.LimitReader(r, int64(fixed.RemainingLength))); err != nil {
		return nil, err
	}
	if uint32(buf.Len()) != fixed.RemainingLength {
		return nil, io.ErrUnexpectedEOF
	}

	pkt, err := New(fixed)
	if err != nil {
		return pkt, err
	}
	return pkt, pkt.Unpack(buf)
}
