package packet

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// NAME 协议名，固定为"MQTT"
// 参考章节: 3.1.2.1 Protocol Name
// 编码: 0x00 0x04 'M' 'Q' 'T' 'T'
var NAME = []byte{0x00, 0x04, 'M', 'Q', 'T', 'T'}

// CONNECT 客户端连接请求报文
//
// MQTT v5.0: 参考章节 3.1 CONNECT - Connection Request
//
// 报文结构:
// 固定报头: 报文类型0x01，标志位必须为0
// 可变报头: 协议名、协议级别(5)、连接标志、保持连接、连接属性
// 载荷: 客户端ID、遗嘱属性/主题/载荷(可选)、用户名密码(可选)
//
// 协议约束:
//  1. 客户端在一个网络连接上只能发送一次CONNECT报文 [MQTT-3.1.0-2]
//  2. 如果WillFlag=0，WillQoS和WillRetain必须为0 [MQTT-3.1.2-11]
//  3. 如果UserNameFlag=0，PasswordFlag必须为0 [MQTT-3.1.2-22]
//  4. Reserved位必须为0 [MQTT-3.1.2-3]
type CONNECT struct {
	*FixedHeader

	// ConnectFlags 连接标志，8位标志字段
	// 参考章节: 3.1.2.3 Connect Flags
	// 编码时根据下面字段的取值重新推导，解码时保存原始字节。
	ConnectFlags ConnectFlags

	// CleanStart 清理会话标志
	// 参考章节: 3.1.2.4 Clean Start
	CleanStart bool

	// KeepAlive 保持连接时间间隔
	// 参考章节: 3.1.2.10 Keep Alive
	// 单位: 秒，0表示禁用保持连接机制
	KeepAlive uint16

	// Props 连接属性
	// 参考章节: 3.1.2.11 CONNECT Properties
	Props *ConnectProperties `json:"Properties,omitempty"`

	// ClientID 客户端标识符
	// 参考章节: 3.1.3.1 Client Identifier
	// 要求: UTF-8编码字符串；空字符串表示请求服务端自动分配
	ClientID string `json:"ClientID,omitempty"`

	// 遗嘱消息: WillFlag由WillTopic/WillPayload是否同时存在推导
	// 参考章节: 3.1.3.2 Will Properties, 3.1.3.3 Will Topic, 3.1.3.4 Will Payload
	WillProperties *WillProperties `json:"Will,omitempty"`
	WillTopic      string
	WillPayload    []byte
	WillQoS        uint8
	WillRetain     uint8

	// Username 用户名
	// 参考章节: 3.1.3.5 User Name
	Username string `json:"Username,omitempty"`

	// Password 密码
	// 参考章节: 3.1.3.6 Password
	// 二进制数据，尽管称为密码，但可承载任何认证信息
	Password []byte `json:"Password,omitempty"`
}

func (pkt *CONNECT) Kind() byte {
	return 0x1
}

func (pkt *CONNECT) String() string {
	return fmt.Sprintf("[0x1]CONNECT: ClientID=%s", pkt.ClientID)
}

func (pkt *CONNECT) Pack(w io.Writer) error {
	buf := GetBuffer()
	defer PutBuffer(buf)

	// 协议名 "MQTT" + 协议级别
	// 参考章节: 3.1.2.1 Protocol Name, 3.1.2.2 Protocol Version
	buf.Write(NAME)
	buf.WriteByte(VERSION500)

	// 构建连接标志字节
	// 参考章节: 3.1.2.3 Connect Flags
	uf := s2i(pkt.Username) // UserNameFlag - bit 7
	pf := s2i(pkt.Password) // PasswordFlag - bit 6
	wr := uint8(0)          // WillRetain - bit 5
	wq := uint8(0)          // WillQoS - bits 4-3
	wf := uint8(0)          // WillFlag - bit 2
	cs := uint8(0)          // CleanStart - bit 1

	if pkt.WillTopic != "" || pkt.WillPayload != nil {
		// 遗嘱标志为1时载荷中必须同时包含遗嘱主题和遗嘱载荷 [MQTT-3.1.2-9]
		if pkt.WillTopic == "" || pkt.WillPayload == nil {
			return ErrProtocolViolationWillNoPayload
		}
		if pkt.WillQoS > 2 {
			return ErrProtocolViolationQosOutOfRange
		}
		wf, wq, wr = 1, pkt.WillQoS, pkt.WillRetain
	}
	if pkt.CleanStart {
		cs = 1
	}
	flags := uf<<7 | pf<<6 | wr<<5 | wq<<3 | wf<<2 | cs<<1
	pkt.ConnectFlags = ConnectFlags(flags)
	buf.WriteByte(flags)

	// 保持连接
	// 参考章节: 3.1.2.10 Keep Alive
	buf.Write(i2b(pkt.KeepAlive))

	// 连接属性
	if pkt.Props == nil {
		pkt.Props = &ConnectProperties{}
	}
	if err := packProps(buf, pkt.Props.pack); err != nil {
		return err
	}

	// 载荷
	// 参考章节: 3.1.3 CONNECT Payload
	buf.Write(s2b(pkt.ClientID))
	if wf == 1 {
		if pkt.WillProperties == nil {
			pkt.WillProperties = &WillProperties{}
		}
		if err := packProps(buf, pkt.WillProperties.pack); err != nil {
			return err
		}
		buf.Write(s2b(pkt.WillTopic))
		buf.Write(s2b(pkt.WillPayload))
	}
	if pkt.Username != "" {
		buf.Write(s2b(pkt.Username))
	}
	if len(pkt.Password) != 0 {
		buf.Write(s2b(pkt.Password))
	}

	pkt.FixedHeader.RemainingLength = uint32(buf.Len())
	if err := pkt.FixedHeader.Pack(w); err != nil {
		return err
	}
	_, err := buf.WriteTo(w)
	return err
}

func (pkt *CONNECT) Unpack(buf *bytes.Buffer) error {
	// 协议名
	// 参考章节: 3.1.2.1 Protocol Name
	if buf.Len() < len(NAME)+1 {
		return ErrMalformedInsufficientData
	}
	if name := buf.Next(6); !bytes.Equal(name, NAME) {
		return fmt.Errorf("%w: %v", ErrMalformedProtocolName, name)
	}

	// 协议级别，本库只接受5
	// 参考章节: 3.1.2.2 Protocol Version
	if version := buf.Next(1)[0]; version != VERSION500 {
		return fmt.Errorf("%w: %d", ErrMalformedProtocolVersion, version)
	}

	if buf.Len() < 3 {
		return ErrMalformedInsufficientData
	}
	pkt.ConnectFlags = ConnectFlags(buf.Next(1)[0])

	// The Server MUST validate that the reserved flag in the CONNECT packet is
	// set to 0 [MQTT-3.1.2-3].
	if pkt.ConnectFlags.Reserved() != 0 {
		return ErrMalformedFlags
	}
	// 遗嘱QoS的值不能等于3 [MQTT-3.1.2-12]
	if pkt.ConnectFlags.WillQoS() > 2 {
		return ErrProtocolViolationQosOutOfRange
	}
	// 遗嘱标志为0时，Will QoS和Will Retain必须为0 [MQTT-3.1.2-11], [MQTT-3.1.2-13]
	if !pkt.ConnectFlags.WillFlag() && (pkt.ConnectFlags.WillRetain() || pkt.ConnectFlags.WillQoS() != 0) {
		return ErrProtocolErr
	}
	// 用户名标志为0时，密码标志必须为0 [MQTT-3.1.2-22]
	if !pkt.ConnectFlags.UserNameFlag() && pkt.ConnectFlags.PasswordFlag() {
		return ErrMalformedFlags
	}
	pkt.CleanStart = pkt.ConnectFlags.CleanStart()

	pkt.KeepAlive = binary.BigEndian.Uint16(buf.Next(2))

	pkt.Props = &ConnectProperties{}
	if err := pkt.Props.Unpack(buf); err != nil {
		return err
	}

	var err error
	if pkt.ClientID, _, err = decodeUTF8[string](buf); err != nil {
		return err
	}

	if pkt.ConnectFlags.WillFlag() {
		pkt.WillQoS, pkt.WillRetain = pkt.ConnectFlags.WillQoS(), 0
		if pkt.ConnectFlags.WillRetain() {
			pkt.WillRetain = 1
		}
		pkt.WillProperties = &WillProperties{}
		if err := pkt.WillProperties.Unpack(buf); err != nil {
			return err
		}
		if pkt.WillTopic, _, err = decodeUTF8[string](buf); err != nil {
			return err
		}
		if pkt.WillPayload, _, err = decodeUTF8[[]byte](buf); err != nil {
			return err
		}
		if pkt.WillTopic == "" {
			return ErrProtocolViolationWillNoPayload
		}
	}

	if pkt.ConnectFlags.UserNameFlag() {
		if pkt.Username, _, err = decodeUTF8[string](buf); err != nil {
			return err
		}
	}
	if pkt.ConnectFlags.PasswordFlag() {
		if pkt.Password, _, err = decodeUTF8[[]byte](buf); err != nil {
			return err
		}
	}
	return nil
}

// packProps 编码一个属性块: 先写属性长度(变长字节整数)，再写属性本体
func packProps(buf *bytes.Buffer, pack func(*bytes.Buffer) error) error {
	tmp := GetBuffer()
	defer PutBuffer(tmp)
	if err := pack(tmp); err != nil {
		return err
	}
	propsLen, err := encodeLength(tmp.Len())
	if err != nil {
		return err
	}
	buf.Write(propsLen)
	_, err = tmp.WriteTo(buf)
	return err
}

// ConnectProperties CONNECT报文可变报头中的属性
// 参考章节: 3.1.2.11 CONNECT Properties
type ConnectProperties struct {
	// SessionExpiryInterval 会话过期间隔 (0x11)
	// 参考章节: 3.1.2.11.2
	// 0: 会话在网络连接关闭时结束; 0xFFFFFFFF: 永不过期
	SessionExpiryInterval SessionExpiryInterval

	// ReceiveMaximum 接收最大值 (0x21)
	// 参考章节: 3.1.2.11.3
	// 客户端愿意同时处理的QoS 1和QoS 2发布消息最大数量，取值为0是协议错误
	ReceiveMaximum ReceiveMaximum

	// MaximumPacketSize 最大报文长度 (0x27)
	// 参考章节: 3.1.2.11.4
	MaximumPacketSize MaximumPacketSize

	// TopicAliasMaximum 主题别名最大值 (0x22)
	// 参考章节: 3.1.2.11.5
	TopicAliasMaximum TopicAliasMaximum

	// RequestResponseInformation 请求响应信息 (0x19)
	// 参考章节: 3.1.2.11.6
	RequestResponseInformation RequestResponseInformation

	// RequestProblemInformation 请求问题信息 (0x17)
	// 参考章节: 3.1.2.11.7
	RequestProblemInformation RequestProblemInformation

	// UserProperties 用户属性 (0x26)，可出现多次
	// 参考章节: 3.1.2.11.8
	UserProperties UserProperties

	// AuthenticationMethod 认证方法 (0x15)
	// 参考章节: 3.1.2.11.9, 4.12 Enhanced authentication
	// 设置后进入扩展认证流程，期间客户端只能发送AUTH或DISCONNECT [MQTT-3.1.2-30]
	AuthenticationMethod AuthenticationMethod

	// AuthenticationData 认证数据 (0x16)
	// 参考章节: 3.1.2.11.10
	// 没有认证方法却包含认证数据是协议错误
	AuthenticationData AuthenticationData
}

func (props *ConnectProperties) pack(buf *bytes.Buffer) error {
	if props.AuthenticationMethod == "" && len(props.AuthenticationData) != 0 {
		return fmt.Errorf("%w: authentication data without method", ErrProtocolErr)
	}
	props.SessionExpiryInterval.Pack(buf)
	props.ReceiveMaximum.Pack(buf)
	props.MaximumPacketSize.Pack(buf)
	props.TopicAliasMaximum.Pack(buf)
	props.RequestResponseInformation.Pack(buf)
	props.RequestProblemInformation.Pack(buf)
	props.UserProperties.Pack(buf)
	props.AuthenticationMethod.Pack(buf)
	props.AuthenticationData.Pack(buf)
	return nil
}

func (props *ConnectProperties) Unpack(buf *bytes.Buffer) error {
	r, err := newPropReader(0x1, buf)
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
		case PropSessionExpiryInterval:
			uLen, err = props.SessionExpiryInterval.Unpack(buf)
		case PropReceiveMaximum:
			uLen, err = props.ReceiveMaximum.Unpack(buf)
		case PropMaximumPacketSize:
			uLen, err = props.MaximumPacketSize.Unpack(buf)
		case PropTopicAliasMaximum:
			uLen, err = props.TopicAliasMaximum.Unpack(buf)
		case PropRequestResponseInformation:
			uLen, err = props.RequestResponseInformation.Unpack(buf)
		case PropRequestProblemInformation:
			uLen, err = props.RequestProblemInformation.Unpack(buf)
		case PropUserProperty:
			uLen, err = props.UserProperties.UnpackOne(buf)
		case PropAuthenticationMethod:
			uLen, err = props.AuthenticationMethod.Unpack(buf)
		case PropAuthenticationData:
			uLen, err = props.AuthenticationData.Unpack(buf)
		}
		if err != nil {
			return err
		}
		if err := r.consume(uLen); err != nil {
			return err
		}
	}
}

// WillProperties 遗嘱属性
// 参考章节: 3.1.3.2 Will Properties
// 位置: 载荷中，客户端ID之后(WillFlag=1时)
type WillProperties struct {
	// WillDelayInterval 遗嘱延时间隔 (0x18)
	// 参考章节: 3.1.3.2.2
	// 服务端在延时到期或会话结束时发布遗嘱消息，取决于两者谁先发生
	WillDelayInterval WillDelayInterval

	// PayloadFormatIndicator 载荷格式指示 (0x01)
	// 参考章节: 3.1.3.2.3
	PayloadFormatIndicator PayloadFormatIndicator

	// MessageExpiryInterval 消息过期间隔 (0x02)
	// 参考章节: 3.1.3.2.4
	MessageExpiryInterval MessageExpiryInterval

	// ContentType 内容类型 (0x03)
	// 参考章节: 3.1.3.2.5
	ContentType ContentType

	// ResponseTopic 响应主题 (0x08)
	// 参考章节: 3.1.3.2.6
	ResponseTopic ResponseTopic

	// CorrelationData 对比数据 (0x09)
	// 参考章节: 3.1.3.2.7
	CorrelationData CorrelationData

	// UserProperties 用户属性 (0x26)
	// 参考章节: 3.1.3.2.8
	// 服务端发布遗嘱消息时必须维护用户属性的顺序 [MQTT-3.1.3-10]
	UserProperties UserProperties
}

func (props *WillProperties) pack(buf *bytes.Buffer) error {
	props.WillDelayInterval.Pack(buf)
	props.PayloadFormatIndicator.Pack(buf)
	props.MessageExpiryInterval.Pack(buf)
	props.ContentType.Pack(buf)
	props.ResponseTopic.Pack(buf)
	props.CorrelationData.Pack(buf)
	props.UserProperties.Pack(buf)
	return nil
}

func (props *WillProperties) Unpack(buf *bytes.Buffer) error {
	r, err := newPropReader(willPropertiesKind, buf)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedWillProperties, err)
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
		case PropWillDelayInterval:
			uLen, err = props.WillDelayInterval.Unpack(buf)
		case PropPayloadFormatIndicator:
			uLen, err = props.PayloadFormatIndicator.Unpack(buf)
		case PropMessageExpiryInterval:
			uLen, err = props.MessageExpiryInterval.Unpack(buf)
		case PropContentType:
			uLen, err = props.ContentType.Unpack(buf)
		case PropResponseTopic:
			uLen, err = props.ResponseTopic.Unpack(buf)
		case PropCorrelationData:
			uLen, err = props.CorrelationData.Unpack(buf)
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

// ConnectFlags 连接标志，8位标志字段
// 参考章节: 3.1.2.3 Connect Flags
//
// ┌─────┬─────┬─────┬─────┬─────┬─────┬─────┬─────┐
// │ bit7│ bit6│ bit5│ bit4│ bit3│ bit2│ bit1│ bit0│
// │User │Pass │Will │Will │Will │Will │Clean│Resv │
// │Name │word │Ret  │QoS  │QoS  │Flag │Start│     │
// │Flag │Flag │     │MSB  │LSB  │     │     │     │
// └─────┴─────┴─────┴─────┴─────┴─────┴─────┴─────┘
type ConnectFlags uint8

// Reserved 保留位，位置: bit 0，必须为0 [MQTT-3.1.2-3]
func (f ConnectFlags) Reserved() uint8 {
	return uint8(f) & 0x01
}

// CleanStart 清理会话标志，位置: bit 1
// 参考章节: 3.1.2.4 Clean Start
func (f ConnectFlags) CleanStart() bool {
	return (uint8(f) & 0x02) == 0x02
}

// WillFlag 遗嘱标志，位置: bit 2
// 参考章节: 3.1.2.5 Will Flag
func (f ConnectFlags) WillFlag() bool {
	return (uint8(f) & 0x04) == 0x04
}

// WillQoS 遗嘱QoS等级，位置: bits 4-3
// 参考章节: 3.1.2.6 Will QoS
func (f ConnectFlags) WillQoS() uint8 {
	return (uint8(f) & 0x18) >> 3
}

// WillRetain 遗嘱保留标志，位置: bit 5
// 参考章节: 3.1.2.7 Will Retain
func (f ConnectFlags) WillRetain() bool {
	return (uint8(f) & 0x20) == 0x20
}

// PasswordFlag 密码标志，位置: bit 6
// 参考章节: 3.1.2.9 Password Flag
func (f ConnectFlags) PasswordFlag() bool {
	return (uint8(f) & 0x40) == 0x40
}

// UserNameFlag 用户名标志，位置: bit 7
// 参考章节: 3.1.2.8 User Name Flag
func (f ConnectFlags) UserNameFlag() bool {
	return (uint8(f) & 0x80) == 0x80
}
