package packet

import (
	"bytes"
	"fmt"
	"io"
)

// AUTH 认证交换报文
//
// MQTT v5.0: 参考章节 3.15 AUTH - Authentication exchange
//
// 报文结构:
// 固定报头: 报文类型0x0F，标志位必须为0 [MQTT-3.15.1-1]
// 可变报头: 认证原因码、认证属性
// 载荷: 无载荷
//
// 用于CONNECT设置了认证方法后的扩展认证流程 (参考章节 4.12):
// 双方用原因码0x18(继续认证)来回交换认证数据，服务端以CONNACK结束流程；
// 客户端也可以用0x19(重新认证)在会话中发起再认证。
//
// 短编码: 剩余长度为0时原因码取0x00(成功)且没有属性。
type AUTH struct {
	*FixedHeader

	// ReasonCode 认证原因码
	// 参考章节: 3.15.2.1 Authenticate Reason Code
	// 只允许0x00(成功)、0x18(继续认证)、0x19(重新认证)
	ReasonCode ReasonCode

	// Props 认证属性
	// 参考章节: 3.15.2.2 AUTH Properties
	Props *AuthProperties
}

// authReasonCodes AUTH合法原因码集合
// 参考章节: 3.15.2.1 表3-11
var authReasonCodes = map[uint8]ReasonCode{
	0x00: CodeSuccess,
	0x18: CodeContinueAuthentication,
	0x19: CodeReAuthenticate,
}

func (pkt *AUTH) Kind() byte {
	return 0xF
}

func (pkt *AUTH) String() string {
	return fmt.Sprintf("[0xF]AUTH: ReasonCode=0x%02X", pkt.ReasonCode.Code)
}

func (pkt *AUTH) Pack(w io.Writer) error {
	if _, err := lookupReasonCode(pkt.ReasonCode.Code, authReasonCodes); err != nil {
		return err
	}

	buf := GetBuffer()
	defer PutBuffer(buf)

	empty := pkt.Props == nil || pkt.Props.empty()
	if pkt.ReasonCode.Code != 0x00 || !empty {
		buf.WriteByte(pkt.ReasonCode.Code)
		if pkt.Props == nil {
			pkt.Props = &AuthProperties{}
		}
		if err := packProps(buf, pkt.Props.pack); err != nil {
			return err
		}
	}

	pkt.FixedHeader.RemainingLength = uint32(buf.Len())
	if err := pkt.FixedHeader.Pack(w); err != nil {
		return err
	}
	_, err := buf.WriteTo(w)
	return err
}

func (pkt *AUTH) Unpack(buf *bytes.Buffer) error {
	pkt.Props = &AuthProperties{}

	if buf.Len() == 0 {
		pkt.ReasonCode = CodeSuccess
		return nil
	}
	var err error
	if pkt.ReasonCode, err = lookupReasonCode(buf.Next(1)[0], authReasonCodes); err != nil {
		return err
	}
	if buf.Len() == 0 {
		return nil
	}
	return pkt.Props.Unpack(buf)
}

// AuthProperties 认证属性
// 参考章节: 3.15.2.2 AUTH Properties
type AuthProperties struct {
	// AuthenticationMethod 认证方法 (0x15)
	// 必须与CONNECT中的认证方法一致 [MQTT-4.12.0-5]
	AuthenticationMethod AuthenticationMethod

	// AuthenticationData 认证数据 (0x16)
	// 内容由认证方法定义
	AuthenticationData AuthenticationData

	// ReasonString 原因字符串 (0x1F)
	ReasonString ReasonString

	// UserProperties 用户属性 (0x26)
	UserProperties UserProperties
}

func (props *AuthProperties) empty() bool {
	return props.AuthenticationMethod == "" && len(props.AuthenticationData) == 0 &&
		props.ReasonString == "" && len(props.UserProperties) == 0
}

func (props *AuthProperties) pack(buf *bytes.Buffer) error {
	props.AuthenticationMethod.Pack(buf)
	props.AuthenticationData.Pack(buf)
	props.ReasonString.Pack(buf)
	props.UserProperties.Pack(buf)
	return nil
}

func (props *AuthProperties) Unpack(buf *bytes.Buffer) error {
	r, err := newPropReader(0xF, buf)
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
		case PropAuthenticationMethod:
			uLen, err = props.AuthenticationMethod.Unpack(buf)
		case PropAuthenticationData:
			uLen, err = props.AuthenticationData.Unpack(buf)
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
