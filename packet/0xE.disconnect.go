package packet

import (
	"bytes"
	"fmt"
	"io"
)

// DISCONNECT 断开连接报文
//
// MQTT v5.0: 参考章节 3.14 DISCONNECT - Disconnect notification
//
// 报文结构:
// 固定报头: 报文类型0x0E，标志位必须为0 [MQTT-3.14.1-1]
// 可变报头: 断开原因码、断开属性
// 载荷: 无载荷
//
// 短编码: 剩余长度为0时原因码取0x00(正常断开)且没有属性 [3.14.2.1]，
// 剩余长度为1时只有原因码。本实现在正常断开且无属性时发出零长度编码。
type DISCONNECT struct {
	*FixedHeader `json:"FixedHeader,omitempty"`

	// ReasonCode 断开原因码
	// 参考章节: 3.14.2.1 Disconnect Reason Code
	ReasonCode ReasonCode

	// Props 断开属性
	// 参考章节: 3.14.2.2 DISCONNECT Properties
	Props *DisconnectProperties
}

// disconnectReasonCodes DISCONNECT合法原因码集合
// 参考章节: 3.14.2.1 表3-10
var disconnectReasonCodes = map[uint8]ReasonCode{
	0x00: CodeDisconnect,
	0x04: CodeDisconnectWillMessage,
	0x80: ErrUnspecifiedError,
	0x81: ErrMalformedPacket,
	0x82: ErrProtocolErr,
	0x83: ErrImplementationSpecificError,
	0x87: ErrNotAuthorized,
	0x89: ErrServerBusy,
	0x8B: ErrServerShuttingDown,
	0x8D: ErrKeepAliveTimeout,
	0x8E: ErrSessionTakenOver,
	0x8F: ErrTopicFilterInvalid,
	0x90: ErrTopicNameInvalid,
	0x93: ErrReceiveMaximumExceeded,
	0x94: ErrTopicAliasInvalid,
	0x95: ErrPacketTooLarge,
	0x96: ErrMessageRateTooHigh,
	0x97: ErrQuotaExceeded,
	0x98: ErrAdministrativeAction,
	0x99: ErrPayloadFormatInvalid,
	0x9A: ErrRetainNotSupported,
	0x9B: ErrQosNotSupported,
	0x9C: ErrUseAnotherServer,
	0x9D: ErrServerMoved,
	0x9E: ErrSharedSubscriptionsNotSupported,
	0x9F: ErrConnectionRateExceeded,
	0xA0: ErrMaxConnectTime,
	0xA1: ErrSubscriptionIdentifiersNotSupported,
	0xA2: ErrWildcardSubscriptionsNotSupported,
}

// NewDISCONNECT 构建DISCONNECT报文
func NewDISCONNECT(reason ReasonCode) *DISCONNECT {
	return &DISCONNECT{
		FixedHeader: &FixedHeader{Kind: 0xE},
		ReasonCode:  reason,
		Props:       &DisconnectProperties{},
	}
}

func (pkt *DISCONNECT) Kind() byte {
	return 0xE
}

func (pkt *DISCONNECT) String() string {
	return fmt.Sprintf("[0xE]DISCONNECT: ReasonCode=0x%02X", pkt.ReasonCode.Code)
}

func (pkt *DISCONNECT) Pack(w io.Writer) error {
	if _, err := lookupReasonCode(pkt.ReasonCode.Code, disconnectReasonCodes); err != nil {
		return err
	}

	buf := GetBuffer()
	defer PutBuffer(buf)

	empty := pkt.Props == nil || pkt.Props.empty()
	switch {
	case pkt.ReasonCode.Code == 0x00 && empty:
		// 剩余长度0: 正常断开且无属性
	case empty:
		buf.WriteByte(pkt.ReasonCode.Code)
	default:
		buf.WriteByte(pkt.ReasonCode.Code)
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

func (pkt *DISCONNECT) Unpack(buf *bytes.Buffer) error {
	pkt.Props = &DisconnectProperties{}

	// 剩余长度小于1时原因码取0x00(正常断开) [3.14.2.1]
	if buf.Len() == 0 {
		pkt.ReasonCode = CodeDisconnect
		return nil
	}
	var err error
	if pkt.ReasonCode, err = lookupReasonCode(buf.Next(1)[0], disconnectReasonCodes); err != nil {
		return err
	}
	if buf.Len() == 0 {
		return nil
	}
	return pkt.Props.Unpack(buf)
}

// DisconnectProperties 断开属性
// 参考章节: 3.14.2.2 DISCONNECT Properties
type DisconnectProperties struct {
	// SessionExpiryInterval 会话过期间隔 (0x11)
	// 参考章节: 3.14.2.2.2
	// 服务端发出的DISCONNECT不能携带此属性 [MQTT-3.14.2-2]
	SessionExpiryInterval SessionExpiryInterval

	// ReasonString 原因字符串 (0x1F)
	// 参考章节: 3.14.2.2.3
	ReasonString ReasonString

	// UserProperties 用户属性 (0x26)
	// 参考章节: 3.14.2.2.4
	UserProperties UserProperties

	// ServerReference 服务端引用 (0x1C)
	// 参考章节: 3.14.2.2.5, 4.11 Server redirection
	// 原因码为0x9C或0x9D时服务端用它指示客户端应当迁移到的地址
	ServerReference ServerReference
}

func (props *DisconnectProperties) empty() bool {
	return props.SessionExpiryInterval == 0 && props.ReasonString == "" &&
		len(props.UserProperties) == 0 && props.ServerReference == ""
}

func (props *DisconnectProperties) pack(buf *bytes.Buffer) error {
	props.SessionExpiryInterval.Pack(buf)
	props.ReasonString.Pack(buf)
	props.UserProperties.Pack(buf)
	props.ServerReference.Pack(buf)
	return nil
}

func (props *DisconnectProperties) Unpack(buf *bytes.Buffer) error {
	r, err := newPropReader(0xE, buf)
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
		case PropReasonString:
			uLen, err = props.ReasonString.Unpack(buf)
		case PropUserProperty:
			uLen, err = props.UserProperties.UnpackOne(buf)
		case PropServerReference:
			uLen, err = props.ServerReference.Unpack(buf)
		}
		if err != nil {
			return err
		}
		if err := r.consume(uLen); err != nil {
			return err
		}
	}
}
