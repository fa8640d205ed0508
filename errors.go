package mqtt5

import (
	"errors"
	"fmt"

	"github.com/golang-io/mqtt5/packet"
)

var (
	// ErrSocketClosed 传输层读写返回EOF或I/O错误，会话终止
	ErrSocketClosed = errors.New("mqtt5: socket closed")

	// ErrHandleClosed 等待应答期间应答通道或请求队列消失
	ErrHandleClosed = errors.New("mqtt5: handle closed")

	// ErrContextExited 会话循环已经退出，请求无法入队
	ErrContextExited = errors.New("mqtt5: context exited")

	// ErrQuotaExceeded 发送配额耗尽
	// 未确认的QoS>0发布数量达到服务端在CONNACK中通告的接收最大值，
	// 请求立即失败而不是在循环里排队。参考章节 4.9 Flow Control。
	ErrQuotaExceeded = errors.New("mqtt5: quota exceeded")

	// ErrProtocolViolation 对端或本端破坏了协议不变量(报文标识符复用、无主确认)
	ErrProtocolViolation = errors.New("mqtt5: protocol violation")
)

// DisconnectedError 服务端发来DISCONNECT，会话已终止
// 携带断开报文的原因码和属性。
type DisconnectedError struct {
	ReasonCode            packet.ReasonCode
	ReasonString          string
	ServerReference       string
	SessionExpiryInterval uint32
	UserProperties        packet.UserProperties
}

func (e *DisconnectedError) Error() string {
	if e.ReasonString != "" {
		return fmt.Sprintf("mqtt5: disconnected by server: %s (%s)", e.ReasonCode.Error(), e.ReasonString)
	}
	return fmt.Sprintf("mqtt5: disconnected by server: %s", e.ReasonCode.Error())
}

// ConnectError CONNACK原因码 >= 0x80，连接被拒绝
type ConnectError struct {
	ReasonCode   packet.ReasonCode
	ReasonString string
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("mqtt5: connect refused: %s", e.ReasonCode.Error())
}

// AuthError AUTH原因码 >= 0x80，扩展认证失败
type AuthError struct {
	ReasonCode   packet.ReasonCode
	ReasonString string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("mqtt5: authentication failed: %s", e.ReasonCode.Error())
}

// PublishError QoS 1/2交换在某一步收到原因码 >= 0x80 的确认
// Step标识失败的报文类型: PUBACK、PUBREC或PUBCOMP。
type PublishError struct {
	Step       byte
	ReasonCode packet.ReasonCode
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("mqtt5: publish failed at %s: %s", packet.Kind[e.Step], e.ReasonCode.Error())
}

// SubscribeError SUBACK载荷中至少一个主题过滤器的原因码 >= 0x80
// ReasonCodes与请求的主题过滤器一一对应。
type SubscribeError struct {
	ReasonCodes []packet.ReasonCode
}

func (e *SubscribeError) Error() string {
	return fmt.Sprintf("mqtt5: subscribe rejected: %v", e.ReasonCodes)
}

// UnsubscribeError UNSUBACK载荷中至少一个主题过滤器的原因码 >= 0x80
type UnsubscribeError struct {
	ReasonCodes []packet.ReasonCode
}

func (e *UnsubscribeError) Error() string {
	return fmt.Sprintf("mqtt5: unsubscribe rejected: %v", e.ReasonCodes)
}
