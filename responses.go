package mqtt5

import (
	"github.com/golang-io/mqtt5/packet"
)

// ConnectResponse 连接交换的结果
//
// 普通连接时携带CONNACK的裁决；CONNECT设置了认证方法时服务端可能以
// AUTH(继续认证)应答，此时Auth非nil，调用方应携带下一轮认证数据调用
// [Client.Authorize]，直到拿到Auth为nil的应答为止。
type ConnectResponse struct {
	SessionPresent bool
	ReasonCode     packet.ReasonCode
	Props          *packet.ConnackProperties

	// Auth 扩展认证尚未完成
	Auth *AuthResponse
}

// AssignedClientID 服务端分配的客户端标识符(客户端用空ID连接时)
func (r *ConnectResponse) AssignedClientID() string {
	if r.Props == nil {
		return ""
	}
	return r.Props.AssignedClientIdentifier.String()
}

// AuthResponse 一轮扩展认证交换的结果
// 参考章节: 4.12 Enhanced authentication
type AuthResponse struct {
	ReasonCode packet.ReasonCode
	Props      *packet.AuthProperties
}

// Continued 服务端要求继续认证
func (r *AuthResponse) Continued() bool {
	return r.ReasonCode.Code == 0x18
}

// SubscribeResponse 订阅交换的结果
// ReasonCodes与请求的主题过滤器一一对应；Messages是该订阅的入站消息流。
type SubscribeResponse struct {
	ReasonCodes []packet.ReasonCode
	Props       *packet.SubackProperties

	// Messages 入站消息流，按服务端发出的顺序投递
	Messages *Stream
}

// UnsubscribeResponse 取消订阅交换的结果
type UnsubscribeResponse struct {
	ReasonCodes []packet.ReasonCode
	Props       *packet.SubackProperties
}
