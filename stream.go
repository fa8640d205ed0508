package mqtt5

import (
	"github.com/golang-io/mqtt5/packet"
)

// streamDepth 订阅流的缓冲深度
// 入站投递不阻塞会话循环；消费方长时间不取走消息时超出部分被丢弃并记日志。
const streamDepth = 10000

// Stream 一个订阅的入站消息流
//
// SUBSCRIBE成功后由 [Client.Subscribe] 返回。服务端在每条匹配的PUBLISH中
// 回显订阅标识符，会话循环据此把消息路由进这个流，投递顺序与服务端
// 发出的顺序一致。
//
// 关闭流会把它从路由表中摘除，之后匹配该标识符的消息被直接丢弃。
type Stream struct {
	id uint32
	ch chan *packet.PUBLISH
	ex *exchange
}

func newStream(id uint32, ex *exchange) *Stream {
	return &Stream{id: id, ch: make(chan *packet.PUBLISH, streamDepth), ex: ex}
}

// ID 这个流对应的订阅标识符
func (s *Stream) ID() uint32 {
	return s.id
}

// C 入站消息通道
// 会话终止时通道被关闭；已经投递的消息仍然可以取走。
func (s *Stream) C() <-chan *packet.PUBLISH {
	return s.ch
}

// Close 摘除并关闭这个流
// 对同一个流重复调用是安全的。
func (s *Stream) Close() {
	s.ex.removeStream(s.id)
}
