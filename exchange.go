package mqtt5

import (
	"log"
	"sync"

	"github.com/golang-io/mqtt5/packet"
)

// exchangeKey 关联键
// 由期待的应答报文类型和报文标识符组成，唯一确定一个未完成的等待者。
// CONNECT/AUTH/PINGREQ这类没有报文标识符的交换使用 (类型, 0)。
type exchangeKey struct {
	Kind     byte
	PacketID uint16
}

// reply 单次交换的终点: 应答报文或错误，二者只有其一
type reply struct {
	pkt packet.Packet
	err error
}

// waiter 一次性应答槽
// 通道带一个缓冲且只由会话循环写入: 调用方先行放弃等待时，
// 循环仍然能无阻塞地写入并把关联项正常摘除，连接保持同步。
type waiter struct {
	ch chan reply
}

func newWaiter() *waiter {
	return &waiter{ch: make(chan reply, 1)}
}

func (w *waiter) complete(pkt packet.Packet) {
	w.ch <- reply{pkt: pkt}
}

func (w *waiter) fail(err error) {
	w.ch <- reply{err: err}
}

// exchange 交换跟踪器，由会话循环独占持有
//
// 两张表:
//   - waiters: 关联键 -> 一次性应答槽。出站请求入队时登记，
//     匹配的入站报文到达或会话终止时摘除。同一个键重复登记是协议错误
//     (报文标识符复用)，对会话是致命的。
//   - streams: 订阅标识符 -> 投递流。SUBSCRIBE时登记，接收方关闭流时摘除。
//
// waiters和inflight只被循环goroutine触碰，不加锁；streams会被消费方的
// Stream.Close并发触碰，由互斥锁保护。
type exchange struct {
	waiters map[exchangeKey]*waiter

	// inflight 入站QoS 2消息暂存
	// 收到PUBLISH(QoS 2)时回PUBREC并暂存，对应的PUBREL到达后才投递，
	// 保证恰好一次语义。
	inflight map[uint16]*packet.PUBLISH

	mu            sync.Mutex
	streams       map[uint32]*Stream
	defaultStream *Stream
	closed        bool
}

func newExchange() *exchange {
	return &exchange{
		waiters:  make(map[exchangeKey]*waiter),
		inflight: make(map[uint16]*packet.PUBLISH),
		streams:  make(map[uint32]*Stream),
	}
}

// await 登记等待者
// 同一个键已经有等待者时返回ErrProtocolViolation，调用方(循环)必须
// 发送DISCONNECT(ProtocolError)并终止会话。
func (ex *exchange) await(key exchangeKey, w *waiter) error {
	if _, ok := ex.waiters[key]; ok {
		log.Printf("exchange: packet identifier reuse: key=%v", key)
		return ErrProtocolViolation
	}
	ex.waiters[key] = w
	return nil
}

// take 摘除并返回键对应的等待者
func (ex *exchange) take(key exchangeKey) (*waiter, bool) {
	w, ok := ex.waiters[key]
	if ok {
		delete(ex.waiters, key)
	}
	return w, ok
}

// pending 未完成的等待者数量
func (ex *exchange) pending() int {
	return len(ex.waiters)
}

// addStream 登记订阅流
func (ex *exchange) addStream(s *Stream) {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	if ex.closed {
		close(s.ch)
		return
	}
	ex.streams[s.id] = s
}

// removeStream 摘除并关闭订阅流，之后匹配它的消息被丢弃
func (ex *exchange) removeStream(id uint32) {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	if ex.defaultStream != nil && ex.defaultStream.id == id {
		close(ex.defaultStream.ch)
		ex.defaultStream = nil
		return
	}
	if s, ok := ex.streams[id]; ok {
		delete(ex.streams, id)
		close(s.ch)
	}
}

// setDefaultStream 没有订阅标识符的入站消息投递到这个流
func (ex *exchange) setDefaultStream(s *Stream) {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	ex.defaultStream = s
}

// dispatchPublish 把入站PUBLISH路由到订阅流
//
// 报文携带订阅标识符时逐个投递，多个标识符时克隆到每个匹配的流
// (服务端把一条消息匹配到多个订阅时会在一个报文里带上全部标识符)。
// 没有任何标识符时投递到默认流；没有默认流则丢弃并记日志。
func (ex *exchange) dispatchPublish(pub *packet.PUBLISH) {
	ex.mu.Lock()
	defer ex.mu.Unlock()

	var ids []uint32
	if pub.Props != nil {
		ids = pub.Props.SubscriptionIdentifiers
	}
	if len(ids) == 0 {
		if ex.defaultStream != nil {
			ex.deliver(ex.defaultStream, pub)
			return
		}
		log.Printf("exchange: publish without subscription identifier dropped: topic=%s", pub.Message.TopicName)
		return
	}
	for _, id := range ids {
		s, ok := ex.streams[id]
		if !ok {
			log.Printf("exchange: no stream for subscription identifier %d: topic=%s", id, pub.Message.TopicName)
			continue
		}
		if len(ids) > 1 {
			clone := *pub
			msg := *pub.Message
			clone.Message = &msg
			ex.deliver(s, &clone)
		} else {
			ex.deliver(s, pub)
		}
	}
}

func (ex *exchange) deliver(s *Stream, pub *packet.PUBLISH) {
	select {
	case s.ch <- pub:
		stat.MessageDelivered.Inc()
	default:
		// 消费方长时间不取走消息，流已满
		log.Printf("exchange: stream %d full, message dropped: topic=%s", s.id, pub.Message.TopicName)
		stat.MessageDropped.Inc()
	}
}

// shutdown 会话终止
// 每个未完成的等待者以终止错误收尾，每个流被关闭。
func (ex *exchange) shutdown(err error) {
	for key, w := range ex.waiters {
		delete(ex.waiters, key)
		w.fail(err)
	}
	ex.mu.Lock()
	defer ex.mu.Unlock()
	if ex.closed {
		return
	}
	ex.closed = true
	for id, s := range ex.streams {
		delete(ex.streams, id)
		close(s.ch)
	}
	if ex.defaultStream != nil {
		close(ex.defaultStream.ch)
		ex.defaultStream = nil
	}
}
