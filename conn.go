package mqtt5

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/golang-io/mqtt5/packet"
	"golang.org/x/sync/errgroup"
)

// request 请求队列里的一条消息
// 操作方把序列化所需的报文、可选的关联键和应答槽打包后入队，
// 会话循环负责登记关联、写线和触发应答。
type request struct {
	pkt packet.Packet

	// key/w 期待单次应答的请求携带关联键和一次性应答槽
	key exchangeKey
	w   *waiter

	// stream SUBSCRIBE请求携带要登记的投递流
	stream *Stream

	// quota QoS>0的发布计入发送配额
	quota bool

	// disconnect 写完后冲刷并关闭会话
	disconnect bool
}

// conn 一次MQTT会话的I/O循环
//
// 独占持有传输两端、请求队列接收端、交换跟踪器和保活计时。
// 调度模型: 一个协作式任务(serve的主循环)拥有全部会话可变状态，
// 任意数量的生产者通过requests队列并发提交；读端是唯一的第二个任务，
// 只负责把成帧后的报文递进inbound通道。会话状态没有任何锁。
type conn struct {
	// rwc is the underlying network connection.
	// It is usually of type *net.TCPConn or *websocket.Conn.
	rwc net.Conn

	// remoteAddr is rwc.RemoteAddr().String().
	remoteAddr string

	bw       *bufio.Writer
	requests chan *request
	ex       *exchange

	// keepAlive 生效的保活间隔
	// 初值来自连接选项；CONNACK携带服务端保活时间时被覆盖 [MQTT-3.2.2-21]。
	keepAlive time.Duration
	lastSend  time.Time

	// receiveMaximum/inflightQoS 发送配额
	// 服务端在CONNACK中通告receive maximum，未确认的QoS>0发布数量
	// 达到上限后，新的发布请求立即以配额错误失败。
	receiveMaximum int
	inflightQoS    int

	// readErr 读任务的终止原因，在inbound关闭前写入
	readErr error

	done      chan struct{}
	closeOnce sync.Once
	err       error
}

func newConn(rwc net.Conn, keepAlive time.Duration) *conn {
	c := &conn{
		rwc:            rwc,
		bw:             bufio.NewWriter(&countWriter{w: rwc}),
		requests:       make(chan *request, 64),
		ex:             newExchange(),
		keepAlive:      keepAlive,
		lastSend:       time.Now(),
		receiveMaximum: 65535,
		done:           make(chan struct{}),
	}
	if ra := rwc.RemoteAddr(); ra != nil {
		c.remoteAddr = ra.String()
	}
	return c
}

// submit 把请求放进队列
// 循环已经退出时返回ErrContextExited，请求不会被接受。
func (c *conn) submit(ctx context.Context, req *request) error {
	// 队列有缓冲，终止后的入队也可能成功，先看终止信号
	select {
	case <-c.done:
		return ErrContextExited
	default:
	}
	select {
	case c.requests <- req:
		return nil
	case <-c.done:
		return ErrContextExited
	case <-ctx.Done():
		return ctx.Err()
	}
}

// serve 运行会话
// 读任务和主循环跑在一个errgroup里；serve返回时会话已经终止，
// 全部未完成的等待者都已收到终止错误。
func (c *conn) serve(ctx context.Context) error {
	log.Printf("session started: remote=%s", c.remoteAddr)
	stat.ActiveSessions.Inc()
	defer stat.ActiveSessions.Dec()

	inbound := make(chan packet.Packet, 16)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return c.read(inbound)
	})
	group.Go(func() error {
		return c.loop(ctx, inbound)
	})
	err := group.Wait()
	log.Printf("session ended: remote=%s, err=%v", c.remoteAddr, c.err)
	return err
}

// read 读任务: 成帧入站字节并递交主循环
// 任何成帧错误(传输错误或格式错误)都终止读任务；终止原因通过readErr
// 传递，inbound的关闭是主循环观察到终止的信号。
func (c *conn) read(inbound chan<- packet.Packet) error {
	r := packet.NewReader(&countReader{r: c.rwc})
	for {
		pkt, err := r.Next()
		if err != nil {
			c.readErr = err
			close(inbound)
			return nil
		}
		stat.PacketReceived.Inc()
		select {
		case inbound <- pkt:
		case <-c.done:
			return nil
		}
	}
}

// loop 主循环: 请求到达、入站报文、保活计时、终止
func (c *conn) loop(ctx context.Context, inbound <-chan packet.Packet) error {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		var keepAliveC <-chan time.Time
		if c.keepAlive > 0 {
			d := time.Until(c.lastSend.Add(c.keepAlive))
			if d < 0 {
				d = 0
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(d)
			keepAliveC = timer.C
		}

		select {
		case <-ctx.Done():
			c.terminate(ErrContextExited)
			return nil

		case req := <-c.requests:
			c.handleRequest(req)

		case pkt, ok := <-inbound:
			if !ok {
				c.readClosed()
				return nil
			}
			c.handleInbound(pkt)

		case <-keepAliveC:
			// 保活间隔内没有任何报文发出时自动补一个PINGREQ [MQTT-3.1.2-20]
			// 自动心跳不登记等待者，对应的PINGRESP到达时被静默消费。
			if time.Since(c.lastSend) >= c.keepAlive {
				if err := c.writePacket(&packet.PINGREQ{FixedHeader: &packet.FixedHeader{Kind: PINGREQ}}); err != nil {
					c.terminate(fmt.Errorf("%w: %v", ErrSocketClosed, err))
					return nil
				}
			}
		}

		select {
		case <-c.done:
			return nil
		default:
		}
	}
}

// handleRequest 消费一条请求: 配额检查、登记关联、写线
func (c *conn) handleRequest(req *request) {
	// 发送配额: 达到上限的QoS>0发布立即失败，不在循环里缓冲
	if req.quota && c.inflightQoS >= c.receiveMaximum {
		req.w.fail(ErrQuotaExceeded)
		return
	}

	if req.w != nil {
		if err := c.ex.await(req.key, req.w); err != nil {
			// 报文标识符复用对会话是致命的
			req.w.fail(err)
			c.fatalProtocol(err)
			return
		}
	}
	if req.stream != nil {
		c.ex.addStream(req.stream)
	}

	if err := c.writePacket(req.pkt); err != nil {
		c.terminate(fmt.Errorf("%w: %v", ErrSocketClosed, err))
		return
	}
	if req.quota {
		c.inflightQoS++
		stat.InFlight.Set(float64(c.inflightQoS))
	}
	if req.disconnect {
		c.terminate(ErrContextExited)
	}
}

// handleInbound 分发一个入站报文
// 每个入站报文要么命中唯一的等待者，要么路由到订阅流(PUBLISH)，
// 要么推进QoS 2续传，要么是服务端的DISCONNECT。无主的确认是协议错误。
func (c *conn) handleInbound(pkt packet.Packet) {
	switch p := pkt.(type) {
	case *packet.CONNACK:
		// 先采纳服务端的流控和保活裁决，再唤醒等待者
		if p.Props != nil {
			if p.Props.ReceiveMaximum != 0 {
				c.receiveMaximum = int(p.Props.ReceiveMaximum.Uint16())
			}
			if p.Props.HasServerKeepAlive {
				c.keepAlive = time.Duration(p.Props.ServerKeepAlive.Uint16()) * time.Second
			}
		}
		c.completeHandshake(exchangeKey{Kind: CONNACK}, exchangeKey{Kind: AUTH}, p)

	case *packet.AUTH:
		c.completeHandshake(exchangeKey{Kind: AUTH}, exchangeKey{Kind: CONNACK}, p)

	case *packet.PINGRESP:
		// 自动心跳的PINGRESP没有等待者，静默消费
		if w, ok := c.ex.take(exchangeKey{Kind: PINGRESP}); ok {
			w.complete(p)
		}

	case *packet.PUBACK:
		c.completePublish(exchangeKey{Kind: PUBACK, PacketID: p.PacketID}, p.ReasonCode, PUBACK, p)

	case *packet.PUBREC:
		c.continueQoS2(p)

	case *packet.PUBCOMP:
		c.completePublish(exchangeKey{Kind: PUBCOMP, PacketID: p.PacketID}, p.ReasonCode, PUBCOMP, p)

	case *packet.SUBACK:
		w, ok := c.ex.take(exchangeKey{Kind: SUBACK, PacketID: p.PacketID})
		if !ok {
			c.unmatched(pkt)
			return
		}
		w.complete(p)

	case *packet.UNSUBACK:
		w, ok := c.ex.take(exchangeKey{Kind: UNSUBACK, PacketID: p.PacketID})
		if !ok {
			c.unmatched(pkt)
			return
		}
		w.complete(p)

	case *packet.PUBLISH:
		c.receivePublish(p)

	case *packet.PUBREL:
		// 服务端释放它的QoS 2消息: 投递并以PUBCOMP收尾
		pub, ok := c.ex.inflight[p.PacketID]
		if !ok {
			comp := &packet.PUBCOMP{FixedHeader: &packet.FixedHeader{Kind: PUBCOMP}, PacketID: p.PacketID, ReasonCode: packet.ErrPacketIdentifierNotFound}
			if err := c.writePacket(comp); err != nil {
				c.terminate(fmt.Errorf("%w: %v", ErrSocketClosed, err))
			}
			return
		}
		delete(c.ex.inflight, p.PacketID)
		comp := &packet.PUBCOMP{FixedHeader: &packet.FixedHeader{Kind: PUBCOMP}, PacketID: p.PacketID, ReasonCode: packet.CodeSuccess}
		if err := c.writePacket(comp); err != nil {
			c.terminate(fmt.Errorf("%w: %v", ErrSocketClosed, err))
			return
		}
		c.ex.dispatchPublish(pub)

	case *packet.DISCONNECT:
		// 服务端主动断开，对会话是终态
		err := &DisconnectedError{ReasonCode: p.ReasonCode}
		if p.Props != nil {
			err.ReasonString = p.Props.ReasonString.String()
			err.ServerReference = p.Props.ServerReference.String()
			err.SessionExpiryInterval = p.Props.SessionExpiryInterval.Uint32()
			err.UserProperties = p.Props.UserProperties
		}
		log.Printf("session disconnected by server: remote=%s, reason=0x%02X", c.remoteAddr, p.ReasonCode.Code)
		c.terminate(err)

	default:
		// CONNECT/SUBSCRIBE/UNSUBSCRIBE/PINGREQ不会合法地出现在入站方向
		c.fatalProtocol(fmt.Errorf("%w: unexpected %s from server", ErrProtocolViolation, packet.Kind[pkt.Kind()]))
	}
}

// completeHandshake CONNACK/AUTH完成连接或扩展认证交换
// 扩展认证期间CONNECT的应答可能是AUTH(继续认证)，再认证的应答也可能是
// CONNACK，所以两个键互为回退。
func (c *conn) completeHandshake(primary, fallback exchangeKey, pkt packet.Packet) {
	w, ok := c.ex.take(primary)
	if !ok {
		if w, ok = c.ex.take(fallback); !ok {
			c.unmatched(pkt)
			return
		}
	}
	w.complete(pkt)
}

// completePublish QoS 1/2交换的终点确认
func (c *conn) completePublish(key exchangeKey, reason packet.ReasonCode, step byte, pkt packet.Packet) {
	w, ok := c.ex.take(key)
	if !ok {
		c.unmatched(pkt)
		return
	}
	c.inflightQoS--
	stat.InFlight.Set(float64(c.inflightQoS))
	if reason.Failed() {
		w.fail(&PublishError{Step: step, ReasonCode: reason})
		return
	}
	w.complete(pkt)
}

// continueQoS2 QoS 2续传
// 成功的PUBREC到达后循环自动发出同标识符的PUBREL，并把调用方的应答槽
// 转移到PUBCOMP键下；调用方只观察到一次应答: PUBCOMP或任一步的错误。
func (c *conn) continueQoS2(p *packet.PUBREC) {
	key := exchangeKey{Kind: PUBREC, PacketID: p.PacketID}
	w, ok := c.ex.take(key)
	if !ok {
		c.unmatched(p)
		return
	}
	if p.ReasonCode.Failed() {
		// 失败的PUBREC终止交换，不发送PUBREL
		c.inflightQoS--
		stat.InFlight.Set(float64(c.inflightQoS))
		w.fail(&PublishError{Step: PUBREC, ReasonCode: p.ReasonCode})
		return
	}
	if err := c.ex.await(exchangeKey{Kind: PUBCOMP, PacketID: p.PacketID}, w); err != nil {
		w.fail(err)
		c.fatalProtocol(err)
		return
	}
	if err := c.writePacket(packet.NewPUBREL(p.PacketID)); err != nil {
		c.terminate(fmt.Errorf("%w: %v", ErrSocketClosed, err))
	}
}

// receivePublish 入站应用消息
// QoS 0直接投递；QoS 1回PUBACK后投递；QoS 2回PUBREC并暂存，
// PUBREL到达后才投递，保证恰好一次。
func (c *conn) receivePublish(p *packet.PUBLISH) {
	switch p.FixedHeader.QoS {
	case 0:
		c.ex.dispatchPublish(p)
	case 1:
		ack := &packet.PUBACK{FixedHeader: &packet.FixedHeader{Kind: PUBACK}, PacketID: p.PacketID, ReasonCode: packet.CodeSuccess}
		if err := c.writePacket(ack); err != nil {
			c.terminate(fmt.Errorf("%w: %v", ErrSocketClosed, err))
			return
		}
		c.ex.dispatchPublish(p)
	case 2:
		// 重复的PUBLISH(DUP重发)只刷新暂存，不重复投递
		c.ex.inflight[p.PacketID] = p
		rec := &packet.PUBREC{FixedHeader: &packet.FixedHeader{Kind: PUBREC}, PacketID: p.PacketID, ReasonCode: packet.CodeSuccess}
		if err := c.writePacket(rec); err != nil {
			c.terminate(fmt.Errorf("%w: %v", ErrSocketClosed, err))
		}
	}
}

// readClosed 读任务终止后的收尾
// 格式错误走协议错误路径(发DISCONNECT后终止)，传输错误直接终止。
func (c *conn) readClosed() {
	err := c.readErr
	var rc packet.ReasonCode
	if errors.As(err, &rc) {
		log.Printf("session malformed inbound packet: remote=%s, err=%v", c.remoteAddr, err)
		c.fatalProtocol(err)
		return
	}
	c.terminate(fmt.Errorf("%w: %v", ErrSocketClosed, err))
}

// unmatched 无主确认
func (c *conn) unmatched(pkt packet.Packet) {
	c.fatalProtocol(fmt.Errorf("%w: unmatched %s", ErrProtocolViolation, packet.Kind[pkt.Kind()]))
}

// fatalProtocol 协议错误: 发出DISCONNECT(ProtocolError)后终止会话
func (c *conn) fatalProtocol(err error) {
	_ = c.writePacket(packet.NewDISCONNECT(packet.ErrProtocolErr))
	c.terminate(err)
}

// writePacket 序列化并写出一个报文，更新保活时钟
func (c *conn) writePacket(pkt packet.Packet) error {
	if err := pkt.Pack(c.bw); err != nil {
		return err
	}
	if err := c.bw.Flush(); err != nil {
		return err
	}
	c.lastSend = time.Now()
	stat.PacketSent.Inc()
	return nil
}

// terminate 终止会话
// 冲刷写端、关闭传输、让每个未完成的等待者以终止错误收尾、关闭全部流。
// 幂等；第一个原因胜出。
func (c *conn) terminate(err error) {
	c.closeOnce.Do(func() {
		c.err = err
		_ = c.bw.Flush()
		_ = c.rwc.Close()
		c.ex.shutdown(err)
		close(c.done)
	})
}
