package mqtt5

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/golang-io/mqtt5/packet"
	"golang.org/x/net/websocket"
)

// A Client is an asynchronous MQTT v5.0 client.
//
// The Client is a small façade over the session loop: every operation builds
// a control packet, pushes it onto the session's request queue and, when the
// operation expects a reply, awaits its one-shot reply slot. Clients are safe
// for concurrent use by multiple goroutines; any number of producers may
// publish and subscribe concurrently over the single session.
//
// 会话的全部可变状态归I/O循环独占，Client里只有请求队列的发送端和两个
// 无锁递增的标识符计数器，所以多个goroutine共享同一个*Client是安全且廉价的。
// 计数器是Client结构体自身的字段，复制Client值会得到各自独立的计数器。
type Client struct {
	// URL specifies the broker to connect to, e.g. mqtt://127.0.0.1:1883.
	// Supported schemes: mqtt, tcp, ws.
	URL *url.URL

	// DialContext specifies the dial function for creating unencrypted TCP connections.
	// If DialContext is nil, the client dials using package net.
	DialContext func(ctx context.Context, network, addr string) (net.Conn, error)

	conn    *conn
	options Options

	// packetID 16位报文标识符计数器，模2^16递增并跳过零值
	// 唯一性不在分配处协调，由交换跟踪器在登记时强制(撞键是协议错误)。
	packetID atomic.Uint32

	// subID 32位订阅标识符计数器
	subID atomic.Uint32
}

func New(opts ...Option) *Client {
	options := newOptions(opts...)
	client := &Client{options: options}

	var err error
	if client.URL, err = url.Parse(options.URL); err != nil {
		panic(err)
	}

	log.Printf("client created: client_id=%s, server=%s", options.ClientID, options.URL)
	return client
}

// ID 本客户端使用的客户端标识符
func (c *Client) ID() string {
	return c.options.ClientID
}

// Done 会话终止信号，测试和调用方可以用它观察循环退出
func (c *Client) Done() <-chan struct{} {
	if c.conn == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return c.conn.done
}

func (c *Client) dial(ctx context.Context, scheme, addr string) (net.Conn, error) {
	// 用户自定义拨号优先
	if c.DialContext != nil && (scheme == "tcp" || scheme == "mqtt") {
		con, err := c.DialContext(ctx, "tcp", addr)
		if con == nil && err == nil {
			err = errors.New("mqtt5: Client.DialContext hook returned (nil, nil)")
		}
		return con, err
	}

	switch scheme {
	case "mqtt", "tcp":
		return (&net.Dialer{}).DialContext(ctx, "tcp", addr)
	case "ws":
		// 构造 WebSocket URL，默认路径 /mqtt
		path := c.URL.Path
		if path == "" {
			path = "/mqtt"
		}
		loc := &url.URL{Scheme: scheme, Host: addr, Path: path}
		origin := &url.URL{Scheme: "http", Host: addr}

		cfg, err := websocket.NewConfig(loc.String(), origin.String())
		if err != nil {
			return nil, err
		}
		// 协商 mqtt 子协议，二进制帧
		cfg.Protocol = []string{"mqtt"}
		ws, err := websocket.DialConfig(cfg)
		if err != nil {
			return nil, err
		}
		ws.PayloadType = websocket.BinaryFrame
		return ws, nil
	default:
		// 兜底按 tcp 处理
		return (&net.Dialer{}).DialContext(ctx, "tcp", addr)
	}
}

// Connect dials the broker and performs the connection exchange.
//
// CONNECT设置了认证方法时进入扩展认证: 应答可能是AUTH(继续认证)，
// 此时返回值的Auth字段非nil，调用方应继续调用 [Client.Authorize]。
//
// 原因码 >= 0x80 的CONNACK/AUTH分别转换为 [ConnectError] 和 [AuthError]。
func (c *Client) Connect(ctx context.Context) (*ConnectResponse, error) {
	log.Printf("client attempting to dial: client_id=%s, server=%s", c.options.ClientID, c.URL.Host)
	rwc, err := c.dial(ctx, c.URL.Scheme, c.URL.Host)
	if err != nil {
		log.Printf("client dial failed: client_id=%s, server=%s, error=%v", c.options.ClientID, c.URL.Host, err)
		return nil, err
	}

	c.conn = newConn(rwc, time.Duration(c.options.KeepAlive)*time.Second)
	go func() {
		// 会话的生命周期独立于Connect调用，以disconnect或致命错误结束
		_ = c.conn.serve(context.Background())
	}()

	pkt := &packet.CONNECT{
		FixedHeader: &packet.FixedHeader{Kind: CONNECT},
		CleanStart:  c.options.CleanStart,
		KeepAlive:   c.options.KeepAlive,
		ClientID:    c.options.ClientID,
		Username:    c.options.Username,
		Password:    c.options.Password,
		Props: &packet.ConnectProperties{
			SessionExpiryInterval: packet.SessionExpiryInterval(c.options.SessionExpiryInterval),
			ReceiveMaximum:        packet.ReceiveMaximum(c.options.ReceiveMaximum),
			MaximumPacketSize:     packet.MaximumPacketSize(c.options.MaximumPacketSize),
			TopicAliasMaximum:     packet.TopicAliasMaximum(c.options.TopicAliasMaximum),
			UserProperties:        c.options.UserProperties,
			AuthenticationMethod:  packet.AuthenticationMethod(c.options.AuthenticationMethod),
			AuthenticationData:    packet.AuthenticationData(c.options.AuthenticationData),
		},
	}
	if c.options.RequestResponseInformation {
		pkt.Props.RequestResponseInformation = 1
	}
	if c.options.RequestProblemInformation {
		pkt.Props.RequestProblemInformation = 1
	}
	if will := c.options.Will; will != nil {
		pkt.WillTopic, pkt.WillPayload = will.Topic, will.Payload
		pkt.WillQoS = will.QoS
		if will.Retain {
			pkt.WillRetain = 1
		}
		pkt.WillProperties = &packet.WillProperties{
			WillDelayInterval:      packet.WillDelayInterval(will.Delay),
			PayloadFormatIndicator: packet.PayloadFormatIndicator(will.PayloadFormatIndicator),
			MessageExpiryInterval:  packet.MessageExpiryInterval(will.MessageExpiryInterval),
			ContentType:            packet.ContentType(will.ContentType),
			ResponseTopic:          packet.ResponseTopic(will.ResponseTopic),
			CorrelationData:        packet.CorrelationData(will.CorrelationData),
			UserProperties:         will.UserProperties,
		}
	}

	w := newWaiter()
	if err := c.conn.submit(ctx, &request{pkt: pkt, key: exchangeKey{Kind: CONNACK}, w: w}); err != nil {
		return nil, err
	}
	rsp, err := c.connectReply(ctx, w)
	if err != nil {
		log.Printf("client connect failed: client_id=%s, error=%v", c.options.ClientID, err)
		return nil, err
	}
	if assigned := rsp.AssignedClientID(); assigned != "" {
		c.options.ClientID = assigned
	}
	log.Printf("client connected: client_id=%s, server=%s", c.options.ClientID, c.URL.Host)
	return rsp, nil
}

// Authorize 扩展认证交换
// 参考章节: 4.12 Enhanced authentication
// 在连接期间响应服务端的继续认证请求，或在会话中发起重新认证。
// 和Connect一样，交换以CONNACK结束；中间轮次返回Auth非nil的应答。
func (c *Client) Authorize(ctx context.Context, opts AuthOptions) (*ConnectResponse, error) {
	reason := packet.CodeContinueAuthentication
	if opts.ReAuthenticate {
		reason = packet.CodeReAuthenticate
	}
	pkt := &packet.AUTH{
		FixedHeader: &packet.FixedHeader{Kind: AUTH},
		ReasonCode:  reason,
		Props: &packet.AuthProperties{
			AuthenticationMethod: packet.AuthenticationMethod(opts.AuthenticationMethod),
			AuthenticationData:   packet.AuthenticationData(opts.AuthenticationData),
			ReasonString:         packet.ReasonString(opts.ReasonString),
			UserProperties:       opts.UserProperties,
		},
	}

	w := newWaiter()
	if err := c.conn.submit(ctx, &request{pkt: pkt, key: exchangeKey{Kind: AUTH}, w: w}); err != nil {
		return nil, err
	}
	return c.connectReply(ctx, w)
}

// connectReply CONNECT/AUTH交换共用的应答转换
func (c *Client) connectReply(ctx context.Context, w *waiter) (*ConnectResponse, error) {
	pkt, err := c.await(ctx, w)
	if err != nil {
		return nil, err
	}
	switch p := pkt.(type) {
	case *packet.CONNACK:
		if p.ReasonCode.Failed() {
			err := &ConnectError{ReasonCode: p.ReasonCode}
			if p.Props != nil {
				err.ReasonString = p.Props.ReasonString.String()
			}
			return nil, err
		}
		return &ConnectResponse{SessionPresent: p.SessionPresent, ReasonCode: p.ReasonCode, Props: p.Props}, nil
	case *packet.AUTH:
		if p.ReasonCode.Failed() {
			err := &AuthError{ReasonCode: p.ReasonCode}
			if p.Props != nil {
				err.ReasonString = p.Props.ReasonString.String()
			}
			return nil, err
		}
		return &ConnectResponse{Auth: &AuthResponse{ReasonCode: p.ReasonCode, Props: p.Props}}, nil
	default:
		return nil, fmt.Errorf("%w: unexpected %s reply", ErrProtocolViolation, packet.Kind[pkt.Kind()])
	}
}

// Publish 发布一条应用消息
//
// QoS 0入队即完成(fire-and-forget)；QoS 1等待PUBACK；QoS 2的四步握手
// 由会话循环自动推进，调用方只等到PUBCOMP或任一步的错误。
// 发送配额耗尽时立即返回 [ErrQuotaExceeded]。
func (c *Client) Publish(ctx context.Context, opts PublishOptions) error {
	if opts.QoS > 2 {
		return packet.ErrProtocolViolationQosOutOfRange
	}

	pkt := &packet.PUBLISH{
		FixedHeader: &packet.FixedHeader{Kind: PUBLISH, QoS: opts.QoS},
		Message:     &packet.Message{TopicName: opts.Topic, Content: opts.Payload},
		Props: &packet.PublishProperties{
			PayloadFormatIndicator: packet.PayloadFormatIndicator(opts.PayloadFormatIndicator),
			MessageExpiryInterval:  packet.MessageExpiryInterval(opts.MessageExpiryInterval),
			TopicAlias:             packet.TopicAlias(opts.TopicAlias),
			ResponseTopic:          packet.ResponseTopic(opts.ResponseTopic),
			CorrelationData:        packet.CorrelationData(opts.CorrelationData),
			ContentType:            packet.ContentType(opts.ContentType),
			UserProperties:         opts.UserProperties,
		},
	}
	if opts.Retain {
		pkt.FixedHeader.Retain = 1
	}

	if opts.QoS == 0 {
		return c.conn.submit(ctx, &request{pkt: pkt})
	}

	pkt.PacketID = c.nextPacketID()
	key := exchangeKey{Kind: PUBACK, PacketID: pkt.PacketID}
	if opts.QoS == 2 {
		key.Kind = PUBREC
	}

	w := newWaiter()
	if err := c.conn.submit(ctx, &request{pkt: pkt, key: key, w: w, quota: true}); err != nil {
		return err
	}
	// 成功的终点应答(PUBACK或PUBCOMP)已经由循环校验过原因码
	_, err := c.await(ctx, w)
	return err
}

// Subscribe 订阅一个主题过滤器
//
// 客户端为订阅分配订阅标识符并随SUBSCRIBE发送；服务端在每条匹配的
// PUBLISH中回显它，入站消息据此零歧义地路由进返回的消息流。
func (c *Client) Subscribe(ctx context.Context, opts SubscribeOptions) (*SubscribeResponse, error) {
	pid := c.nextPacketID()
	sid := c.subID.Add(1)

	pkt := &packet.SUBSCRIBE{
		FixedHeader: &packet.FixedHeader{Kind: SUBSCRIBE},
		PacketID:    pid,
		Props: &packet.SubscribeProperties{
			SubscriptionIdentifier: packet.SubscriptionIdentifier(sid),
			UserProperties:         opts.UserProperties,
		},
		Subscriptions: []packet.Subscription{{
			TopicFilter:       opts.TopicFilter,
			MaximumQoS:        opts.MaximumQoS,
			NoLocal:           opts.NoLocal,
			RetainAsPublished: opts.RetainAsPublished,
			RetainHandling:    opts.RetainHandling,
		}},
	}

	stream := newStream(sid, c.conn.ex)
	w := newWaiter()
	req := &request{pkt: pkt, key: exchangeKey{Kind: SUBACK, PacketID: pid}, w: w, stream: stream}
	if err := c.conn.submit(ctx, req); err != nil {
		return nil, err
	}
	pkt2, err := c.await(ctx, w)
	if err != nil {
		return nil, err
	}
	suback := pkt2.(*packet.SUBACK)
	for _, rc := range suback.ReasonCodes {
		if rc.Failed() {
			stream.Close()
			return nil, &SubscribeError{ReasonCodes: suback.ReasonCodes}
		}
	}
	log.Printf("client subscribed: client_id=%s, filter=%s, sub_id=%d", c.options.ClientID, opts.TopicFilter, sid)
	return &SubscribeResponse{ReasonCodes: suback.ReasonCodes, Props: suback.Props, Messages: stream}, nil
}

// Unsubscribe 取消一个或多个主题过滤器的订阅
// 对应订阅的消息流由调用方自行关闭；未关闭的流不再收到新消息。
func (c *Client) Unsubscribe(ctx context.Context, opts UnsubscribeOptions) (*UnsubscribeResponse, error) {
	pid := c.nextPacketID()
	pkt := &packet.UNSUBSCRIBE{
		FixedHeader:  &packet.FixedHeader{Kind: UNSUBSCRIBE},
		PacketID:     pid,
		Props:        &packet.UnsubscribeProperties{UserProperties: opts.UserProperties},
		TopicFilters: opts.TopicFilters,
	}

	w := newWaiter()
	if err := c.conn.submit(ctx, &request{pkt: pkt, key: exchangeKey{Kind: UNSUBACK, PacketID: pid}, w: w}); err != nil {
		return nil, err
	}
	pkt2, err := c.await(ctx, w)
	if err != nil {
		return nil, err
	}
	unsuback := pkt2.(*packet.UNSUBACK)
	for _, rc := range unsuback.ReasonCodes {
		if rc.Failed() {
			return nil, &UnsubscribeError{ReasonCodes: unsuback.ReasonCodes}
		}
	}
	return &UnsubscribeResponse{ReasonCodes: unsuback.ReasonCodes, Props: unsuback.Props}, nil
}

// Ping 主动心跳，等待PINGRESP
// 没有发布流量维持链路时调用方可以用它保持会话。
func (c *Client) Ping(ctx context.Context) error {
	pkt := &packet.PINGREQ{FixedHeader: &packet.FixedHeader{Kind: PINGREQ}}
	w := newWaiter()
	if err := c.conn.submit(ctx, &request{pkt: pkt, key: exchangeKey{Kind: PINGRESP}, w: w}); err != nil {
		return err
	}
	_, err := c.await(ctx, w)
	return err
}

// Disconnect 优雅断开: 冲刷写端、发送DISCONNECT、关闭会话
// 仍在等待应答的操作以 [ErrContextExited] 收尾。
func (c *Client) Disconnect(ctx context.Context, opts DisconnectOptions) error {
	log.Printf("client disconnecting: client_id=%s", c.options.ClientID)
	reason := opts.ReasonCode
	if reason.Code == 0 && reason.Reason == "" {
		reason = packet.CodeDisconnect
	}
	pkt := packet.NewDISCONNECT(reason)
	pkt.Props = &packet.DisconnectProperties{
		SessionExpiryInterval: packet.SessionExpiryInterval(opts.SessionExpiryInterval),
		ReasonString:          packet.ReasonString(opts.ReasonString),
		UserProperties:        opts.UserProperties,
	}
	return c.conn.submit(ctx, &request{pkt: pkt, disconnect: true})
}

// DefaultStream 登记默认消息流
// 没有携带订阅标识符的入站PUBLISH投递到这里；不登记时这类消息被丢弃并记日志。
func (c *Client) DefaultStream() *Stream {
	s := newStream(0, c.conn.ex)
	c.conn.ex.setDefaultStream(s)
	return s
}

// Close 立即关闭传输，不发送DISCONNECT
// 会话循环观察到读端错误后终止，未完成的操作以 [ErrSocketClosed] 收尾。
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.rwc.Close()
	}
	return nil
}

// await 等待应答槽
// 调用方先行放弃(ctx取消)时循环仍会消费最终应答并丢弃，连接保持同步。
// 会话终止时请求可能还停留在队列里，等待者永远不会被完成，
// 所以同时监听终止信号，终止后补读一次应答槽分辨两种结局。
func (c *Client) await(ctx context.Context, w *waiter) (packet.Packet, error) {
	select {
	case r := <-w.ch:
		return r.pkt, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.conn.done:
		select {
		case r := <-w.ch:
			return r.pkt, r.err
		default:
			return nil, c.conn.err
		}
	}
}

// nextPacketID 分配下一个报文标识符，模2^16递增并跳过零值
func (c *Client) nextPacketID() uint16 {
	for {
		if id := uint16(c.packetID.Add(1)); id != 0 {
			return id
		}
	}
}
