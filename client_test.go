package mqtt5

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/golang-io/mqtt5/packet"
)

// harness 管道另一端的broker测试替身
// 客户端通过DialContext钩子拿到net.Pipe的一端，harness持有另一端，
// 在测试主goroutine里逐个报文地推进会话。
type harness struct {
	t    *testing.T
	conn net.Conn
	r    *packet.Reader
}

func newTestSession(t *testing.T, opts ...Option) (*Client, *harness) {
	t.Helper()
	cli, srv := net.Pipe()
	c := New(append([]Option{URL("mqtt://harness:1883"), ClientID("c1")}, opts...)...)
	c.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		return cli, nil
	}
	h := &harness{t: t, conn: srv, r: packet.NewReader(srv)}
	t.Cleanup(func() { _ = srv.Close() })
	return c, h
}

func (h *harness) expect(kind byte) packet.Packet {
	h.t.Helper()
	pkt, err := h.r.Next()
	if err != nil {
		h.t.Fatalf("harness read failed: %v", err)
	}
	if pkt.Kind() != kind {
		h.t.Fatalf("harness got %s, want %s", packet.Kind[pkt.Kind()], packet.Kind[kind])
	}
	return pkt
}

func (h *harness) send(pkt packet.Packet) {
	h.t.Helper()
	if err := pkt.Pack(h.conn); err != nil {
		h.t.Fatalf("harness write failed: %v", err)
	}
}

// sendRaw 原始字节，harness用它注入客户端侧编码器拒绝发出的报文
func (h *harness) sendRaw(b []byte) {
	h.t.Helper()
	if _, err := h.conn.Write(b); err != nil {
		h.t.Fatalf("harness raw write failed: %v", err)
	}
}

// expectNothing 在窗口期内连上不应出现任何字节
func (h *harness) expectNothing(d time.Duration) {
	h.t.Helper()
	_ = h.conn.SetReadDeadline(time.Now().Add(d))
	defer h.conn.SetReadDeadline(time.Time{})
	buf := make([]byte, 1)
	if n, err := h.conn.Read(buf); err == nil {
		h.t.Fatalf("harness expected silence, got %d bytes", n)
	}
}

func connack(props *packet.ConnackProperties) *packet.CONNACK {
	return &packet.CONNACK{
		FixedHeader: &packet.FixedHeader{Kind: CONNACK},
		ReasonCode:  packet.CodeSuccess,
		Props:       props,
	}
}

// accept 走完连接握手
func (h *harness) accept(c *Client, props *packet.ConnackProperties) *ConnectResponse {
	h.t.Helper()
	errc := make(chan error, 1)
	var rsp *ConnectResponse
	go func() {
		r, err := c.Connect(context.Background())
		rsp = r
		errc <- err
	}()
	h.expect(CONNECT)
	h.send(connack(props))
	if err := <-errc; err != nil {
		h.t.Fatalf("connect failed: %v", err)
	}
	return rsp
}

// TestConnectExchange CONNECT/CONNACK交换和服务端属性的采纳
func TestConnectExchange(t *testing.T) {
	c, h := newTestSession(t)
	rsp := h.accept(c, &packet.ConnackProperties{AssignedClientIdentifier: "srv-42"})
	if rsp.Auth != nil {
		t.Error("unexpected auth continuation")
	}
	if rsp.AssignedClientID() != "srv-42" || c.ID() != "srv-42" {
		t.Errorf("assigned id = %q / %q", rsp.AssignedClientID(), c.ID())
	}
}

// TestConnectRefused 原因码>=0x80的CONNACK转换为ConnectError
func TestConnectRefused(t *testing.T) {
	c, h := newTestSession(t)
	errc := make(chan error, 1)
	go func() {
		_, err := c.Connect(context.Background())
		errc <- err
	}()
	h.expect(CONNECT)
	h.send(&packet.CONNACK{FixedHeader: &packet.FixedHeader{Kind: CONNACK}, ReasonCode: packet.ErrNotAuthorized})
	err := <-errc
	var ce *ConnectError
	if !errors.As(err, &ce) || ce.ReasonCode.Code != 0x87 {
		t.Errorf("connect error = %v", err)
	}
}

// TestPublishQoS0Wire QoS 0发布的精确线上字节，入队即完成
func TestPublishQoS0Wire(t *testing.T) {
	c, h := newTestSession(t)
	h.accept(c, nil)

	if err := c.Publish(context.Background(), PublishOptions{Topic: "t/a", Payload: []byte("hi")}); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	raw := make([]byte, 10)
	if _, err := io.ReadFull(h.conn, raw); err != nil {
		t.Fatalf("harness read failed: %v", err)
	}
	expected := []byte{0x30, 0x08, 0x00, 0x03, 't', '/', 'a', 0x00, 'h', 'i'}
	if string(raw) != string(expected) {
		t.Errorf("wire = %v, want %v", raw, expected)
	}
}

// TestPublishQoS1 PUBACK终结QoS 1交换；失败原因码转换为PublishError
func TestPublishQoS1(t *testing.T) {
	c, h := newTestSession(t)
	h.accept(c, nil)

	errc := make(chan error, 1)
	go func() {
		errc <- c.Publish(context.Background(), PublishOptions{Topic: "t", Payload: []byte("x"), QoS: 1})
	}()
	pub := h.expect(PUBLISH).(*packet.PUBLISH)
	h.send(&packet.PUBACK{FixedHeader: &packet.FixedHeader{Kind: PUBACK}, PacketID: pub.PacketID, ReasonCode: packet.CodeSuccess})
	if err := <-errc; err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	go func() {
		errc <- c.Publish(context.Background(), PublishOptions{Topic: "t", Payload: []byte("x"), QoS: 1})
	}()
	pub = h.expect(PUBLISH).(*packet.PUBLISH)
	h.send(&packet.PUBACK{FixedHeader: &packet.FixedHeader{Kind: PUBACK}, PacketID: pub.PacketID, ReasonCode: packet.ErrQuotaExceeded})
	var pe *PublishError
	if err := <-errc; !errors.As(err, &pe) || pe.Step != PUBACK || pe.ReasonCode.Code != 0x97 {
		t.Errorf("publish error = %v", err)
	}
}

// TestPublishQoS2 四步握手由循环自动推进
// PUBREC成功后循环发出同标识符的PUBREL，调用方只等到PUBCOMP。
func TestPublishQoS2(t *testing.T) {
	c, h := newTestSession(t)
	h.accept(c, nil)

	errc := make(chan error, 1)
	go func() {
		errc <- c.Publish(context.Background(), PublishOptions{Topic: "t", Payload: []byte("x"), QoS: 2})
	}()
	pub := h.expect(PUBLISH).(*packet.PUBLISH)
	if pub.FixedHeader.QoS != 2 || pub.PacketID == 0 {
		t.Fatalf("publish = %+v", pub)
	}
	h.send(&packet.PUBREC{FixedHeader: &packet.FixedHeader{Kind: PUBREC}, PacketID: pub.PacketID, ReasonCode: packet.CodeSuccess})

	pubrel := h.expect(PUBREL).(*packet.PUBREL)
	if pubrel.PacketID != pub.PacketID {
		t.Fatalf("pubrel id = %d, want %d", pubrel.PacketID, pub.PacketID)
	}
	h.send(&packet.PUBCOMP{FixedHeader: &packet.FixedHeader{Kind: PUBCOMP}, PacketID: pub.PacketID, ReasonCode: packet.CodeSuccess})
	if err := <-errc; err != nil {
		t.Fatalf("publish failed: %v", err)
	}
}

// TestPublishQoS2PubrecError 失败的PUBREC终止交换，不发送PUBREL
func TestPublishQoS2PubrecError(t *testing.T) {
	c, h := newTestSession(t)
	h.accept(c, nil)

	errc := make(chan error, 1)
	go func() {
		errc <- c.Publish(context.Background(), PublishOptions{Topic: "t", Payload: []byte("x"), QoS: 2})
	}()
	pub := h.expect(PUBLISH).(*packet.PUBLISH)
	h.send(&packet.PUBREC{FixedHeader: &packet.FixedHeader{Kind: PUBREC}, PacketID: pub.PacketID, ReasonCode: packet.ErrUnspecifiedError})

	var pe *PublishError
	if err := <-errc; !errors.As(err, &pe) || pe.Step != PUBREC || pe.ReasonCode.Code != 0x80 {
		t.Fatalf("publish error = %v", err)
	}
	h.expectNothing(300 * time.Millisecond)
}

// TestSubscribeAndReceive 订阅流按订阅标识符零歧义路由
func TestSubscribeAndReceive(t *testing.T) {
	c, h := newTestSession(t)
	h.accept(c, nil)

	type result struct {
		rsp *SubscribeResponse
		err error
	}
	resc := make(chan result, 1)
	go func() {
		rsp, err := c.Subscribe(context.Background(), SubscribeOptions{TopicFilter: "x/#", MaximumQoS: 2})
		resc <- result{rsp, err}
	}()
	sub := h.expect(SUBSCRIBE).(*packet.SUBSCRIBE)
	if sub.Props.SubscriptionIdentifier != 1 {
		t.Fatalf("subscription identifier = %d, want 1", sub.Props.SubscriptionIdentifier)
	}
	h.send(&packet.SUBACK{
		FixedHeader: &packet.FixedHeader{Kind: SUBACK},
		PacketID:    sub.PacketID,
		ReasonCodes: []packet.ReasonCode{packet.CodeGrantedQos2},
	})
	res := <-resc
	if res.err != nil {
		t.Fatalf("subscribe failed: %v", res.err)
	}
	if len(res.rsp.ReasonCodes) != 1 || res.rsp.ReasonCodes[0].Code != 0x02 {
		t.Errorf("reason codes = %v", res.rsp.ReasonCodes)
	}

	// 服务端回显订阅标识符1的入站消息
	h.sendRaw([]byte{
		0x30, 0x09,
		0x00, 0x03, 'x', '/', 'y',
		0x02, 0x0B, 0x01,
		'v',
	})
	select {
	case pub := <-res.rsp.Messages.C():
		if pub.Message.TopicName != "x/y" || string(pub.Message.Content) != "v" {
			t.Errorf("delivered = %v", pub.Message)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no delivery")
	}
}

// TestSubscribeRejected SUBACK载荷里的失败原因码转换为SubscribeError
func TestSubscribeRejected(t *testing.T) {
	c, h := newTestSession(t)
	h.accept(c, nil)

	errc := make(chan error, 1)
	go func() {
		_, err := c.Subscribe(context.Background(), SubscribeOptions{TopicFilter: "$forbidden/#"})
		errc <- err
	}()
	sub := h.expect(SUBSCRIBE).(*packet.SUBSCRIBE)
	h.send(&packet.SUBACK{
		FixedHeader: &packet.FixedHeader{Kind: SUBACK},
		PacketID:    sub.PacketID,
		ReasonCodes: []packet.ReasonCode{packet.ErrNotAuthorized},
	})
	var se *SubscribeError
	if err := <-errc; !errors.As(err, &se) {
		t.Errorf("subscribe error = %v", err)
	}
}

// TestUnsubscribe UNSUBACK终结取消订阅交换
func TestUnsubscribe(t *testing.T) {
	c, h := newTestSession(t)
	h.accept(c, nil)

	errc := make(chan error, 1)
	go func() {
		_, err := c.Unsubscribe(context.Background(), UnsubscribeOptions{TopicFilters: []string{"x/#"}})
		errc <- err
	}()
	unsub := h.expect(UNSUBSCRIBE).(*packet.UNSUBSCRIBE)
	h.send(&packet.UNSUBACK{
		FixedHeader: &packet.FixedHeader{Kind: UNSUBACK},
		PacketID:    unsub.PacketID,
		ReasonCodes: []packet.ReasonCode{packet.CodeSuccess},
	})
	if err := <-errc; err != nil {
		t.Fatalf("unsubscribe failed: %v", err)
	}
}

// TestMalformedPacketKillsSession 保留类型半字节0对会话是致命的
// 循环发出DISCONNECT(ProtocolError)，在途操作以格式错误收尾。
func TestMalformedPacketKillsSession(t *testing.T) {
	c, h := newTestSession(t)
	h.accept(c, nil)

	errc := make(chan error, 1)
	go func() {
		errc <- c.Publish(context.Background(), PublishOptions{Topic: "t", Payload: []byte("x"), QoS: 1})
	}()
	h.expect(PUBLISH)

	h.sendRaw([]byte{0x00, 0x00})
	disconnect := h.expect(DISCONNECT).(*packet.DISCONNECT)
	if disconnect.ReasonCode.Code != 0x82 {
		t.Errorf("disconnect reason = 0x%02X, want 0x82", disconnect.ReasonCode.Code)
	}

	var rc packet.ReasonCode
	if err := <-errc; !errors.As(err, &rc) || rc.Code != 0x81 {
		t.Errorf("publish error = %v", err)
	}
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not terminate")
	}
}

// TestQuotaExceeded 发送配额由CONNACK的receive maximum约束
// 配额内的发布正常，配额满时立即失败，终点确认释放配额。
func TestQuotaExceeded(t *testing.T) {
	c, h := newTestSession(t)
	h.accept(c, &packet.ConnackProperties{ReceiveMaximum: 1})

	errc1 := make(chan error, 1)
	go func() {
		errc1 <- c.Publish(context.Background(), PublishOptions{Topic: "t", Payload: []byte("1"), QoS: 1})
	}()
	pub1 := h.expect(PUBLISH).(*packet.PUBLISH)

	// 第一条未确认，配额已满
	if err := c.Publish(context.Background(), PublishOptions{Topic: "t", Payload: []byte("2"), QoS: 1}); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("second publish = %v, want ErrQuotaExceeded", err)
	}

	h.send(&packet.PUBACK{FixedHeader: &packet.FixedHeader{Kind: PUBACK}, PacketID: pub1.PacketID, ReasonCode: packet.CodeSuccess})
	if err := <-errc1; err != nil {
		t.Fatalf("first publish failed: %v", err)
	}

	// 确认释放了配额
	errc3 := make(chan error, 1)
	go func() {
		errc3 <- c.Publish(context.Background(), PublishOptions{Topic: "t", Payload: []byte("3"), QoS: 1})
	}()
	pub3 := h.expect(PUBLISH).(*packet.PUBLISH)
	h.send(&packet.PUBACK{FixedHeader: &packet.FixedHeader{Kind: PUBACK}, PacketID: pub3.PacketID, ReasonCode: packet.CodeSuccess})
	if err := <-errc3; err != nil {
		t.Fatalf("third publish failed: %v", err)
	}
}

// TestKeepAlive 服务端保活时间覆盖请求值，静默期自动补PINGREQ
func TestKeepAlive(t *testing.T) {
	c, h := newTestSession(t, KeepAlive(30))
	h.accept(c, &packet.ConnackProperties{ServerKeepAlive: 1, HasServerKeepAlive: true})
	start := time.Now()

	h.expect(PINGREQ)
	if elapsed := time.Since(start); elapsed > 1500*time.Millisecond {
		t.Errorf("pingreq after %v, want within 1.5s of last send", elapsed)
	}
	h.send(&packet.PINGRESP{FixedHeader: &packet.FixedHeader{Kind: PINGRESP}})

	// 主动心跳照常工作
	errc := make(chan error, 1)
	go func() { errc <- c.Ping(context.Background()) }()
	h.expect(PINGREQ)
	h.send(&packet.PINGRESP{FixedHeader: &packet.FixedHeader{Kind: PINGRESP}})
	if err := <-errc; err != nil {
		t.Fatalf("ping failed: %v", err)
	}
}

// TestServerDisconnect 服务端DISCONNECT终结会话，在途操作拿到DisconnectedError
func TestServerDisconnect(t *testing.T) {
	c, h := newTestSession(t)
	h.accept(c, nil)

	errc := make(chan error, 1)
	go func() { errc <- c.Ping(context.Background()) }()
	h.expect(PINGREQ)

	d := packet.NewDISCONNECT(packet.ErrServerShuttingDown)
	d.Props = &packet.DisconnectProperties{ReasonString: "maintenance"}
	h.send(d)

	var de *DisconnectedError
	if err := <-errc; !errors.As(err, &de) || de.ReasonCode.Code != 0x8B || de.ReasonString != "maintenance" {
		t.Errorf("ping error = %v", err)
	}
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not terminate")
	}
}

// TestClientDisconnect 主动断开: DISCONNECT发出后会话终止
func TestClientDisconnect(t *testing.T) {
	c, h := newTestSession(t)
	h.accept(c, nil)

	errc := make(chan error, 1)
	go func() { errc <- c.Disconnect(context.Background(), DisconnectOptions{}) }()
	d := h.expect(DISCONNECT).(*packet.DISCONNECT)
	if d.ReasonCode.Code != 0x00 {
		t.Errorf("disconnect reason = 0x%02X", d.ReasonCode.Code)
	}
	if err := <-errc; err != nil {
		t.Fatalf("disconnect failed: %v", err)
	}
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not terminate")
	}
	// 终止后的请求拿到ErrContextExited
	if err := c.Ping(context.Background()); !errors.Is(err, ErrContextExited) {
		t.Errorf("ping after disconnect = %v", err)
	}
}

// TestInboundQoS2ExactlyOnce 入站QoS 2消息在PUBREL之前不投递，不重复投递
func TestInboundQoS2ExactlyOnce(t *testing.T) {
	c, h := newTestSession(t)
	h.accept(c, nil)

	type result struct {
		rsp *SubscribeResponse
		err error
	}
	resc := make(chan result, 1)
	go func() {
		rsp, err := c.Subscribe(context.Background(), SubscribeOptions{TopicFilter: "q/#", MaximumQoS: 2})
		resc <- result{rsp, err}
	}()
	sub := h.expect(SUBSCRIBE).(*packet.SUBSCRIBE)
	h.send(&packet.SUBACK{
		FixedHeader: &packet.FixedHeader{Kind: SUBACK},
		PacketID:    sub.PacketID,
		ReasonCodes: []packet.ReasonCode{packet.CodeGrantedQos2},
	})
	res := <-resc
	if res.err != nil {
		t.Fatalf("subscribe failed: %v", res.err)
	}

	// QoS 2入站: 主题q/z, 报文标识符9, 订阅标识符1
	h.sendRaw([]byte{
		0x34, 0x0B,
		0x00, 0x03, 'q', '/', 'z',
		0x00, 0x09,
		0x02, 0x0B, 0x01,
		'v',
	})
	rec := h.expect(PUBREC).(*packet.PUBREC)
	if rec.PacketID != 9 {
		t.Fatalf("pubrec id = %d, want 9", rec.PacketID)
	}

	// PUBREL之前不投递
	select {
	case <-res.rsp.Messages.C():
		t.Fatal("message delivered before pubrel")
	case <-time.After(100 * time.Millisecond):
	}

	h.send(packet.NewPUBREL(9))
	comp := h.expect(PUBCOMP).(*packet.PUBCOMP)
	if comp.PacketID != 9 {
		t.Fatalf("pubcomp id = %d, want 9", comp.PacketID)
	}
	select {
	case pub := <-res.rsp.Messages.C():
		if pub.Message.TopicName != "q/z" {
			t.Errorf("delivered = %v", pub.Message)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no delivery after pubrel")
	}
}
