package packet

import (
	"bytes"
	"testing"
)

// TestSUBSCRIBE_Pack 订阅选项字节的位布局
// bits 1-0最大QoS, bit 2本地标志, bit 3保留为已发布, bits 5-4保留处理
func TestSUBSCRIBE_Pack(t *testing.T) {
	pkt := &SUBSCRIBE{
		FixedHeader: &FixedHeader{Kind: 0x8},
		PacketID:    1,
		Props:       &SubscribeProperties{SubscriptionIdentifier: 1},
		Subscriptions: []Subscription{{
			TopicFilter:       "x/#",
			MaximumQoS:        2,
			NoLocal:           true,
			RetainAsPublished: true,
			RetainHandling:    1,
		}},
	}
	var buf bytes.Buffer
	if err := pkt.Pack(&buf); err != nil {
		t.Fatalf("Pack failed: %v", err)
	}
	expected := []byte{
		0x82, 0x0B,
		0x00, 0x01, // 报文标识符
		0x02, 0x0B, 0x01, // 属性: 订阅标识符=1
		0x00, 0x03, 'x', '/', '#',
		0x1E, // 订阅选项: qos2 | nolocal | rap | rh=1
	}
	if !bytes.Equal(buf.Bytes(), expected) {
		t.Errorf("Pack = %v, want %v", buf.Bytes(), expected)
	}
}

// TestSUBSCRIBE_RoundTrip 编解码往返
func TestSUBSCRIBE_RoundTrip(t *testing.T) {
	pkt := &SUBSCRIBE{
		FixedHeader: &FixedHeader{Kind: 0x8},
		PacketID:    7,
		Props:       &SubscribeProperties{SubscriptionIdentifier: 9},
		Subscriptions: []Subscription{
			{TopicFilter: "a/+", MaximumQoS: 1},
			{TopicFilter: "b/#", MaximumQoS: 0, RetainHandling: 2},
		},
	}
	var buf bytes.Buffer
	if err := pkt.Pack(&buf); err != nil {
		t.Fatalf("Pack failed: %v", err)
	}
	got0, err := Unpack(&buf)
	if err != nil {
		t.Fatalf("Unpack failed: %v", err)
	}
	got := got0.(*SUBSCRIBE)
	if got.PacketID != 7 || got.Props.SubscriptionIdentifier != 9 {
		t.Errorf("got %+v", got)
	}
	if len(got.Subscriptions) != 2 || got.Subscriptions[0].TopicFilter != "a/+" || got.Subscriptions[1].RetainHandling != 2 {
		t.Errorf("Subscriptions = %+v", got.Subscriptions)
	}
}

// TestSUBSCRIBE_UnpackReservedOptionBits 订阅选项bits 7-6必须为0 [MQTT-3.8.3-5]
func TestSUBSCRIBE_UnpackReservedOptionBits(t *testing.T) {
	data := []byte{
		0x82, 0x07,
		0x00, 0x01,
		0x00, // 空属性
		0x00, 0x01, 'a',
		0x42, // 保留位置位
	}
	if _, err := Unpack(bytes.NewReader(data)); err == nil {
		t.Error("reserved option bits accepted")
	}
}

// TestSUBSCRIBE_PackValidation 空过滤器列表和零报文标识符
func TestSUBSCRIBE_PackValidation(t *testing.T) {
	pkt := &SUBSCRIBE{FixedHeader: &FixedHeader{Kind: 0x8}, PacketID: 1}
	if err := pkt.Pack(&bytes.Buffer{}); err == nil {
		t.Error("empty subscription list accepted")
	}
	pkt = &SUBSCRIBE{FixedHeader: &FixedHeader{Kind: 0x8}, Subscriptions: []Subscription{{TopicFilter: "a"}}}
	if err := pkt.Pack(&bytes.Buffer{}); err == nil {
		t.Error("zero packet identifier accepted")
	}
}
