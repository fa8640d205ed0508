package packet

import (
	"bytes"
	"errors"
	"testing"
)

// TestSUBACK_Unpack 载荷是与请求一一对应的原因码列表
func TestSUBACK_Unpack(t *testing.T) {
	pkt, err := Unpack(bytes.NewReader([]byte{0x90, 0x04, 0x00, 0x01, 0x00, 0x02}))
	if err != nil {
		t.Fatalf("Unpack failed: %v", err)
	}
	suback := pkt.(*SUBACK)
	if suback.PacketID != 1 {
		t.Errorf("PacketID = %d", suback.PacketID)
	}
	if len(suback.ReasonCodes) != 1 || suback.ReasonCodes[0].Code != 0x02 {
		t.Errorf("ReasonCodes = %v", suback.ReasonCodes)
	}
}

// TestSUBACK_RoundTrip 成功和失败混合的原因码列表
func TestSUBACK_RoundTrip(t *testing.T) {
	pkt := &SUBACK{
		FixedHeader: &FixedHeader{Kind: 0x9},
		PacketID:    3,
		ReasonCodes: []ReasonCode{CodeGrantedQos1, ErrNotAuthorized},
		Props:       &SubackProperties{ReasonString: "partial"},
	}
	var buf bytes.Buffer
	if err := pkt.Pack(&buf); err != nil {
		t.Fatalf("Pack failed: %v", err)
	}
	got0, err := Unpack(&buf)
	if err != nil {
		t.Fatalf("Unpack failed: %v", err)
	}
	got := got0.(*SUBACK)
	if len(got.ReasonCodes) != 2 || got.ReasonCodes[1].Code != 0x87 {
		t.Errorf("ReasonCodes = %v", got.ReasonCodes)
	}
	if got.Props.ReasonString != "partial" {
		t.Errorf("ReasonString = %q", got.Props.ReasonString)
	}
}

// TestSUBACK_EmptyPayload 空载荷不合法
func TestSUBACK_EmptyPayload(t *testing.T) {
	if _, err := Unpack(bytes.NewReader([]byte{0x90, 0x03, 0x00, 0x01, 0x00})); !errors.Is(err, ErrProtocolViolationNoFilters) {
		t.Errorf("empty suback accepted: %v", err)
	}
}

// TestUNSUBACK_RoundTrip 取消订阅确认
func TestUNSUBACK_RoundTrip(t *testing.T) {
	pkt := &UNSUBACK{
		FixedHeader: &FixedHeader{Kind: 0xB},
		PacketID:    5,
		ReasonCodes: []ReasonCode{CodeSuccess, CodeNoSubscriptionExisted},
	}
	var buf bytes.Buffer
	if err := pkt.Pack(&buf); err != nil {
		t.Fatalf("Pack failed: %v", err)
	}
	got0, err := Unpack(&buf)
	if err != nil {
		t.Fatalf("Unpack failed: %v", err)
	}
	got := got0.(*UNSUBACK)
	if got.PacketID != 5 || len(got.ReasonCodes) != 2 || got.ReasonCodes[1].Code != 0x11 {
		t.Errorf("got %+v", got)
	}
}

// TestUNSUBSCRIBE_RoundTrip 取消订阅请求
func TestUNSUBSCRIBE_RoundTrip(t *testing.T) {
	pkt := &UNSUBSCRIBE{
		FixedHeader:  &FixedHeader{Kind: 0xA},
		PacketID:     6,
		TopicFilters: []string{"a/+", "b"},
	}
	var buf bytes.Buffer
	if err := pkt.Pack(&buf); err != nil {
		t.Fatalf("Pack failed: %v", err)
	}
	if buf.Bytes()[0] != 0xA2 {
		t.Errorf("header = 0x%02X, want 0xA2", buf.Bytes()[0])
	}
	got0, err := Unpack(&buf)
	if err != nil {
		t.Fatalf("Unpack failed: %v", err)
	}
	got := got0.(*UNSUBSCRIBE)
	if len(got.TopicFilters) != 2 || got.TopicFilters[0] != "a/+" {
		t.Errorf("TopicFilters = %v", got.TopicFilters)
	}
}
