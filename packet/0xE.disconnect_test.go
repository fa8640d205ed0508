package packet

import (
	"bytes"
	"testing"
)

// TestDISCONNECT_ZeroLength 剩余长度0: 正常断开，无属性
// 参考章节 3.14.2.1
func TestDISCONNECT_ZeroLength(t *testing.T) {
	pkt, err := Unpack(bytes.NewReader([]byte{0xE0, 0x00}))
	if err != nil {
		t.Fatalf("Unpack failed: %v", err)
	}
	disconnect := pkt.(*DISCONNECT)
	if disconnect.ReasonCode.Code != 0x00 {
		t.Errorf("ReasonCode = 0x%02X, want 0x00", disconnect.ReasonCode.Code)
	}
}

// TestDISCONNECT_PackShortForm 正常断开且无属性时发出零长度编码
func TestDISCONNECT_PackShortForm(t *testing.T) {
	var buf bytes.Buffer
	if err := NewDISCONNECT(CodeDisconnect).Pack(&buf); err != nil {
		t.Fatalf("Pack failed: %v", err)
	}
	if !bytes.Equal(buf.Bytes(), []byte{0xE0, 0x00}) {
		t.Errorf("Pack = %v, want [0xE0 0x00]", buf.Bytes())
	}
}

// TestDISCONNECT_RoundTripWithProps 带服务端引用和会话过期间隔
func TestDISCONNECT_RoundTripWithProps(t *testing.T) {
	pkt := NewDISCONNECT(ErrServerMoved)
	pkt.Props = &DisconnectProperties{
		SessionExpiryInterval: 120,
		ReasonString:          "moved",
		ServerReference:       "other.example:1883",
	}
	var buf bytes.Buffer
	if err := pkt.Pack(&buf); err != nil {
		t.Fatalf("Pack failed: %v", err)
	}
	got0, err := Unpack(&buf)
	if err != nil {
		t.Fatalf("Unpack failed: %v", err)
	}
	got := got0.(*DISCONNECT)
	if got.ReasonCode.Code != 0x9D {
		t.Errorf("ReasonCode = 0x%02X", got.ReasonCode.Code)
	}
	if got.Props.ServerReference != "other.example:1883" || got.Props.SessionExpiryInterval != 120 {
		t.Errorf("Props = %+v", got.Props)
	}
}

// TestDISCONNECT_UnknownReason 未知原因码不合法
func TestDISCONNECT_UnknownReason(t *testing.T) {
	if _, err := Unpack(bytes.NewReader([]byte{0xE0, 0x01, 0x55})); err == nil {
		t.Error("unknown disconnect reason accepted")
	}
}
