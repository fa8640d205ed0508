package packet

import (
	"bytes"
	"errors"
	"testing"
)

// TestPUBACK_ShortForm 短编码
// 参考章节 3.4.2.1: 剩余长度为2时原因码是0x00(成功)且没有属性。
func TestPUBACK_ShortForm(t *testing.T) {
	pkt, err := Unpack(bytes.NewReader([]byte{0x40, 0x02, 0x00, 0x07}))
	if err != nil {
		t.Fatalf("Unpack failed: %v", err)
	}
	puback := pkt.(*PUBACK)
	if puback.PacketID != 7 {
		t.Errorf("PacketID = %d, want 7", puback.PacketID)
	}
	if puback.ReasonCode.Code != 0x00 {
		t.Errorf("ReasonCode = 0x%02X, want 0x00 (success)", puback.ReasonCode.Code)
	}
	if puback.Props == nil || puback.Props.ReasonString != "" || len(puback.Props.UserProperties) != 0 {
		t.Errorf("Props = %+v, want empty", puback.Props)
	}
}

// TestPUBACK_PackShortForm 成功且无属性时发出最短编码
func TestPUBACK_PackShortForm(t *testing.T) {
	puback := &PUBACK{FixedHeader: &FixedHeader{Kind: 0x4}, PacketID: 7, ReasonCode: CodeSuccess}
	var buf bytes.Buffer
	if err := puback.Pack(&buf); err != nil {
		t.Fatalf("Pack failed: %v", err)
	}
	expected := []byte{0x40, 0x02, 0x00, 0x07}
	if !bytes.Equal(buf.Bytes(), expected) {
		t.Errorf("Pack = %v, want %v", buf.Bytes(), expected)
	}
}

// TestPUBACK_ReasonOnly 剩余长度3: 原因码后省略属性长度字段
func TestPUBACK_ReasonOnly(t *testing.T) {
	pkt, err := Unpack(bytes.NewReader([]byte{0x40, 0x03, 0x00, 0x07, 0x10}))
	if err != nil {
		t.Fatalf("Unpack failed: %v", err)
	}
	puback := pkt.(*PUBACK)
	if puback.ReasonCode.Code != 0x10 {
		t.Errorf("ReasonCode = 0x%02X, want 0x10", puback.ReasonCode.Code)
	}
}

// TestPUBACK_RoundTripWithProps 带原因字符串和用户属性的完整编码
func TestPUBACK_RoundTripWithProps(t *testing.T) {
	puback := &PUBACK{
		FixedHeader: &FixedHeader{Kind: 0x4},
		PacketID:    12345,
		ReasonCode:  ErrUnspecifiedError,
		Props: &AckProperties{
			ReasonString:   "no luck",
			UserProperties: UserProperties{{"k", "v"}},
		},
	}
	var buf bytes.Buffer
	if err := puback.Pack(&buf); err != nil {
		t.Fatalf("Pack failed: %v", err)
	}
	pkt, err := Unpack(&buf)
	if err != nil {
		t.Fatalf("Unpack failed: %v", err)
	}
	got := pkt.(*PUBACK)
	if got.PacketID != 12345 || got.ReasonCode.Code != 0x80 {
		t.Errorf("got %+v", got)
	}
	if got.Props.ReasonString != "no luck" {
		t.Errorf("ReasonString = %q", got.Props.ReasonString)
	}
}

// TestPUBACK_InvalidReasonCode 未知原因码按Malformed Packet处理
func TestPUBACK_InvalidReasonCode(t *testing.T) {
	if _, err := Unpack(bytes.NewReader([]byte{0x40, 0x03, 0x00, 0x07, 0x55})); !errors.Is(err, ErrMalformedReasonCode) {
		t.Errorf("unknown reason code accepted: %v", err)
	}
}

// TestPUBACK_ZeroPacketID 报文标识符为0不合法
func TestPUBACK_ZeroPacketID(t *testing.T) {
	if _, err := Unpack(bytes.NewReader([]byte{0x40, 0x02, 0x00, 0x00})); !errors.Is(err, ErrMalformedZeroValue) {
		t.Errorf("zero packet identifier accepted: %v", err)
	}
}

// TestAckShortForms PUBREC/PUBREL/PUBCOMP同样接受短编码
func TestAckShortForms(t *testing.T) {
	testCases := []struct {
		name string
		data []byte
		kind byte
	}{
		{"PUBREC", []byte{0x50, 0x02, 0x00, 0x09}, 0x5},
		{"PUBREL", []byte{0x62, 0x02, 0x00, 0x09}, 0x6},
		{"PUBCOMP", []byte{0x70, 0x02, 0x00, 0x09}, 0x7},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			pkt, err := Unpack(bytes.NewReader(tc.data))
			if err != nil {
				t.Fatalf("Unpack failed: %v", err)
			}
			if pkt.Kind() != tc.kind {
				t.Errorf("Kind = %X, want %X", pkt.Kind(), tc.kind)
			}
		})
	}
}

// TestPUBREL_Pack PUBREL发出时标志位是0b0010
func TestPUBREL_Pack(t *testing.T) {
	var buf bytes.Buffer
	if err := NewPUBREL(9).Pack(&buf); err != nil {
		t.Fatalf("Pack failed: %v", err)
	}
	expected := []byte{0x62, 0x02, 0x00, 0x09}
	if !bytes.Equal(buf.Bytes(), expected) {
		t.Errorf("Pack = %v, want %v", buf.Bytes(), expected)
	}
}
