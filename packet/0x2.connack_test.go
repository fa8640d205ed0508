package packet

import (
	"bytes"
	"testing"
)

// TestCONNACK_UnpackMinimal 最小连接确认
func TestCONNACK_UnpackMinimal(t *testing.T) {
	pkt, err := Unpack(bytes.NewReader([]byte{0x20, 0x03, 0x00, 0x00, 0x00}))
	if err != nil {
		t.Fatalf("Unpack failed: %v", err)
	}
	connack := pkt.(*CONNACK)
	if connack.SessionPresent || connack.ReasonCode.Code != 0x00 {
		t.Errorf("got %+v", connack)
	}
}

// TestCONNACK_UnpackServerProperties 服务端裁决属性的解码
// 接收最大值、服务端保活、分配的客户端ID
func TestCONNACK_UnpackServerProperties(t *testing.T) {
	var props bytes.Buffer
	props.Write([]byte{0x21, 0x00, 0x0A}) // Receive Maximum = 10
	props.Write([]byte{0x13, 0x00, 0x01}) // Server Keep Alive = 1
	props.Write([]byte{0x12, 0x00, 0x02, 'x', 'y'})

	var buf bytes.Buffer
	buf.WriteByte(0x20)
	buf.WriteByte(byte(2 + 1 + props.Len()))
	buf.Write([]byte{0x01, 0x00}) // session present, success
	buf.WriteByte(byte(props.Len()))
	buf.Write(props.Bytes())

	pkt, err := Unpack(&buf)
	if err != nil {
		t.Fatalf("Unpack failed: %v", err)
	}
	connack := pkt.(*CONNACK)
	if !connack.SessionPresent {
		t.Error("session present lost")
	}
	if connack.Props.ReceiveMaximum != 10 {
		t.Errorf("ReceiveMaximum = %d", connack.Props.ReceiveMaximum)
	}
	if !connack.Props.HasServerKeepAlive || connack.Props.ServerKeepAlive != 1 {
		t.Errorf("ServerKeepAlive = %+v", connack.Props)
	}
	if connack.Props.AssignedClientIdentifier != "xy" {
		t.Errorf("AssignedClientIdentifier = %q", connack.Props.AssignedClientIdentifier)
	}
}

// TestCONNACK_RejectBadAckFlags 连接确认标志的bits 7-1必须为0 [MQTT-3.2.2-1]
func TestCONNACK_RejectBadAckFlags(t *testing.T) {
	if _, err := Unpack(bytes.NewReader([]byte{0x20, 0x03, 0x02, 0x00, 0x00})); err == nil {
		t.Error("bad ack flags accepted")
	}
}

// TestCONNACK_RejectSessionPresentOnError 原因码非0时会话存在标志必须为0 [MQTT-3.2.2-6]
func TestCONNACK_RejectSessionPresentOnError(t *testing.T) {
	if _, err := Unpack(bytes.NewReader([]byte{0x20, 0x03, 0x01, 0x87, 0x00})); err == nil {
		t.Error("session present with failed reason accepted")
	}
}

// TestCONNACK_RejectZeroReceiveMaximum 接收最大值为0是协议错误
func TestCONNACK_RejectZeroReceiveMaximum(t *testing.T) {
	data := []byte{0x20, 0x06, 0x00, 0x00, 0x03, 0x21, 0x00, 0x00}
	if _, err := Unpack(bytes.NewReader(data)); err == nil {
		t.Error("zero receive maximum accepted")
	}
}
