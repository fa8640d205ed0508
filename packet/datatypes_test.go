package packet

import (
	"bytes"
	"errors"
	"testing"
)

// TestEncodeLength 变长字节整数编码
// 参考章节 1.5.5 Variable Byte Integer: 对[0, 268435455]内的值，
// 编码长度是1-4字节，除最后一个字节外每个字节的最高位都置位。
func TestEncodeLength(t *testing.T) {
	testCases := []struct {
		value    uint32
		expected []byte
	}{
		{0, []byte{0x00}},
		{1, []byte{0x01}},
		{127, []byte{0x7F}},
		{128, []byte{0x80, 0x01}},
		{16383, []byte{0xFF, 0x7F}},
		{16384, []byte{0x80, 0x80, 0x01}},
		{2097151, []byte{0xFF, 0xFF, 0x7F}},
		{2097152, []byte{0x80, 0x80, 0x80, 0x01}},
		{268435455, []byte{0xFF, 0xFF, 0xFF, 0x7F}},
	}
	for _, tc := range testCases {
		enc, err := encodeLength(tc.value)
		if err != nil {
			t.Fatalf("encodeLength(%d) failed: %v", tc.value, err)
		}
		if !bytes.Equal(enc, tc.expected) {
			t.Errorf("encodeLength(%d) = %v, want %v", tc.value, enc, tc.expected)
		}
		if len(enc) != lengthOfLength(tc.value) {
			t.Errorf("lengthOfLength(%d) = %d, want %d", tc.value, lengthOfLength(tc.value), len(enc))
		}
		// 除最后一个字节外，每个字节的最高位都必须置位
		for i, b := range enc {
			if last := i == len(enc)-1; (b&0x80 != 0) == last {
				t.Errorf("encodeLength(%d): byte %d continuation bit wrong: %v", tc.value, i, enc)
			}
		}
	}

	if _, err := encodeLength(uint32(268435456)); err == nil {
		t.Error("encodeLength should reject values above 268435455")
	}
}

// TestDecodeLength 编解码往返和非法编码拒绝
func TestDecodeLength(t *testing.T) {
	// 规范编码往返
	for _, v := range []uint32{0, 1, 127, 128, 16383, 16384, 2097151, 2097152, 268435455} {
		enc, _ := encodeLength(v)
		got, err := decodeLength(bytes.NewBuffer(enc))
		if err != nil {
			t.Fatalf("decodeLength(%v) failed: %v", enc, err)
		}
		if got != v {
			t.Errorf("decodeLength(%v) = %d, want %d", enc, got, v)
		}
	}

	// 非法编码
	invalid := []struct {
		name string
		data []byte
	}{
		{"FifthContinuationByte", []byte{0xFF, 0xFF, 0xFF, 0xFF, 0x7F}},
		{"AllContinuation", []byte{0x80, 0x80, 0x80, 0x80}},
		{"NonCanonicalTwoBytes", []byte{0x80, 0x00}},   // 0 编码成了两个字节
		{"NonCanonicalThreeBytes", []byte{0xFF, 0x80, 0x00}},
	}
	for _, tc := range invalid {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := decodeLength(bytes.NewBuffer(tc.data)); !errors.Is(err, ErrMalformedVariableByteInteger) {
				t.Errorf("decodeLength(%v) = %v, want ErrMalformedVariableByteInteger", tc.data, err)
			}
		})
	}
}

// TestDecodeUTF8 长度前缀字符串的解码和UTF-8校验
func TestDecodeUTF8(t *testing.T) {
	s, n, err := decodeUTF8[string](bytes.NewBuffer([]byte{0x00, 0x03, 't', '/', 'a'}))
	if err != nil || s != "t/a" || n != 5 {
		t.Errorf("decodeUTF8 = (%q, %d, %v), want (t/a, 5, nil)", s, n, err)
	}

	// 载荷必须是合法UTF-8 [MQTT-1.5.4-1]
	if _, _, err := decodeUTF8[string](bytes.NewBuffer([]byte{0x00, 0x02, 0xC3, 0x28})); !errors.Is(err, ErrMalformedInvalidUTF8) {
		t.Errorf("invalid utf-8 accepted: %v", err)
	}

	// 二进制数据不做UTF-8校验
	if _, _, err := decodeUTF8[[]byte](bytes.NewBuffer([]byte{0x00, 0x02, 0xC3, 0x28})); err != nil {
		t.Errorf("binary data rejected: %v", err)
	}

	// 长度前缀越过缓冲区末尾
	if _, _, err := decodeUTF8[string](bytes.NewBuffer([]byte{0x00, 0x05, 'a'})); !errors.Is(err, ErrMalformedInsufficientData) {
		t.Errorf("truncated string accepted: %v", err)
	}
}

// TestNonZero 非零整数约束
func TestNonZero(t *testing.T) {
	if _, err := nonZero(uint16(0)); !errors.Is(err, ErrMalformedZeroValue) {
		t.Error("nonZero(0) should fail")
	}
	if v, err := nonZero(uint16(7)); err != nil || v != 7 {
		t.Errorf("nonZero(7) = (%d, %v)", v, err)
	}
}
