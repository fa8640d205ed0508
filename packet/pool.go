package packet

import (
	"bytes"
	"sync"
)

// Buffer 报文编码用的缓冲池
// 编码路径先把可变报头和载荷写进临时缓冲，算出剩余长度后再落盘，
// 用池避免每个报文一次分配。
type Buffer struct {
	pool *sync.Pool
}

func newBuffer() *Buffer {
	return &Buffer{
		pool: &sync.Pool{
			New: func() any { return new(bytes.Buffer) },
		},
	}
}

func (b *Buffer) Get() *bytes.Buffer {
	return b.pool.Get().(*bytes.Buffer)
}

func (b *Buffer) Put(buf *bytes.Buffer) {
	// 放回前清空；超大缓冲直接丢弃，避免池里滞留大块内存
	if buf.Cap() > 1*MB {
		return
	}
	buf.Reset()
	b.pool.Put(buf)
}

const (
	KB = 1024
	MB = 1024 * KB
)

var buffer = newBuffer()

func GetBuffer() *bytes.Buffer {
	return buffer.Get()
}

func PutBuffer(buf *bytes.Buffer) {
	buffer.Put(buf)
}
