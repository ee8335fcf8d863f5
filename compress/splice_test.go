package compress

import (
	"bytes"
	"testing"
	"time"
)

// inflatedSink 收集解压工作器的输出，供测试等待期望数量的明文字节。
type inflatedSink struct {
	ch chan []byte
}

func newInflatedSink() *inflatedSink {
	return &inflatedSink{ch: make(chan []byte, 16)}
}

func (s *inflatedSink) put(b []byte) { s.ch <- b }

func (s *inflatedSink) wait(t *testing.T, n int) []byte {
	t.Helper()
	var out bytes.Buffer
	deadline := time.After(2 * time.Second)
	for out.Len() < n {
		select {
		case b := <-s.ch:
			out.Write(b)
		case <-deadline:
			t.Fatalf("超时：只收到 %d/%d 明文字节", out.Len(), n)
		}
	}
	return out.Bytes()
}

func newTestSplice(t *testing.T, sink *inflatedSink) *Splice {
	t.Helper()
	var put func([]byte)
	if sink != nil {
		put = sink.put
	}
	s, err := New(put, func(err error) { t.Errorf("压缩层错误: %v", err) })
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestSpliceTransparent 验证透明性：一端压缩、另一端解压后字节完全一致。
func TestSpliceTransparent(t *testing.T) {
	sink := newInflatedSink()
	client := newTestSplice(t, nil)
	server := newTestSplice(t, sink)

	msg := []byte("W1 NOOP\r\n")
	wire, err := client.Deflate(msg)
	if err != nil {
		t.Fatalf("Deflate() = %v", err)
	}
	if bytes.Equal(wire, msg) {
		t.Fatal("压缩输出不应等于明文")
	}

	server.Inflate(wire)
	if got := sink.wait(t, len(msg)); !bytes.Equal(got, msg) {
		t.Fatalf("得到 %q，期望 %q", got, msg)
	}
}

// TestSpliceChunkSplitMidStream 验证跨套接字读取切开的 DEFLATE 块
// 在其余部分到达后照常解压。
func TestSpliceChunkSplitMidStream(t *testing.T) {
	sink := newInflatedSink()
	client := newTestSplice(t, nil)
	server := newTestSplice(t, sink)

	msg := []byte("* 1 FETCH (BODY[] {5}\r\nhello)\r\n")
	wire, err := client.Deflate(msg)
	if err != nil {
		t.Fatalf("Deflate() = %v", err)
	}

	mid := len(wire) / 2
	server.Inflate(wire[:mid])
	server.Inflate(wire[mid:])

	if got := sink.wait(t, len(msg)); !bytes.Equal(got, msg) {
		t.Fatalf("得到 %q，期望 %q", got, msg)
	}
}

// TestSpliceStreamContinuity 验证相继的 Deflate 调用延续的是同一条
// DEFLATE 流，单个对端解压器能连续跟读，符合 RFC 4978。
func TestSpliceStreamContinuity(t *testing.T) {
	sink := newInflatedSink()
	client := newTestSplice(t, nil)
	server := newTestSplice(t, sink)

	first := []byte("W1 NOOP\r\n")
	second := []byte("W2 CAPABILITY\r\n")

	w1, err := client.Deflate(first)
	if err != nil {
		t.Fatalf("Deflate() = %v", err)
	}
	w2, err := client.Deflate(second)
	if err != nil {
		t.Fatalf("Deflate() = %v", err)
	}

	server.Inflate(w1)
	server.Inflate(w2)

	want := append(append([]byte(nil), first...), second...)
	if got := sink.wait(t, len(want)); !bytes.Equal(got, want) {
		t.Fatalf("得到 %q，期望 %q", got, want)
	}
}
