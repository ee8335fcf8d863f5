// Package compress 实现协商 COMPRESS=DEFLATE（RFC 4978）后介于命令
// 编解码器与套接字之间的压缩层：New 启动它，Deflate 直接返回压缩后的
// 出站字节，Inflate 把入站数据块交给解压工作器，解压结果经回调送回。
//
// 编解码本体是标准库 compress/flate。
package compress

import (
	"bytes"
	"compress/flate"
	"fmt"
	"io"
	"sync"
)

// Splice 持有一条连接生命周期内的解压器/压缩器对。每次启用压缩创建一个，
// 关闭即弃；不能跨连接复用。
//
// 两个方向都是连续流：对端的解压器看到跨越全部 Deflate 调用的单一
// DEFLATE 流，解压工作器的 flate 读取器看到跨越全部 Inflate 调用的
// 单一流。RFC 4978 要求如此；按块独立成流无法互通。
type Splice struct {
	mu sync.Mutex

	deflater *flate.Writer
	outBuf   bytes.Buffer

	feed   *chunkFeed
	worker sync.WaitGroup
	closed bool
}

// New 启动一个 Splice。解压工作器产出的每段明文交给 onInflated；
// 工作器失败（入站流损坏）时向 onError 投递一次。两个回调都在
// 工作器 goroutine 上触发。
func New(onInflated func([]byte), onError func(error)) (*Splice, error) {
	w, err := flate.NewWriter(nil, flate.DefaultCompression)
	if err != nil {
		return nil, fmt.Errorf("compress: 启动压缩器: %w", err)
	}
	s := &Splice{
		deflater: w,
		feed:     newChunkFeed(),
	}
	s.deflater.Reset(&s.outBuf)

	s.worker.Add(1)
	go s.inflateLoop(onInflated, onError)
	return s, nil
}

// Deflate 压缩将写往套接字的 b，延续本连接唯一的出站 DEFLATE 流，
// 并 Flush 使对端无需等待后续输入即可解码。
func (s *Splice) Deflate(b []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("compress: 压缩层已关闭")
	}
	if _, err := s.deflater.Write(b); err != nil {
		return nil, fmt.Errorf("compress: 压缩: %w", err)
	}
	if err := s.deflater.Flush(); err != nil {
		return nil, fmt.Errorf("compress: 压缩 flush: %w", err)
	}
	out := append([]byte(nil), s.outBuf.Bytes()...)
	s.outBuf.Reset()
	return out, nil
}

// Inflate 把来自套接字的一个压缩数据块交给解压工作器。它从不阻塞；
// 解压出的字节稍后经 onInflated 回调到达。
func (s *Splice) Inflate(b []byte) {
	s.feed.push(b)
}

// inflateLoop 是工作器：驱动单个流式 flate 读取器读数据块队列，
// 跨套接字读取切开的 DEFLATE 块在其余部分到达后照常解压。
func (s *Splice) inflateLoop(onInflated func([]byte), onError func(error)) {
	defer s.worker.Done()
	r := flate.NewReader(s.feed)
	defer r.Close()

	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 && onInflated != nil {
			onInflated(append([]byte(nil), buf[:n]...))
		}
		if err == io.EOF {
			return
		}
		if err != nil {
			if !s.isClosed() && onError != nil {
				onError(fmt.Errorf("compress: 解压: %w", err))
			}
			return
		}
	}
}

func (s *Splice) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close 终止解压工作器并释放压缩器。只在连接拆除时调用。
func (s *Splice) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.feed.close()
	s.worker.Wait()
	return nil
}

// chunkFeed 把推送式的套接字回调适配成 flate 读取器要的拉取式 io.Reader，
// 且绝不阻塞推送方。
type chunkFeed struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    bytes.Buffer
	closed bool
}

func newChunkFeed() *chunkFeed {
	f := &chunkFeed{}
	f.cond = sync.NewCond(&f.mu)
	return f
}

func (f *chunkFeed) push(b []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.buf.Write(b)
	f.cond.Signal()
}

func (f *chunkFeed) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.cond.Broadcast()
}

// Read 阻塞到有字节可读或 feed 被关闭，关闭后报告 io.EOF。
func (f *chunkFeed) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for f.buf.Len() == 0 {
		if f.closed {
			return 0, io.EOF
		}
		f.cond.Wait()
	}
	return f.buf.Read(p)
}
