package client

import (
	"github.com/luhaoyun888/go-imap-core"
	"github.com/luhaoyun888/go-imap-core/compress"
)

// enableCompressionLocked 激活压缩层：把传输层的入站回调换成把每个数据块
// 转交解压工作器的 s.Inflate，随后的发送则改道压缩器。解压出的字节经工作器
// 回调送入帧读取器，走的是与 Connect 所装回调相同的路径（这里新建该回调，
// 不读取传输层当前的回调）。调用方必须持有 c.mu。
func (c *Conn) enableCompressionLocked() error {
	if c.splice != nil {
		return nil
	}

	prevOnData := func(plain []byte) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closed {
			return
		}
		c.onTransportDataLocked(plain)
	}
	s, err := compress.New(prevOnData, func(err error) {
		c.reportFault(&imapcore.Error{Kind: imapcore.ErrCompression, Message: err.Error()})
	})
	if err != nil {
		return err
	}

	c.splice = s
	c.compressed = true
	c.transport.SetOnData(s.Inflate)
	return nil
}

// detachSpliceLocked 在关闭时摘下压缩层，恢复传输层直达帧读取器的入站
// 路径，并把它返回给调用方在 c.mu 之外终止解压工作器（工作器的回调要取
// c.mu，持锁等它会死锁）。调用方必须持有 c.mu。
func (c *Conn) detachSpliceLocked() *compress.Splice {
	s := c.splice
	if s == nil {
		return nil
	}
	c.splice = nil
	c.compressed = false
	c.transport.SetOnData(func(b []byte) {
		c.mu.Lock()
		c.onTransportDataLocked(b)
		c.mu.Unlock()
	})
	return s
}

// onTransportDataLocked 是入站字节路径：传输层（压缩激活后则是解压工作器）
// 的数据块喂给帧读取器，每个完整单元送过编解码器与路由器。
func (c *Conn) onTransportDataLocked(b []byte) {
	c.cancelResponseTimeoutLocked()
	c.framer.feed(b)
	for _, unit := range c.framer.next() {
		c.handleUnitLocked(unit)
	}
}

// writeLocked 向传输层发送字节，压缩激活时先压缩。调用方必须持有 c.mu。
func (c *Conn) writeLocked(b []byte) {
	if c.compressed && c.splice != nil {
		out, err := c.splice.Deflate(b)
		if err != nil {
			c.fatalLocked(&imapcore.Error{Kind: imapcore.ErrCompression, Message: err.Error()})
			return
		}
		b = out
	}
	if err := c.transport.Send(b); err != nil {
		c.fatalLocked(&imapcore.Error{Kind: imapcore.ErrTransport, Message: err.Error()})
	}
}
