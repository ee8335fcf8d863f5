package client

import (
	"time"

	"github.com/luhaoyun888/go-imap-core"
)

const (
	responseTimeoutLowerBound = 10 * time.Second        // 响应超时下界
	responseTimeoutPerByte    = 100 * time.Millisecond  // 每发送字节追加的超时
	idleEntryTimeout          = 1000 * time.Millisecond // 进入空闲的等待
)

// armResponseTimeoutLocked 在发出 nbytes 字节后武装响应超时计时器：
// 下界加按字节数缩放的量。任何入站字节都会取消它。
func (c *Conn) armResponseTimeoutLocked(nbytes int) {
	c.cancelResponseTimeoutLocked()
	d := responseTimeoutLowerBound + time.Duration(nbytes)*responseTimeoutPerByte
	c.responseTimer = time.AfterFunc(d, func() {
		c.onResponseTimeout()
	})
}

func (c *Conn) cancelResponseTimeoutLocked() {
	if c.responseTimer != nil {
		c.responseTimer.Stop()
		c.responseTimer = nil
	}
}

// onResponseTimeout 在武装窗口内没有任何入站字节时触发：致命。
func (c *Conn) onResponseTimeout() {
	c.fatal(&imapcore.Error{Kind: imapcore.ErrTimeout, Message: "socket timed out"})
}

// armIdleLocked 武装空闲计时器；任何队列或响应活动都会取消它。
func (c *Conn) armIdleLocked() {
	c.armIdleLockedWithDelay(idleEntryTimeout)
}

// armIdleLockedWithDelay 是可注入延迟的 armIdleLocked，
// 测试不必等满 idleEntryTimeout 才观察到 OnIdle。
func (c *Conn) armIdleLockedWithDelay(d time.Duration) {
	c.cancelIdleLocked()
	c.idleTimer = time.AfterFunc(d, func() {
		c.mu.Lock()
		observer := c.observer
		c.mu.Unlock()
		if observer != nil {
			observer.OnIdle()
		}
	})
}

func (c *Conn) cancelIdleLocked() {
	if c.idleTimer != nil {
		c.idleTimer.Stop()
		c.idleTimer = nil
	}
}
