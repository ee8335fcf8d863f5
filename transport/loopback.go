package transport

import (
	"context"
	"sync"

	"github.com/luhaoyun888/go-imap-core"
)

// Loopback 是测试用的内存 imapcore.Transport：交给 Send 的字节被捕获
// 而非写往套接字，Feed 让测试像服务器发来一样注入入站字节。
type Loopback struct {
	mu       sync.Mutex
	sent     [][]byte
	onData   func([]byte)
	onClose  func(error)
	certHook imapcore.CertHook
	opened   bool
	closed   bool
}

// NewLoopback 构造一个未打开的 Loopback 传输层。
func NewLoopback() *Loopback {
	return &Loopback{}
}

func (l *Loopback) Open(ctx context.Context) error {
	l.mu.Lock()
	l.opened = true
	l.mu.Unlock()
	return nil
}

func (l *Loopback) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

func (l *Loopback) Send(b []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := make([]byte, len(b))
	copy(cp, b)
	l.sent = append(l.sent, cp)
	return nil
}

func (l *Loopback) SetOnData(f func([]byte)) { l.mu.Lock(); l.onData = f; l.mu.Unlock() }
func (l *Loopback) SetOnClose(f func(error)) { l.mu.Lock(); l.onClose = f; l.mu.Unlock() }
func (l *Loopback) SetCertHook(h imapcore.CertHook) {
	l.mu.Lock()
	l.certHook = h
	l.mu.Unlock()
}

// Upgrade 对回环传输层是空操作；关心升级顺序的测试另行断言。
func (l *Loopback) Upgrade(ctx context.Context) error { return nil }

// Feed 把 b 交给已注册的 onData 回调，如同它刚从对端到达。
func (l *Loopback) Feed(b []byte) {
	l.mu.Lock()
	cb := l.onData
	l.mu.Unlock()
	if cb != nil {
		cb(b)
	}
}

// Sent 取走并返回 Send 迄今捕获的全部数据块。
func (l *Loopback) Sent() [][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.sent
	l.sent = nil
	return out
}

// SimulateClose 以 err 调用已注册的 onClose 回调，如同对端关闭了套接字。
func (l *Loopback) SimulateClose(err error) {
	l.mu.Lock()
	cb := l.onClose
	l.mu.Unlock()
	if cb != nil {
		cb(err)
	}
}
