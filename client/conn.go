// Package client 实现 IMAP 客户端的传输核心：帧读取器、响应路由器、
// 带优先插入的命令队列与发送器、压缩层的接线，以及超时与空闲计时器，
// 全部状态由单一互斥锁串行化。
package client

import (
	"context"
	"crypto/x509"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/luhaoyun888/go-imap-core"
	"github.com/luhaoyun888/go-imap-core/compress"
)

// Options 是构造 Conn 的配置。
type Options struct {
	Codec     imapcore.Codec
	Transport imapcore.Transport
	Observer  Observer
	Logger    *slog.Logger

	// Secure 表示传输层从一开始就受 TLS 保护（隐式 TLS，993 端口）。
	// 明文连接经 Upgrade 升级后该状态同样置位。
	Secure bool
}

// Conn 是传输核心：一条 IMAP 连接的帧解析、路由、队列与压缩状态，
// 全部由 c.mu 持有。
type Conn struct {
	codec     imapcore.Codec
	transport imapcore.Transport
	observer  Observer
	logger    *slog.Logger

	mu         sync.Mutex
	framer     framer
	queue      []*command
	current    *command
	canSend    bool
	ready      bool
	secure     bool
	compressed bool
	splice     *compress.Splice
	tagCounter uint64

	restartPending bool
	handlers       map[string]func(*imapcore.Response)

	responseTimer timerHandle
	idleTimer     timerHandle

	group   *errgroup.Group
	cancel  context.CancelFunc
	closed  bool
	faultCh chan error
}

// timerHandle 由 *time.Timer 满足；收窄为接口以便测试替换。
type timerHandle interface {
	Stop() bool
}

// New 构造一个 Conn。调用 Connect 打开传输层。
func New(opts Options) *Conn {
	observer := opts.Observer
	if observer == nil {
		observer = NopObserver{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Conn{
		codec:     opts.Codec,
		transport: opts.Transport,
		observer:  observer,
		logger:    logger,
		secure:    opts.Secure,
		handlers:  make(map[string]func(*imapcore.Response)),
	}
}

// Connect 打开传输层并启动监督 goroutine：传输层关闭回调、压缩工作器
// 等任一来源的首个致命错误，经 errgroup 触发恰好一次的关闭加 OnError。
func (c *Conn) Connect(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	g, gctx := errgroup.WithContext(ctx)
	faultCh := make(chan error, 1)

	c.mu.Lock()
	c.cancel = cancel
	c.canSend = true
	c.group = g
	c.faultCh = faultCh
	c.mu.Unlock()

	c.transport.SetOnData(func(b []byte) {
		c.mu.Lock()
		c.onTransportDataLocked(b)
		c.mu.Unlock()
	})
	c.transport.SetOnClose(func(err error) {
		c.reportFault(&imapcore.Error{Kind: imapcore.ErrTransport, Message: errString(err)})
	})
	c.transport.SetCertHook(func(cert *x509.Certificate) bool {
		c.mu.Lock()
		observer := c.observer
		c.mu.Unlock()
		if observer == nil {
			return true
		}
		return observer.OnCert(cert)
	})

	g.Go(func() error {
		select {
		case err := <-faultCh:
			return err
		case <-gctx.Done():
			return nil
		}
	})
	go func() {
		if err := g.Wait(); err != nil {
			c.fatal(err)
		}
	}()

	if err := c.transport.Open(ctx); err != nil {
		cancel()
		return fmt.Errorf("client: 打开传输层: %w", err)
	}
	return nil
}

// reportFault 把受监督 goroutine（传输层关闭回调或压缩工作器）的致命错误
// 投递给 errgroup；只保留第一次报告。
func (c *Conn) reportFault(err error) {
	c.mu.Lock()
	ch := c.faultCh
	c.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- err:
	default:
	}
}

// handleUnitLocked 把帧读取器产出的一个完整单元依次送过编解码器、
// 响应处理器和路由器。调用方必须持有 c.mu。
func (c *Conn) handleUnitLocked(unit []byte) {
	r, err := c.codec.Parse(unit)
	if err != nil {
		c.fatalLocked(&imapcore.Error{Kind: imapcore.ErrFraming, Message: err.Error()})
		return
	}
	r = imapcore.ProcessResponse(r)
	c.routeLocked(r)
}

// EnableCompression 在与服务器协商 COMPRESS=DEFLATE（RFC 4978）之后
// 安装压缩层。
func (c *Conn) EnableCompression() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enableCompressionLocked()
}

// SetHandler 为 command 注册全局未标记响应处理器。
func (c *Conn) SetHandler(command string, handler func(*imapcore.Response)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[strings.ToUpper(command)] = handler
}

// Upgrade 要求传输层就地升级到 TLS（STARTTLS）。
func (c *Conn) Upgrade(ctx context.Context) error {
	if err := c.transport.Upgrade(ctx); err != nil {
		return fmt.Errorf("client: 升级 TLS: %w", err)
	}
	c.mu.Lock()
	c.secure = true
	c.mu.Unlock()
	return nil
}

// Secure 报告传输层当前是否受 TLS 保护。
func (c *Conn) Secure() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.secure
}

// Ready 报告是否已解析到首个服务器响应（问候语）。
func (c *Conn) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// Close 拆除连接：取消计时器、清空队列（以 ErrClosed 拒绝每个挂起命令）、
// 卸下套接字回调、停用压缩并关闭传输层。幂等。
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.cancelResponseTimeoutLocked()
	c.cancelIdleLocked()
	c.framer.reset()
	sp := c.detachSpliceLocked()

	pending := c.queue
	c.queue = nil
	cur := c.current
	c.current = nil
	c.canSend = false

	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()

	// 压缩工作器的回调会取 c.mu，必须先释放锁再等它退出。
	if sp != nil {
		sp.Close()
	}

	closedErr := &imapcore.Error{Kind: imapcore.ErrClosed, Message: imapcore.ErrConnectionClosed}
	for _, cmd := range pending {
		cmd.callback(nil, closedErr)
	}
	if cur != nil {
		cur.callback(nil, closedErr)
	}

	c.transport.SetOnData(nil)
	c.transport.SetOnClose(nil)
	c.transport.SetCertHook(nil)
	return c.transport.Close()
}

// Logout 入队 LOGOUT 命令，等它完成（或套接字随之关闭）后拆除连接。
func (c *Conn) Logout(req imapcore.Request) error {
	handle := c.Enqueue(req, nil, EnqueueOptions{})
	_, err := handle.Wait()
	closeErr := c.Close()
	if err != nil {
		return err
	}
	return closeErr
}

// fatal 先取锁再走致命错误路径；供在 c.mu 之外触发的回调
// （计时器、传输层关闭）使用。
func (c *Conn) fatal(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fatalLocked(err)
}

// fatalLocked 是致命错误路径：先关闭，再通知 OnError。调用方必须持有
// c.mu；Close 自己取锁，因此这里围绕它释放并重取。
func (c *Conn) fatalLocked(err error) {
	if c.closed {
		return
	}
	c.mu.Unlock()
	c.Close()
	c.mu.Lock()
	if c.observer != nil {
		observer := c.observer
		c.mu.Unlock()
		observer.OnError(err)
		c.mu.Lock()
	}
}

func errString(err error) string {
	if err == nil {
		return "connection closed"
	}
	return err.Error()
}
