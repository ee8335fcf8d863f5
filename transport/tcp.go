// Package transport 实现字节传输层协作者：client.Conn 驱动的双工套接字。
// TCP 是真实的 net.Conn 加 TLS 实现；Loopback 是测试用的内存实现。
package transport

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/luhaoyun888/go-imap-core"
)

var dialer = &net.Dialer{
	Timeout: 30 * time.Second, // 连接超时
}

// Options 是传输层的配置。
type Options struct {
	Host string
	Port int

	// UseSecureTransport 为真时在 Open 中完成隐式 TLS 握手；
	// 明文连接之后可用 Upgrade 升级（STARTTLS）。
	UseSecureTransport bool
	CA                 *x509.CertPool

	TLSConfig *tls.Config
}

func (o Options) hostPort() string {
	host := o.Host
	if host == "" {
		host = "localhost"
	}
	port := o.Port
	if port == 0 {
		if o.UseSecureTransport {
			port = 993
		} else {
			port = 143
		}
	}
	return fmt.Sprintf("%s:%d", host, port)
}

// upgradeGate 协调 STARTTLS 期间读取循环与 Upgrade 对套接字的交接：
// Upgrade 设置 gate 并用读截止时间逼出阻塞中的 Read，读取循环在 ack 上
// 停靠应答，Upgrade 独占套接字完成握手与换装，再关闭 resume 放行。
// 在此之前两个 goroutine 会争抢同一条连接上的握手字节。
type upgradeGate struct {
	ack    chan struct{}
	resume chan struct{}
}

// TCP 是 net.Conn 支撑的 imapcore.Transport：UseSecureTransport 为真时
// 隐式 TLS，否则明文 TCP 加就地 Upgrade。UseSecureTransport 的零值为
// false，未设置时 Open 建立的是明文连接（默认端口 143）。
type TCP struct {
	opts Options

	mu       sync.Mutex
	conn     net.Conn
	br       *bufio.Reader
	bw       *bufio.Writer
	onData   func([]byte)
	onClose  func(error)
	certHook imapcore.CertHook
	gate     *upgradeGate

	closed   chan struct{}
	closeErr error
}

// New 构造 TCP 传输层；实际拨号发生在 Open。
func New(opts Options) *TCP {
	return &TCP{opts: opts}
}

func (t *TCP) SetOnData(f func([]byte)) { t.mu.Lock(); t.onData = f; t.mu.Unlock() }
func (t *TCP) SetOnClose(f func(error)) { t.mu.Lock(); t.onClose = f; t.mu.Unlock() }
func (t *TCP) SetCertHook(h imapcore.CertHook) {
	t.mu.Lock()
	t.certHook = h
	t.mu.Unlock()
}

// Open 拨号到配置的 host:port，UseSecureTransport 时先完成隐式 TLS 握手，
// 然后启动喂给 onData 的读取循环。
func (t *TCP) Open(ctx context.Context) error {
	addr := t.opts.hostPort()

	rawConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("transport: 拨号 %s: %w", addr, err)
	}

	conn := rawConn
	if t.opts.UseSecureTransport {
		tlsConn := tls.Client(rawConn, t.tlsConfig())
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			rawConn.Close()
			return fmt.Errorf("transport: TLS 握手: %w", err)
		}
		if err := t.checkPeerCerts(tlsConn); err != nil {
			tlsConn.Close()
			return err
		}
		conn = tlsConn
	}

	t.mu.Lock()
	t.conn = conn
	t.br = bufio.NewReader(conn)
	t.bw = bufio.NewWriter(conn)
	t.closed = make(chan struct{})
	t.mu.Unlock()

	go t.readLoop()
	return nil
}

func (t *TCP) tlsConfig() *tls.Config {
	cfg := t.opts.TLSConfig
	if cfg == nil {
		cfg = &tls.Config{}
	}
	if t.opts.CA != nil && cfg.RootCAs == nil {
		cfg = cfg.Clone()
		cfg.RootCAs = t.opts.CA
	}
	return cfg
}

// checkPeerCerts 就握手出示的每张对端证书咨询信任钩子（初始连接与
// STARTTLS 升级同样适用）。
func (t *TCP) checkPeerCerts(tlsConn *tls.Conn) error {
	hook := t.certHookSnapshot()
	if hook == nil {
		return nil
	}
	for _, cert := range tlsConn.ConnectionState().PeerCertificates {
		if !hook(cert) {
			return fmt.Errorf("transport: 证书被拒绝")
		}
	}
	return nil
}

func (t *TCP) certHookSnapshot() imapcore.CertHook {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.certHook
}

// readLoop 把每个入站数据块喂给 onData，直到套接字关闭或出错，然后恰好
// 调用一次 onClose。每轮都重新取 t.br：Upgrade 换装后继续读的是 TLS 流。
// Read 出错时先看 gate——那是 Upgrade 在要求让出套接字，不是连接故障。
func (t *TCP) readLoop() {
	buf := make([]byte, 4096)
	for {
		t.mu.Lock()
		br := t.br
		t.mu.Unlock()

		n, err := br.Read(buf)
		if n > 0 {
			t.mu.Lock()
			cb := t.onData
			t.mu.Unlock()
			if cb != nil {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				cb(chunk)
			}
		}
		if err != nil {
			t.mu.Lock()
			gate := t.gate
			t.mu.Unlock()
			if gate != nil {
				gate.ack <- struct{}{} // 停靠，套接字交给 Upgrade
				<-gate.resume
				continue
			}
			t.mu.Lock()
			cb := t.onClose
			already := t.closeErr != nil
			if !already {
				t.closeErr = err
			}
			t.mu.Unlock()
			if !already && cb != nil {
				cb(err)
			}
			close(t.closed)
			return
		}
	}
}

// Send 完整写出 b；调用方串行化 Send 调用（核心只有一个写入方）。
func (t *TCP) Send(b []byte) error {
	t.mu.Lock()
	bw := t.bw
	t.mu.Unlock()
	if bw == nil {
		return fmt.Errorf("transport: 尚未打开")
	}
	if _, err := bw.Write(b); err != nil {
		return fmt.Errorf("transport: 写入: %w", err)
	}
	return bw.Flush()
}

// Upgrade 执行就地 STARTTLS 握手。先静默读取循环（设置 gate，用立即到期
// 的读截止时间把它从阻塞的 Read 里逼出来，等它在 ack 上停靠），此后握手
// 独占套接字；再排空 br 里已缓冲的明文，明文与 TLS 阶段之间不丢失任何
// 字节；换装完成后放行读取循环。
func (t *TCP) Upgrade(ctx context.Context) error {
	t.mu.Lock()
	if t.conn == nil {
		t.mu.Unlock()
		return fmt.Errorf("transport: 尚未打开")
	}
	if t.gate != nil {
		t.mu.Unlock()
		return fmt.Errorf("transport: 升级已在进行")
	}
	conn := t.conn
	br := t.br
	closed := t.closed
	gate := &upgradeGate{ack: make(chan struct{}), resume: make(chan struct{})}
	t.gate = gate
	t.mu.Unlock()

	release := func() {
		t.mu.Lock()
		t.gate = nil
		t.mu.Unlock()
		close(gate.resume)
	}

	conn.SetReadDeadline(time.Now())
	select {
	case <-gate.ack:
	case <-closed:
		release()
		return fmt.Errorf("transport: 连接已关闭")
	}
	conn.SetReadDeadline(time.Time{})

	var buffered bytes.Buffer
	if n := br.Buffered(); n > 0 {
		if _, err := io.CopyN(&buffered, br, int64(n)); err != nil {
			release()
			return fmt.Errorf("transport: 排空缓冲明文: %w", err)
		}
	}

	var cleartext net.Conn = conn
	if buffered.Len() > 0 {
		cleartext = drainedConn{Conn: conn, r: io.MultiReader(&buffered, conn)}
	}

	tlsConn := tls.Client(cleartext, t.tlsConfig())
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		release()
		return fmt.Errorf("transport: STARTTLS 握手: %w", err)
	}
	if err := t.checkPeerCerts(tlsConn); err != nil {
		tlsConn.Close()
		release()
		return err
	}

	t.mu.Lock()
	t.conn = tlsConn
	t.br = bufio.NewReader(tlsConn)
	t.bw = bufio.NewWriter(tlsConn)
	t.gate = nil
	t.mu.Unlock()
	close(gate.resume)
	return nil
}

// Close 拆除套接字；幂等。
func (t *TCP) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// drainedConn 把先前缓冲的明文接在底层连接的后续读取之前。
type drainedConn struct {
	net.Conn
	r io.Reader
}

func (d drainedConn) Read(b []byte) (int, error) { return d.r.Read(b) }
