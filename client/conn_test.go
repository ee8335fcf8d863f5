package client

import (
	"context"
	"crypto/x509"
	"errors"
	"testing"
	"time"

	"github.com/luhaoyun888/go-imap-core"
	"github.com/luhaoyun888/go-imap-core/transport"
	"github.com/luhaoyun888/go-imap-core/wire"
)

func newTestConn(t *testing.T) (*Conn, *transport.Loopback) {
	t.Helper()
	tr := transport.NewLoopback()
	conn := New(Options{Codec: wire.Codec{}, Transport: tr})
	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() = %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn, tr
}

// waitSent 轮询回环传输层，直到捕获到至少一个发送的数据块。
// 预检查在独立 goroutine 上运行，随后的发送因此是异步的。
func waitSent(t *testing.T, tr *transport.Loopback) [][]byte {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sent := tr.Sent(); len(sent) > 0 {
			return sent
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("超时：没有捕获到发送的数据块")
	return nil
}

func TestConnGreetingFlipsReady(t *testing.T) {
	conn, tr := newTestConn(t)

	var ready bool
	conn.mu.Lock()
	conn.observer = observerFunc{onReady: func() { ready = true }}
	conn.mu.Unlock()

	tr.Feed([]byte("* OK [CAPABILITY IMAP4rev1] ready\r\n"))

	if !ready {
		t.Fatal("期望首个响应单元触发 OnReady")
	}
	if !conn.Ready() {
		t.Fatal("期望 Ready() 为真")
	}
}

func TestConnEnqueueRoundTrip(t *testing.T) {
	conn, tr := newTestConn(t)
	tr.Feed([]byte("* OK ready\r\n"))
	tr.Sent()

	req := wire.NewBuilder("NOOP").Build()
	handle := conn.Enqueue(req, nil, EnqueueOptions{})

	sent := tr.Sent()
	if len(sent) != 1 || string(sent[0]) != "W1 NOOP\r\n" {
		t.Fatalf("意外的发送字节: %q", sent)
	}

	tr.Feed([]byte("W1 OK done\r\n"))

	resp, err := handle.Wait()
	if err != nil {
		t.Fatalf("Wait() = %v", err)
	}
	if resp.Tag != "W1" || resp.Command != "OK" {
		t.Fatalf("意外的响应: %+v", resp)
	}
}

func TestConnUntaggedPayloadRoutedToCommand(t *testing.T) {
	conn, tr := newTestConn(t)
	tr.Feed([]byte("* OK ready\r\n"))
	tr.Sent()

	req := wire.NewBuilder("FETCH").SP().Atom("1").SP().Atom("FLAGS").Build()
	handle := conn.Enqueue(req, []string{"FETCH"}, EnqueueOptions{})
	tr.Sent()

	tr.Feed([]byte("* 1 FETCH (FLAGS (\\Seen))\r\n"))
	tr.Feed([]byte("W1 OK done\r\n"))

	resp, err := handle.Wait()
	if err != nil {
		t.Fatalf("Wait() = %v", err)
	}
	fetched := resp.Payload["FETCH"]
	if len(fetched) != 1 || fetched[0].Number != 1 {
		t.Fatalf("期望恰好一条路由到命令的 FETCH 响应，得到 %+v", fetched)
	}
}

func TestConnNOResponseMapsToError(t *testing.T) {
	conn, tr := newTestConn(t)
	tr.Feed([]byte("* OK ready\r\n"))
	tr.Sent()

	req := wire.NewBuilder("SELECT").SP().Atom("NoSuchMailbox").Build()
	handle := conn.Enqueue(req, nil, EnqueueOptions{})
	tr.Sent()

	tr.Feed([]byte("W1 NO [NONEXISTENT] no such mailbox\r\n"))

	_, err := handle.Wait()
	if err == nil {
		t.Fatal("期望一个错误")
	}
	ce, ok := err.(*imapcore.Error)
	if !ok {
		t.Fatalf("期望 *imapcore.Error，得到 %T", err)
	}
	if ce.Kind != imapcore.ErrCommand || ce.Code != "NONEXISTENT" || ce.Message != "no such mailbox" {
		t.Fatalf("意外的错误: %+v", ce)
	}
}

func TestConnContinuationDrivesNextChunk(t *testing.T) {
	conn, tr := newTestConn(t)
	tr.Feed([]byte("* OK ready\r\n"))
	tr.Sent()

	req := wire.NewBuilder("APPEND").SP().Atom("INBOX").SP().
		Literal([]byte("hello"), false).Build()
	handle := conn.Enqueue(req, nil, EnqueueOptions{})

	sent := tr.Sent()
	if len(sent) != 1 || string(sent[0]) != "W1 APPEND INBOX {5}\r\n" {
		t.Fatalf("意外的首个数据块: %q", sent)
	}

	tr.Feed([]byte("+ go ahead\r\n"))
	sent = tr.Sent()
	if len(sent) != 1 || string(sent[0]) != "hello\r\n" {
		t.Fatalf("继续提示后意外的数据块: %q", sent)
	}

	tr.Feed([]byte("W1 OK done\r\n"))
	if _, err := handle.Wait(); err != nil {
		t.Fatalf("Wait() = %v", err)
	}
}

func TestConnContinuationEmptyLineOnError(t *testing.T) {
	conn, tr := newTestConn(t)
	tr.Feed([]byte("* OK ready\r\n"))
	tr.Sent()

	req := wire.NewBuilder("AUTHENTICATE").SP().Atom("PLAIN").Build()
	handle := conn.Enqueue(req, nil, EnqueueOptions{ErrorResponseExpectsEmptyLine: true})
	tr.Sent()

	// 已无剩余数据块；服务器的挑战被以裸 CRLF 应答。
	tr.Feed([]byte("+ challenge\r\n"))
	sent := tr.Sent()
	if len(sent) != 1 || string(sent[0]) != "\r\n" {
		t.Fatalf("期望裸 CRLF，得到 %q", sent)
	}

	tr.Feed([]byte("W1 NO auth failed\r\n"))
	if _, err := handle.Wait(); err == nil {
		t.Fatal("期望认证失败的错误")
	}
}

func TestConnPriorityInsertionSuffixesTags(t *testing.T) {
	conn, tr := newTestConn(t)
	tr.Feed([]byte("* OK ready\r\n"))
	tr.Sent()

	conn.mu.Lock()
	conn.canSend = false
	conn.mu.Unlock()

	first := conn.Enqueue(wire.NewBuilder("A").Build(), nil, EnqueueOptions{})
	second := conn.Enqueue(wire.NewBuilder("B").Build(), nil, EnqueueOptions{Ctx: first})

	conn.mu.Lock()
	if len(conn.queue) != 2 || conn.queue[0].tag != "W2.p" || conn.queue[1].tag != "W1.p" {
		tags := []string{}
		for _, q := range conn.queue {
			tags = append(tags, q.tag)
		}
		conn.mu.Unlock()
		t.Fatalf("意外的队列顺序/标记: %v", tags)
	}
	conn.canSend = true
	conn.mu.Unlock()
	conn.mu.Lock()
	conn.sendNextLocked()
	conn.mu.Unlock()

	sent := tr.Sent()
	if len(sent) != 1 || string(sent[0]) != "W2.p B\r\n" {
		t.Fatalf("期望优先命令先派发，得到 %q", sent)
	}

	tr.Feed([]byte("W2.p OK done\r\n"))
	if _, err := second.Wait(); err != nil {
		t.Fatalf("Wait() = %v", err)
	}

	sent = tr.Sent()
	if len(sent) != 1 || string(sent[0]) != "W1.p A\r\n" {
		t.Fatalf("期望被插队的命令以新标记派发，得到 %q", sent)
	}

	tr.Feed([]byte("W1.p OK done\r\n"))
	if _, err := first.Wait(); err != nil {
		t.Fatalf("Wait() = %v", err)
	}
}

// TestConnPriorityInsertionFallsBackToTail 验证锚点已派发（不再排队）时，
// 优先插入退化为队尾追加，标记不加 ".p" 后缀。
func TestConnPriorityInsertionFallsBackToTail(t *testing.T) {
	conn, tr := newTestConn(t)
	tr.Feed([]byte("* OK ready\r\n"))
	tr.Sent()

	first := conn.Enqueue(wire.NewBuilder("A").Build(), nil, EnqueueOptions{})
	sent := tr.Sent()
	if len(sent) != 1 || string(sent[0]) != "W1 A\r\n" {
		t.Fatalf("意外的发送字节: %q", sent)
	}

	second := conn.Enqueue(wire.NewBuilder("B").Build(), nil, EnqueueOptions{Ctx: first})

	tr.Feed([]byte("W1 OK done\r\n"))
	if _, err := first.Wait(); err != nil {
		t.Fatalf("Wait() = %v", err)
	}

	sent = tr.Sent()
	if len(sent) != 1 || string(sent[0]) != "W2 B\r\n" {
		t.Fatalf("期望退化为队尾追加的普通标记，得到 %q", sent)
	}
	tr.Feed([]byte("W2 OK done\r\n"))
	if _, err := second.Wait(); err != nil {
		t.Fatalf("Wait() = %v", err)
	}
}

// TestConnPrecheckInsertsPreparatoryCommand 驱动预检查流程：队首命令的
// 预检查以 Ctx 入队一条准备性命令，后者继承优先级、先行派发，
// 且任一时刻只有一条命令在途。
func TestConnPrecheckInsertsPreparatoryCommand(t *testing.T) {
	conn, tr := newTestConn(t)
	tr.Feed([]byte("* OK ready\r\n"))
	tr.Sent()

	anchorReady := make(chan struct{})
	prepCh := make(chan *Handle, 1)
	var anchor *Handle
	anchor = conn.Enqueue(wire.NewBuilder("C").Build(), nil, EnqueueOptions{
		Precheck: func(ctx context.Context) error {
			<-anchorReady
			prepCh <- conn.Enqueue(wire.NewBuilder("P").Build(), nil, EnqueueOptions{Ctx: anchor})
			return nil
		},
	})
	close(anchorReady)
	prep := <-prepCh

	sent := waitSent(t, tr)
	if len(sent) != 1 || string(sent[0]) != "W2.p P\r\n" {
		t.Fatalf("期望准备性命令先派发，得到 %q", sent)
	}

	tr.Feed([]byte("W2.p OK done\r\n"))
	if _, err := prep.Wait(); err != nil {
		t.Fatalf("Wait() = %v", err)
	}

	sent = waitSent(t, tr)
	if len(sent) != 1 || string(sent[0]) != "W1.p C\r\n" {
		t.Fatalf("期望原命令随后派发，得到 %q", sent)
	}
	tr.Feed([]byte("W1.p OK done\r\n"))
	if _, err := anchor.Wait(); err != nil {
		t.Fatalf("Wait() = %v", err)
	}
}

func TestConnPrecheckFailureRejectsCommand(t *testing.T) {
	conn, tr := newTestConn(t)
	tr.Feed([]byte("* OK ready\r\n"))
	tr.Sent()

	handle := conn.Enqueue(wire.NewBuilder("C").Build(), nil, EnqueueOptions{
		Precheck: func(ctx context.Context) error {
			return errors.New("mailbox unavailable")
		},
	})

	_, err := handle.Wait()
	ce, ok := err.(*imapcore.Error)
	if !ok || ce.Kind != imapcore.ErrPrecheck {
		t.Fatalf("期望 ErrPrecheck，得到 %v", err)
	}
	if sent := tr.Sent(); len(sent) != 0 {
		t.Fatalf("预检查失败的命令不应上线，得到 %q", sent)
	}
}

func TestConnCloseRejectsPending(t *testing.T) {
	conn, tr := newTestConn(t)
	tr.Feed([]byte("* OK ready\r\n"))
	tr.Sent()

	handle := conn.Enqueue(wire.NewBuilder("NOOP").Build(), nil, EnqueueOptions{})
	conn.Close()

	_, err := handle.Wait()
	if err == nil {
		t.Fatal("期望 ErrClosed")
	}
	ce, ok := err.(*imapcore.Error)
	if !ok || ce.Kind != imapcore.ErrClosed {
		t.Fatalf("期望 ErrClosed，得到 %v", err)
	}
}

// TestConnTransportCloseIsFatal 验证致命路径：传输层意外关闭导致连接
// 被关闭、在途命令被拒绝、OnError 以 ErrTransport 触发。
func TestConnTransportCloseIsFatal(t *testing.T) {
	conn, tr := newTestConn(t)

	errCh := make(chan error, 1)
	conn.mu.Lock()
	conn.observer = observerFunc{onError: func(err error) { errCh <- err }}
	conn.mu.Unlock()

	tr.Feed([]byte("* OK ready\r\n"))
	tr.Sent()

	handle := conn.Enqueue(wire.NewBuilder("NOOP").Build(), nil, EnqueueOptions{})
	tr.SimulateClose(errors.New("connection reset"))

	select {
	case err := <-errCh:
		ce, ok := err.(*imapcore.Error)
		if !ok || ce.Kind != imapcore.ErrTransport {
			t.Fatalf("期望 ErrTransport，得到 %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("超时：OnError 未触发")
	}

	_, err := handle.Wait()
	ce, ok := err.(*imapcore.Error)
	if !ok || ce.Kind != imapcore.ErrClosed {
		t.Fatalf("期望在途命令被 ErrClosed 拒绝，得到 %v", err)
	}
}

func TestConnIdleFiresAfterQueueEmpties(t *testing.T) {
	conn, _ := newTestConn(t)

	idled := make(chan struct{}, 1)
	conn.mu.Lock()
	conn.observer = observerFunc{onIdle: func() { idled <- struct{}{} }}
	conn.armIdleLockedWithDelay(20 * time.Millisecond)
	conn.mu.Unlock()

	select {
	case <-idled:
	case <-time.After(time.Second):
		t.Fatal("期望 OnIdle 触发")
	}
}

type observerFunc struct {
	onReady func()
	onIdle  func()
	onError func(error)
	onCert  func(*x509.Certificate) bool
}

func (o observerFunc) OnReady() {
	if o.onReady != nil {
		o.onReady()
	}
}
func (o observerFunc) OnIdle() {
	if o.onIdle != nil {
		o.onIdle()
	}
}
func (o observerFunc) OnError(err error) {
	if o.onError != nil {
		o.onError(err)
	}
}
func (o observerFunc) OnCert(cert *x509.Certificate) bool {
	if o.onCert != nil {
		return o.onCert(cert)
	}
	return true
}
