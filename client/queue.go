package client

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/luhaoyun888/go-imap-core"
)

// command 是一条已入队或在途的请求记录。调用方只会见到 Enqueue 返回的句柄。
type command struct {
	tag            string
	req            imapcore.Request
	chunks         [][]byte
	acceptUntagged map[string]bool
	payload        map[string][]*imapcore.Response

	precheck                      func(ctx context.Context) error
	ctx                           *command // 优先插入的锚点
	errorResponseExpectsEmptyLine bool

	callback func(*imapcore.Response, error)
}

// newCommandPayload 为每个接受的未标记命令名预建空桶，
// 路由器就无需对 payload[name] 做空值检查。
func newCommandPayload(acceptUntagged map[string]bool) map[string][]*imapcore.Response {
	payload := make(map[string][]*imapcore.Response, len(acceptUntagged))
	for name := range acceptUntagged {
		payload[name] = nil
	}
	return payload
}

// hasPayload 报告是否有任一未标记响应桶收到了至少一条响应。
func (c *command) hasPayload() bool {
	for _, v := range c.payload {
		if len(v) > 0 {
			return true
		}
	}
	return false
}

// EnqueueOptions 携带 Enqueue 调用的可选字段。
type EnqueueOptions struct {
	// Ctx 非空时是本连接上一次 Enqueue 返回的句柄。它仍在排队时，新命令
	// 被插入到它之前，两者的标记都追加 ".p" 后缀；它已出队（已派发或已
	// 完成）时，新命令追加到队尾，标记不加后缀。
	Ctx *Handle

	// Precheck 设置后在该命令发送前异步运行；上层用它在用户命令到达线路
	// 之前插入准备性命令（例如 SELECT）——把 Ctx 设为本命令的句柄入队即可。
	Precheck func(ctx context.Context) error

	// ErrorResponseExpectsEmptyLine 标记这样的命令：失败路径上服务器期望
	// 收到一个裸 CRLF 作为应答，而不是沉默（此时已无剩余数据块可发）。
	ErrorResponseExpectsEmptyLine bool
}

// Handle 由 Enqueue 返回；Wait 阻塞到该命令的标记完成（或连接关闭）。
type Handle struct {
	cmd  *command
	once sync.Once
	done chan struct{}
	resp *imapcore.Response
	err  error
}

// Wait 阻塞到命令完成，成功时返回其标记 Response，
// 失败时返回结构化的 *imapcore.Error。
func (h *Handle) Wait() (*imapcore.Response, error) {
	<-h.done
	return h.resp, h.err
}

// resolve 恰好生效一次；竞争的解决方（标记完成、关闭、预检查失败）
// 中只有第一个胜出。
func (h *Handle) resolve(resp *imapcore.Response, err error) {
	h.once.Do(func() {
		h.resp = resp
		h.err = err
		close(h.done)
	})
}

// Enqueue 把请求入队：规范化 acceptUntagged 为大写集合，分配单调递增的
// 标记 "W<n>"，预建响应桶；Ctx 指向仍在排队的命令时执行优先插入，
// 否则追加到队尾。canSend 时立即尝试发送。
func (c *Conn) Enqueue(req imapcore.Request, acceptUntagged []string, opts EnqueueOptions) *Handle {
	c.mu.Lock()
	defer c.mu.Unlock()

	accept := make(map[string]bool, len(acceptUntagged))
	for _, name := range acceptUntagged {
		accept[strings.ToUpper(name)] = true
	}

	c.tagCounter++
	tag := "W" + strconv.FormatUint(c.tagCounter, 10)

	cmd := &command{
		tag:                           tag,
		req:                           req,
		acceptUntagged:                accept,
		payload:                       newCommandPayload(accept),
		precheck:                      opts.Precheck,
		errorResponseExpectsEmptyLine: opts.ErrorResponseExpectsEmptyLine,
	}

	handle := &Handle{cmd: cmd, done: make(chan struct{})}
	cmd.callback = func(resp *imapcore.Response, err error) {
		handle.resolve(resp, err)
	}

	if opts.Ctx != nil {
		anchor := opts.Ctx.cmd
		cmd.ctx = anchor
		if idx := c.indexOfQueued(anchor); idx >= 0 {
			cmd.tag = tag + ".p"
			anchor.tag = anchor.tag + ".p"
			anchor.req.SetTag(anchor.tag)
			req.SetTag(cmd.tag)
			c.queue = append(c.queue, nil)
			copy(c.queue[idx+1:], c.queue[idx:])
			c.queue[idx] = cmd
		} else {
			// 锚点已出队（已派发或已完成），退回到队尾追加。
			req.SetTag(cmd.tag)
			c.queue = append(c.queue, cmd)
		}
	} else {
		req.SetTag(cmd.tag)
		c.queue = append(c.queue, cmd)
	}

	if c.canSend {
		c.sendNextLocked()
	}

	return handle
}

// indexOfQueued 返回 cmd 在 c.queue 中的下标；已不在队列（已派发或已完成）
// 时返回 -1。
func (c *Conn) indexOfQueued(cmd *command) int {
	for i, q := range c.queue {
		if q == cmd {
			return i
		}
	}
	return -1
}

// sendNextLocked 推进发送器：队列空则武装空闲计时器；队首带预检查则先
// 异步运行它；否则把队首提为当前命令并发出首个数据块。
// 调用方必须持有 c.mu。
func (c *Conn) sendNextLocked() {
	if c.current != nil {
		return
	}
	if len(c.queue) == 0 {
		c.armIdleLocked()
		return
	}
	c.cancelIdleLocked()

	head := c.queue[0]
	if head.precheck != nil {
		precheck := head.precheck
		head.precheck = nil
		c.restartPending = true
		go func() {
			err := precheck(context.Background())
			c.mu.Lock()
			defer c.mu.Unlock()
			if c.closed {
				return
			}
			if err != nil {
				c.restartPending = false
				c.removeQueuedLocked(head)
				head.callback(nil, &imapcore.Error{Kind: imapcore.ErrPrecheck, Message: err.Error()})
				c.sendNextLocked()
				return
			}
			if c.restartPending {
				c.restartPending = false
				c.sendNextLocked()
			}
		}()
		return
	}

	c.queue = c.queue[1:]
	c.current = head
	c.canSend = false

	chunks, err := c.codec.Compile(head.req)
	if err != nil {
		c.current = nil
		c.canSend = true
		head.callback(nil, &imapcore.Error{Kind: imapcore.ErrCommand, Message: err.Error()})
		c.sendNextLocked()
		return
	}
	head.chunks = chunks

	c.sendChunkLocked(len(chunks) == 1)
}

// sendChunkLocked 弹出并写出当前命令的下一个数据块；last 为真时追加 CRLF。
func (c *Conn) sendChunkLocked(last bool) {
	cmd := c.current
	if cmd == nil || len(cmd.chunks) == 0 {
		return
	}
	chunk := cmd.chunks[0]
	cmd.chunks = cmd.chunks[1:]

	out := chunk
	if last {
		out = append(append([]byte{}, chunk...), '\r', '\n')
	}
	c.armResponseTimeoutLocked(len(out))
	c.writeLocked(out)
}

func (c *Conn) removeQueuedLocked(cmd *command) {
	for i, q := range c.queue {
		if q == cmd {
			c.queue = append(c.queue[:i], c.queue[i+1:]...)
			return
		}
	}
}

