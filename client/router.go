package client

import "github.com/luhaoyun888/go-imap-core"

// routeLocked 给定一条已处理的响应和当前命令（可能为空），决定它的去向
// 以及队列能否推进。调用方必须持有 c.mu。
func (c *Conn) routeLocked(r *imapcore.Response) {
	if !c.ready {
		c.ready = true
		if c.observer != nil {
			c.observer.OnReady()
		}
	}

	cur := c.current

	switch {
	case r.Tag == "+":
		c.routeContinuationLocked(r, cur)

	case cur == nil:
		if r.Tag == "*" {
			c.invokeGlobalHandlerLocked(r)
		}
		c.canSend = true
		c.sendNextLocked()

	case r.Tag == "*" && cur.acceptUntagged[r.Command]:
		cur.payload[r.Command] = append(cur.payload[r.Command], r)

	case r.Tag == "*":
		// 当前命令未认领的未标记响应落到全局处理器。
		c.invokeGlobalHandlerLocked(r)
		c.canSend = true
		c.sendNextLocked()

	case r.Tag == cur.tag:
		c.completeCurrentLocked(r)

	default:
		// 非未标记响应上的标记不匹配：不应出现，但也不致命。记录后丢弃。
		if c.logger != nil {
			c.logger.Warn("丢弃标记不匹配的响应",
				"want", cur.tag, "got", r.Tag, "command", r.Command)
		}
	}
}

// routeContinuationLocked 处理 "+" 继续提示：发出当前命令的下一个数据块，
// 或为期待空行应答的命令发一个裸 CRLF，否则忽略。
func (c *Conn) routeContinuationLocked(r *imapcore.Response, cur *command) {
	if cur != nil && len(cur.chunks) > 0 {
		c.sendChunkLocked(len(cur.chunks) == 1)
		return
	}
	if cur != nil && cur.errorResponseExpectsEmptyLine {
		c.writeLocked([]byte("\r\n"))
		return
	}
	_ = r // 游离的继续提示，无事可做
}

// invokeGlobalHandlerLocked 把未标记响应派发给 SetHandler 注册的回调。
// 处理器在释放 c.mu 的情况下运行，因此它自己可以调用 Enqueue 或
// SetHandler 而不会与正在路由的 goroutine 死锁。
func (c *Conn) invokeGlobalHandlerLocked(r *imapcore.Response) {
	h, ok := c.handlers[r.Command]
	if !ok {
		return
	}
	c.mu.Unlock()
	h(r)
	c.mu.Lock()
}

// completeCurrentLocked 是标记完成步骤：附上累积的未标记响应，
// 清空当前命令，按 NO/BAD 到错误的映射调用回调。
func (c *Conn) completeCurrentLocked(r *imapcore.Response) {
	cmd := c.current
	if cmd.hasPayload() {
		r.Payload = cmd.payload
	}
	c.current = nil
	c.canSend = true
	c.cancelResponseTimeoutLocked()

	var err error
	if r.Command == "NO" || r.Command == "BAD" {
		err = &imapcore.Error{Kind: imapcore.ErrCommand, Message: r.HumanReadable, Code: r.Code}
	}

	cmd.callback(r, err)

	c.sendNextLocked()
}
