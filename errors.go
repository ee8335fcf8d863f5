package imapcore

import (
	"fmt"
	"strings"
)

// ErrorKind 对错误分类：哪个协作者或哪一步产生了它，以便 Observer.OnError
// 与命令完成的接收方决定如何反应（重试策略不在本包，属于上层）。其中
// ErrCommand、ErrPrecheck 与 ErrClosed 只影响单个命令，不是致命错误。
type ErrorKind int

const (
	// ErrTransport 涵盖套接字打开失败、意外关闭和套接字错误事件。
	ErrTransport ErrorKind = iota
	// ErrFraming 涵盖帧解析或语法解析错误：字节流已不可再解释。
	ErrFraming
	// ErrCommand 涵盖 NO/BAD 标记完成；只影响单个命令，从不致命。
	ErrCommand
	// ErrTimeout 涵盖响应超时。
	ErrTimeout
	// ErrCompression 涵盖压缩工作器错误。
	ErrCompression
	// ErrPrecheck 涵盖预检查失败；只影响受影响的命令。
	ErrPrecheck
	// ErrClosed 标记因连接在命令仍挂起时被关闭而拒绝的命令。
	ErrClosed
)

func (k ErrorKind) String() string {
	switch k {
	case ErrTransport:
		return "transport"
	case ErrFraming:
		return "framing"
	case ErrCommand:
		return "command"
	case ErrTimeout:
		return "timeout"
	case ErrCompression:
		return "compression"
	case ErrPrecheck:
		return "precheck"
	case ErrClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Error 是交给命令完成回调或 Observer.OnError 的结构化错误，携带 NO/BAD
// 响应的人类可读消息，以及其方括号响应码（如果有）。
type Error struct {
	Kind    ErrorKind
	Message string
	Code    string
}

func (e *Error) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "imapcore: %v", e.Kind)
	if e.Code != "" {
		fmt.Fprintf(&sb, " [%v]", e.Code)
	}
	msg := e.Message
	if msg == "" {
		msg = "<unknown>"
	}
	fmt.Fprintf(&sb, " %v", msg)
	return sb.String()
}

// ErrConnectionClosed 被包装进 Kind 为 ErrClosed 的 *Error，
// 返回给 Close 时仍挂起的每个命令。
const ErrConnectionClosed = "connection closed"
