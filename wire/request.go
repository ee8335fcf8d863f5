// Package wire 是纯语法的 IMAP 编解码器：它只认识原子、带引号字符串、
// 文本（literal）和圆/方括号列表，对 LOGIN/SELECT/FETCH 的语义一无所知。
// 它是 imapcore 包经接口依赖的具体 Codec 实现。
package wire

import (
	"bytes"
	"fmt"
)

// segKind 区分原始线上片段和文本负载。
type segKind int

const (
	segRaw segKind = iota
	segLiteral
)

type segment struct {
	kind segKind
	raw  []byte // segRaw：已渲染的线上文本；只有非同步文本的 "{N+}\r\n" 标记带 CRLF
	data []byte // segLiteral：文本的负载字节
}

// Request 是本编解码器编译的具体请求类型。用 NewBuilder 构建。
type Request struct {
	Name     string
	tag      string
	segments []segment
}

// SetTag 实现 imapcore.Request。
func (r *Request) SetTag(tag string) { r.tag = tag }

// Builder 以链式调用拼装 Request：原子、带引号字符串、列表与文本。
type Builder struct {
	req *Request
	buf bytes.Buffer
}

// NewBuilder 开始构建名为 name 的请求（如 "LOGIN"、"FETCH"）。
func NewBuilder(name string) *Builder {
	return &Builder{req: &Request{Name: name}}
}

// SP 写入一个空格。
func (b *Builder) SP() *Builder {
	b.buf.WriteByte(' ')
	return b
}

// Atom 原样写入 s（由调用方保证它是合法原子）。
func (b *Builder) Atom(s string) *Builder {
	b.buf.WriteString(s)
	return b
}

// Quoted 把 s 写成 IMAP 带引号字符串，转义 '\\' 和 '"'。
func (b *Builder) Quoted(s string) *Builder {
	b.buf.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\\' || c == '"' {
			b.buf.WriteByte('\\')
		}
		b.buf.WriteByte(c)
	}
	b.buf.WriteByte('"')
	return b
}

// Raw 原样写入 s；用于已拼好的片段，例如一个圆括号或方括号列表。
func (b *Builder) Raw(s string) *Builder {
	b.buf.WriteString(s)
	return b
}

// List 写入一个圆括号列表，调用 fn 填充其内容。
func (b *Builder) List(fn func(*Builder)) *Builder {
	b.buf.WriteByte('(')
	fn(b)
	b.buf.WriteByte(')')
	return b
}

// Literal 追加一个长度前缀文本。nonSync 为真时写成非同步文本（{N+}），
// 负载紧随其后，不产生块边界——服务器不会为它发继续提示。否则写成
// 同步文本（{N}）：携带标记的片段作为独立数据块收尾，发送方可以等到
// "+" 才发出负载。
func (b *Builder) Literal(data []byte, nonSync bool) *Builder {
	if nonSync {
		fmt.Fprintf(&b.buf, "{%d+}\r\n", len(data))
		b.buf.Write(data)
		return b
	}
	fmt.Fprintf(&b.buf, "{%d}", len(data))
	b.flush()
	b.req.segments = append(b.req.segments, segment{kind: segLiteral, data: data})
	return b
}

// flush 把进行中的原始片段收尾为独立 segment。
func (b *Builder) flush() {
	if b.buf.Len() == 0 {
		return
	}
	b.req.segments = append(b.req.segments, segment{kind: segRaw, raw: append([]byte(nil), b.buf.Bytes()...)})
	b.buf.Reset()
}

// Build 完成请求的构建。
func (b *Builder) Build() *Request {
	b.flush()
	return b.req
}
