package wire

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/luhaoyun888/go-imap-core"
)

// statusWords 是结尾内容为自由文本而非空格分隔原子的状态响应类型。
var statusWords = map[string]bool{
	"OK": true, "NO": true, "BAD": true, "BYE": true, "PREAUTH": true,
}

// scanner 是在一个完整响应单元上移动的游标：结尾 CRLF 已剥除，
// 但文本负载仍原样嵌在宣告它们的 "{N}\r\n" 标记处。
type scanner struct {
	buf []byte
	pos int
}

func (s *scanner) atEnd() bool { return s.pos >= len(s.buf) }

func (s *scanner) peek() (byte, bool) {
	if s.atEnd() {
		return 0, false
	}
	return s.buf[s.pos], true
}

func (s *scanner) rest() []byte { return s.buf[s.pos:] }

// skipSP 消耗恰好一个前导空格，报告是否找到。
func (s *scanner) skipSP() bool {
	if b, ok := s.peek(); ok && b == ' ' {
		s.pos++
		return true
	}
	return false
}

func isAtomBreak(b byte) bool {
	switch b {
	case ' ', '(', ')', '[', ']', '{', '"', '\r', '\n':
		return true
	default:
		return false
	}
}

func (s *scanner) readAtom() (string, error) {
	start := s.pos
	for !s.atEnd() && !isAtomBreak(s.buf[s.pos]) {
		s.pos++
	}
	if s.pos == start {
		return "", fmt.Errorf("wire: 偏移 %d 处期望原子", start)
	}
	return string(s.buf[start:s.pos]), nil
}

func (s *scanner) readQuoted() (string, error) {
	if b, ok := s.peek(); !ok || b != '"' {
		return "", fmt.Errorf("wire: 偏移 %d 处期望带引号字符串", s.pos)
	}
	s.pos++
	var sb strings.Builder
	for {
		if s.atEnd() {
			return "", fmt.Errorf("wire: 带引号字符串未闭合")
		}
		c := s.buf[s.pos]
		switch c {
		case '"':
			s.pos++
			return sb.String(), nil
		case '\\':
			s.pos++
			if s.atEnd() {
				return "", fmt.Errorf("wire: 带引号字符串中的转义未结束")
			}
			sb.WriteByte(s.buf[s.pos])
			s.pos++
		default:
			sb.WriteByte(c)
			s.pos++
		}
	}
}

// readLiteral 解析 "{N}" 或 "{N+}" 标记，消耗随后的换行（CR 可选），
// 再消耗恰好 N 个原始字节作为文本负载。
func (s *scanner) readLiteral() (string, error) {
	if b, ok := s.peek(); !ok || b != '{' {
		return "", fmt.Errorf("wire: 偏移 %d 处期望文本标记", s.pos)
	}
	start := s.pos
	s.pos++
	digitsStart := s.pos
	for !s.atEnd() && s.buf[s.pos] >= '0' && s.buf[s.pos] <= '9' {
		s.pos++
	}
	if s.pos == digitsStart {
		return "", fmt.Errorf("wire: 偏移 %d 处文本标记格式错误", start)
	}
	n, err := strconv.ParseUint(string(s.buf[digitsStart:s.pos]), 10, 32)
	if err != nil {
		return "", fmt.Errorf("wire: 文本长度格式错误: %w", err)
	}
	if b, ok := s.peek(); ok && b == '+' {
		s.pos++
	}
	if b, ok := s.peek(); !ok || b != '}' {
		return "", fmt.Errorf("wire: 偏移 %d 处文本标记格式错误", start)
	}
	s.pos++
	if b, ok := s.peek(); ok && b == '\r' {
		s.pos++
	}
	if b, ok := s.peek(); !ok || b != '\n' {
		return "", fmt.Errorf("wire: 文本标记后没有换行")
	}
	s.pos++

	size := int(n)
	if s.pos+size > len(s.buf) {
		return "", fmt.Errorf("wire: 文本宣告 %d 字节但只剩 %d", size, len(s.buf)-s.pos)
	}
	data := string(s.buf[s.pos : s.pos+size])
	s.pos += size
	return data, nil
}

// readValue 读取一个属性：原子、带引号字符串、文本，
// 或圆/方括号包裹的值列表。
func (s *scanner) readValue() (imapcore.Value, error) {
	b, ok := s.peek()
	if !ok {
		return imapcore.Value{}, fmt.Errorf("wire: 期望值，却到了输入末尾")
	}
	switch b {
	case '(':
		return s.readList('(', ')')
	case '[':
		return s.readList('[', ']')
	case '"':
		str, err := s.readQuoted()
		if err != nil {
			return imapcore.Value{}, err
		}
		return imapcore.Value{Kind: imapcore.KindString, Str: str}, nil
	case '{':
		str, err := s.readLiteral()
		if err != nil {
			return imapcore.Value{}, err
		}
		return imapcore.Value{Kind: imapcore.KindString, Str: str}, nil
	default:
		atom, err := s.readAtom()
		if err != nil {
			return imapcore.Value{}, err
		}
		return imapcore.Value{Kind: imapcore.KindAtom, Atom: atom}, nil
	}
}

func (s *scanner) readList(open, close byte) (imapcore.Value, error) {
	if b, ok := s.peek(); !ok || b != open {
		return imapcore.Value{}, fmt.Errorf("wire: 偏移 %d 处期望 %q", s.pos, open)
	}
	s.pos++
	var list []imapcore.Value
	for {
		if b, ok := s.peek(); ok && b == close {
			s.pos++
			return imapcore.Value{Kind: imapcore.KindList, List: list}, nil
		}
		if s.atEnd() {
			return imapcore.Value{}, fmt.Errorf("wire: 以 %q 开始的列表未闭合", open)
		}
		v, err := s.readValue()
		if err != nil {
			return imapcore.Value{}, err
		}
		list = append(list, v)
		if b, ok := s.peek(); ok && b == ' ' {
			s.pos++
		}
	}
}

// readAttrs 读取空格分隔的值，直到缓冲耗尽。
func (s *scanner) readAttrs() ([]imapcore.Value, error) {
	var attrs []imapcore.Value
	for !s.atEnd() {
		v, err := s.readValue()
		if err != nil {
			return nil, err
		}
		attrs = append(attrs, v)
		s.skipSP()
	}
	return attrs, nil
}

// Parse 实现 imapcore.Codec。
func (Codec) Parse(unit []byte) (*imapcore.Response, error) {
	s := &scanner{buf: unit}

	if b, ok := s.peek(); ok && b == '+' {
		s.pos++
		s.skipSP()
		return &imapcore.Response{Tag: "+", HumanReadable: strings.TrimSpace(string(s.rest()))}, nil
	}

	var tag string
	if b, ok := s.peek(); ok && b == '*' {
		s.pos++
		tag = "*"
	} else {
		a, err := s.readAtom()
		if err != nil {
			return nil, fmt.Errorf("wire: 读取标记: %w", err)
		}
		tag = a
	}

	r := &imapcore.Response{Tag: tag}

	if !s.skipSP() {
		if s.atEnd() {
			return r, nil
		}
		return nil, fmt.Errorf("wire: 标记后期望空格")
	}

	cmd, err := s.readAtom()
	if err != nil {
		return nil, fmt.Errorf("wire: 读取命令: %w", err)
	}
	r.Command = cmd

	if s.atEnd() {
		return r, nil
	}
	if !s.skipSP() {
		return nil, fmt.Errorf("wire: 命令后期望空格")
	}

	if statusWords[strings.ToUpper(cmd)] {
		return parseStatusTail(s, r)
	}

	attrs, err := s.readAttrs()
	if err != nil {
		return nil, err
	}
	r.Attrs = attrs
	return r, nil
}

// parseStatusTail 处理 resp-text：可选的 "[code ...]" 段，
// 后随可选的自由文本（RFC 3501/9051 resp-text）。
func parseStatusTail(s *scanner, r *imapcore.Response) (*imapcore.Response, error) {
	if b, ok := s.peek(); ok && b == '[' {
		section, err := s.readList('[', ']')
		if err != nil {
			return nil, err
		}
		r.Attrs = append(r.Attrs, section)
		if !s.atEnd() {
			s.skipSP()
		}
	}
	if !s.atEnd() {
		r.Attrs = append(r.Attrs, imapcore.Value{Kind: imapcore.KindString, Str: string(s.rest())})
	}
	return r, nil
}
