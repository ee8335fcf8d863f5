package imapcore

import (
	"strconv"
	"strings"
)

// statusCommands 是需要提取方括号响应码与结尾人类可读文本的状态响应命令。
var statusCommands = map[string]bool{
	"OK": true, "NO": true, "BAD": true, "BYE": true, "PREAUTH": true,
}

// ProcessResponse 对 Codec 刚解析出的 Response 做后处理：提升数字前缀的
// 未标记命令（"* 12 EXISTS"），并为状态响应提取方括号响应码和结尾的
// 人类可读文本。它就地修改并返回 r。
func ProcessResponse(r *Response) *Response {
	if r.Tag == "*" && len(r.Attrs) > 0 && r.Attrs[0].Kind == KindAtom {
		if n, err := strconv.ParseUint(r.Command, 10, 32); err == nil {
			r.Number = uint32(n)
			r.HasNum = true
			r.Command = strings.ToUpper(r.Attrs[0].Atom)
			r.Attrs = r.Attrs[1:]
		}
	}

	if !statusCommands[r.Command] {
		return r
	}

	attrs := r.Attrs
	if n := len(attrs); n > 0 && attrs[n-1].Kind == KindString {
		r.HumanReadable = attrs[n-1].Str
		attrs = attrs[:n-1]
	}
	if len(attrs) > 0 && attrs[0].Kind == KindList && len(attrs[0].List) > 0 {
		section := attrs[0].List
		r.Code = strings.ToUpper(strings.TrimSpace(section[0].Atom))
		for _, entry := range section[1:] {
			r.CodeArgs = append(r.CodeArgs, flattenEntry(entry))
		}
	}
	return r
}

// flattenEntry 把方括号响应码的一个条目渲染为修剪后的字符串：原子大写并修剪，
// 嵌套列表以空格连接。
func flattenEntry(v Value) string {
	switch v.Kind {
	case KindAtom:
		return strings.ToUpper(strings.TrimSpace(v.Atom))
	case KindString:
		return strings.TrimSpace(v.Str)
	case KindList:
		parts := make([]string, len(v.List))
		for i, e := range v.List {
			parts[i] = flattenEntry(e)
		}
		return strings.TrimSpace(strings.Join(parts, " "))
	default:
		return ""
	}
}
