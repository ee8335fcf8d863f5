package wire

import (
	"bytes"
	"fmt"

	"github.com/luhaoyun888/go-imap-core"
)

// Codec 是具体的纯语法 imapcore.Codec 实现。
type Codec struct{}

var _ imapcore.Codec = Codec{}

// Compile 把 r 渲染为有序的线上数据块序列，在每个同步文本边界切开。
// 每个非末尾数据块已带线上格式要求的结尾 CRLF（"{N}" 标记所在行的换行）；
// 最后一块的 CRLF 由调用方在确认它真是最后一块时追加。
func (Codec) Compile(req imapcore.Request) ([][]byte, error) {
	r, ok := req.(*Request)
	if !ok {
		return nil, fmt.Errorf("wire: 不支持的请求类型 %T", req)
	}

	var chunks [][]byte
	var cur bytes.Buffer
	cur.WriteString(r.tag)
	cur.WriteByte(' ')
	cur.WriteString(r.Name)

	for _, seg := range r.segments {
		switch seg.kind {
		case segRaw:
			cur.Write(seg.raw)
		case segLiteral:
			cur.WriteString("\r\n")
			chunks = append(chunks, append([]byte(nil), cur.Bytes()...))
			cur.Reset()
			cur.Write(seg.data)
		}
	}
	chunks = append(chunks, append([]byte(nil), cur.Bytes()...))
	return chunks, nil
}
