package imapcore

import (
	"context"
	"crypto/x509"
)

// Request 是 Codec 能编译成线上数据块的不透明结构化请求。核心从不检视其内容，
// 只在入队时为其分配标记后交给 Codec。
type Request interface {
	// SetTag 在入队时调用，参数是核心分配给该请求的标记
	// （"W<n>"，优先插入时为 "W<n>.p"）。请求被用作优先插入的锚点时，
	// 会以追加了 ".p" 的标记再次调用。
	SetTag(tag string)
}

// Kind 区分响应属性值的形态：原子、带引号/文本字符串，或括号包裹的值列表。
// Codec 内部可以表示更丰富的结构；这里只是路由器与响应处理器所需的最小形态。
type Kind int

const (
	KindAtom Kind = iota
	KindString
	KindList
)

// Value 是已解析 Response 的一个属性。
type Value struct {
	Kind Kind
	Atom string  // Kind == KindAtom 时有效
	Str  string  // Kind == KindString 时有效（含文本负载）
	List []Value // Kind == KindList 时有效
}

// Response 是帧读取器产出、Codec 解析出的一个完整响应单元的结构化形式，
// 经 ProcessResponse 提升数字前缀的未标记命令并提取方括号响应码之后的结果。
type Response struct {
	Tag     string // 未标记响应为 "*"，继续提示为 "+"，否则为命令标记
	Number  uint32 // 原始形式为 "<N> <原子>"（如 EXISTS）时设置
	HasNum  bool
	Command string // 大写命令名（"OK"、"FETCH"、"CAPABILITY"……）
	Attrs   []Value

	Code          string   // 方括号响应码，如 "ALERT"
	CodeArgs      []string // 响应码的其余条目，已修剪
	HumanReadable string   // 结尾的人类可读文本

	Payload map[string][]*Response // 由路由器为归属命令填充
}

// CodeArg 返回方括号响应码的唯一参数；参数数量为零或多于一个时返回 ""。
func (r *Response) CodeArg() string {
	if len(r.CodeArgs) == 1 {
		return r.CodeArgs[0]
	}
	return ""
}

// Codec 把线上字节变成 Response、把 Request 变成线上数据块。它是外部协作者：
// 核心不规定 IMAP 语法，只规定此契约。具体的纯语法实现见 wire 子包。
type Codec interface {
	// Parse 把帧读取器产出的一个完整响应单元（一行加其宣告的全部文本负载，
	// CRLF 已剥除）解释为 Response。
	Parse(unit []byte) (*Response, error)

	// Compile 把已打标记的 Request 渲染为有序的线上数据块序列。首块之后的
	// 数据块只有在服务器对前一块发出继续提示后才发送。最后一块不含结尾
	// CRLF，由发送方追加；此前的每一块以文本标记 "{N}" 所在行的 CRLF 结尾。
	Compile(req Request) ([][]byte, error)
}

// CertHook 在 TLS 握手（初始或升级）完成后，由传输层对服务器出示的每张证书
// 各调用一次。返回 false 时传输层关闭该连接，Open 或 Upgrade 返回错误。
type CertHook func(cert *x509.Certificate) bool

// Transport 是双工字节流协作者：打开/关闭/发送/接收，外加就地 TLS 升级。
// 核心不规定其算法，只规定此契约。具体实现（真实 TCP+TLS 套接字，以及测试用
// 的内存回环）见 transport 子包。
type Transport interface {
	// Open 建立连接。它不等待 IMAP 问候语，字节流打开即返回。
	Open(ctx context.Context) error

	// Close 拆除连接。幂等。
	Close() error

	// Send 向线路写入字节。它可以与 SetOnData 回调并发触发，
	// 但不会与自身并发。
	Send(b []byte) error

	// SetOnData 注册每个入站数据块的回调。任一时刻只有一个回调生效；
	// 安装新的回调（压缩层即如此）会替换之前的。
	SetOnData(func([]byte))

	// SetOnClose 注册传输层观察到连接关闭（本端或对端）时调用一次的回调。
	SetOnClose(func(error))

	// Upgrade 执行就地 TLS 升级（STARTTLS）。
	Upgrade(ctx context.Context) error

	// SetCertHook 注册 TLS 握手（初始或升级）完成后咨询的信任决定钩子。
	SetCertHook(CertHook)
}
