package client

// framer 是帧读取器：吞入任意切分的字节块，产出完整的响应单元——
// 一行服务器响应，加上它宣告的每个文本（literal）的原样字节。
// 产出的单元不含结尾 CRLF（终结符被消耗，不被交付）。
//
// 它是拉取式状态机而非阻塞读取循环：feed 追加字节，next 取出当前
// 凑得齐的全部单元，核心因此自己不占有读 goroutine——那属于传输层。
type framer struct {
	incoming         []byte
	command          []byte
	literalRemaining int
}

// feed 追加新收到的字节。
func (f *framer) feed(chunk []byte) {
	f.incoming = append(f.incoming, chunk...)
}

// next 取出当前可组装的每个完整响应单元。可以反复调用；
// 缓冲字节不足以组成更多单元时返回 nil。
func (f *framer) next() [][]byte {
	var units [][]byte
	for {
		unit, ok := f.step()
		if !ok {
			return units
		}
		units = append(units, unit)
	}
}

// step 执行状态机的一次迭代，刚好完成一个单元时返回它。
func (f *framer) step() ([]byte, bool) {
	// 待读文本优先：文本负载里的换行不是终结符。
	if f.literalRemaining > 0 {
		if len(f.incoming) < f.literalRemaining {
			return nil, false
		}
		f.command = append(f.command, f.incoming[:f.literalRemaining]...)
		f.incoming = f.incoming[f.literalRemaining:]
		f.literalRemaining = 0
		return f.step()
	}

	contentEnd, consumedTo, kind, litLen := findTerminator(f.incoming)
	if consumedTo < 0 {
		return nil, false
	}

	switch kind {
	case terminatorLiteral:
		// "{N}\r\n" 标记本身留在 command 里，随后的 N 字节是文本负载。
		f.command = append(f.command, f.incoming[:consumedTo]...)
		f.incoming = f.incoming[consumedTo:]
		f.literalRemaining = litLen
		return f.step()
	default: // terminatorPlain
		// 终结符本身被丢弃：终结符之前的字节进 command，
		// incoming 越过终结符推进。
		f.command = append(f.command, f.incoming[:contentEnd]...)
		f.incoming = f.incoming[consumedTo:]
		unit := f.command
		f.command = nil
		return unit, true
	}
}

type terminatorKind int

const (
	terminatorPlain terminatorKind = iota
	terminatorLiteral
)

// findTerminator 在 buf 中寻找下一个 ("{N}" | "{N+}")? CR? LF 模式。
// 普通终结符的 contentEnd 是 CRLF 之前的下标，文本终结符的 contentEnd
// 与 consumedTo 相同；consumedTo 是终结符之后的下标，
// 即无论哪种终结符 incoming 都要推进到的位置。CR 可选。
func findTerminator(buf []byte) (contentEnd, consumedTo int, kind terminatorKind, litLen int) {
	for i := 0; i < len(buf); i++ {
		if buf[i] != '\n' {
			continue
		}
		lineEnd := i
		crBefore := lineEnd > 0 && buf[lineEnd-1] == '\r'
		markerEnd := lineEnd
		if crBefore {
			markerEnd--
		}
		if n, ok := literalMarkerBefore(buf[:markerEnd]); ok {
			return i + 1, i + 1, terminatorLiteral, n
		}
		return markerEnd, i + 1, terminatorPlain, 0
	}
	return -1, -1, terminatorPlain, 0
}

// literalMarkerBefore 报告 line 是否以 "{N}" 或 "{N+}" 文本标记结尾，
// 是则给出其宣告的长度。非同步形式（带 +）与同步形式在帧层面等同。
func literalMarkerBefore(line []byte) (int, bool) {
	if len(line) == 0 || line[len(line)-1] != '}' {
		return 0, false
	}
	end := len(line) - 1
	nonSync := end > 0 && line[end-1] == '+'
	digitsEnd := end
	if nonSync {
		digitsEnd--
	}
	digitsStart := digitsEnd
	for digitsStart > 0 && line[digitsStart-1] >= '0' && line[digitsStart-1] <= '9' {
		digitsStart--
	}
	if digitsStart == digitsEnd {
		return 0, false
	}
	open := digitsStart - 1
	if open < 0 || line[open] != '{' {
		return 0, false
	}
	n := 0
	for _, d := range line[digitsStart:digitsEnd] {
		n = n*10 + int(d-'0')
	}
	return n, true
}

// reset 清空帧读取器状态（连接拆除时使用）。
func (f *framer) reset() {
	f.incoming = nil
	f.command = nil
	f.literalRemaining = 0
}
