// Package imapcore 实现了 IMAP 客户端的底层传输核心：行加文本（literal）
// 帧解析、未标记响应的路由、继续提示（"+"）的处理、带优先插入的串行命令队列，
// 以及可选的、介于命令编解码器与套接字之间的 DEFLATE 压缩层（RFC 4978）。
//
// 语法编解码器（把一行响应解析成 Response、把 Request 编译成线上数据块）和
// 字节传输层（双工套接字）是核心通过下面的 Codec 与 Transport 接口依赖的
// 协作者；核心不规定它们的算法。具体实现位于 wire 与 transport 子包。
//
// 高层 IMAP 会话逻辑——LOGIN、SELECT、FETCH、IDLE 的编排、邮箱状态——不属于
// 本包。它们构建在本包暴露的唯一原语之上：入队一个请求，并以其标记完成响应
// 作为结果。参见 client 包的示例。
package imapcore
