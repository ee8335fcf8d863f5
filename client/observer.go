package client

import "crypto/x509"

// Observer 接收连接的可观察回调。
type Observer interface {
	// OnReady 在首个响应单元被解析时触发一次。
	OnReady()
	// OnIdle 在队列持续空置 idleEntryTimeout 后触发。
	OnIdle()
	// OnError 在致命错误时触发；触发时连接已被关闭。
	OnError(err error)
	// OnCert 请求对连接或升级时出示的服务器证书做信任决定；在握手完成后
	// 调用，返回 false 时传输层关闭连接，Open 或 Upgrade 返回错误。
	OnCert(cert *x509.Certificate) bool
}

// NopObserver 以空操作实现 Observer，只关心部分回调的调用方可以内嵌它。
type NopObserver struct{}

func (NopObserver) OnReady()                      {}
func (NopObserver) OnIdle()                       {}
func (NopObserver) OnError(error)                 {}
func (NopObserver) OnCert(*x509.Certificate) bool { return true }
