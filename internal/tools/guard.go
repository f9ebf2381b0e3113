package tools

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"syscall"
	"time"
)

// maxRedirects 限制抓取网页时跟随的跳转次数。
const maxRedirects = 5

// ErrBlockedAddress 表示目标地址不是公网地址，拒绝连接。
var ErrBlockedAddress = errors.New("destination address is not allowed")

// 100.64.0.0/10 (CGNAT) 不在 netip 的私有地址判断中，单独拦截。
var sharedAddressSpace = netip.MustParsePrefix("100.64.0.0/10")

// isPublicAddr 判断地址是否可以由模型控制的 URL 访问。
func isPublicAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	switch {
	case !addr.IsValid(),
		addr.IsLoopback(),
		addr.IsPrivate(),
		addr.IsLinkLocalUnicast(),
		addr.IsLinkLocalMulticast(),
		addr.IsInterfaceLocalMulticast(),
		addr.IsMulticast(),
		addr.IsUnspecified(),
		sharedAddressSpace.Contains(addr):
		return false
	}
	return true
}

// dialControl 在 DNS 解析之后、建立连接之前检查真实的目标 IP，
// 域名解析到内网地址或 DNS rebinding 都会被拦截。
func dialControl(network, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrBlockedAddress, host)
	}
	if !isPublicAddr(addr) {
		return fmt.Errorf("%w: %s", ErrBlockedAddress, addr)
	}
	return nil
}

func checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("stopped after %d redirects", maxRedirects)
	}
	return nil
}

// NewPublicHTTPClient 返回只允许连接公网地址的 HTTP 客户端，供访问模型给出的 URL 使用。
// 不走环境变量中的代理，否则地址检查会落在代理上。
func NewPublicHTTPClient(timeout time.Duration) *http.Client {
	dialer := &net.Dialer{
		Timeout: timeout,
		Control: dialControl,
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DialContext:         dialer.DialContext,
			TLSHandshakeTimeout: timeout,
			MaxIdleConns:        10,
			IdleConnTimeout:     30 * time.Second,
		},
		CheckRedirect: checkRedirect,
	}
}
