package netproxy

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/net/proxy"
)

// Dialer returns a context dialer routed through the SOCKS5 proxy at addr, or
// a plain net.Dialer when addr is empty.
func Dialer(addr string) (proxy.ContextDialer, error) {
	addr = strings.TrimSpace(addr)
	base := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	if addr == "" {
		return base, nil
	}
	d, err := proxy.SOCKS5("tcp", addr, nil, base)
	if err != nil {
		return nil, fmt.Errorf("socks5 %s: %w", addr, err)
	}
	cd, ok := d.(proxy.ContextDialer)
	if !ok {
		return nil, fmt.Errorf("socks5 %s: dialer does not support contexts", addr)
	}
	return cd, nil
}

// HTTPClient builds the client used for REST providers.
func HTTPClient(addr string, timeout time.Duration) (*http.Client, error) {
	d, err := Dialer(addr)
	if err != nil {
		return nil, err
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = d.DialContext
	if strings.TrimSpace(addr) != "" {
		// The SOCKS dialer replaces any HTTP proxy from the environment.
		transport.Proxy = nil
	}
	return &http.Client{Transport: transport, Timeout: timeout}, nil
}

// WebsocketDialer builds the dialer used for the realtime transcription socket.
func WebsocketDialer(addr string) (*websocket.Dialer, error) {
	d, err := Dialer(addr)
	if err != nil {
		return nil, err
	}
	ws := *websocket.DefaultDialer
	ws.HandshakeTimeout = 10 * time.Second
	ws.NetDialContext = d.DialContext
	if strings.TrimSpace(addr) != "" {
		ws.Proxy = nil
	}
	return &ws, nil
}
