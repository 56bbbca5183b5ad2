// Package proxyclient builds *http.Client values that route every request
// through a single forward proxy, dispatching on types.ProxyProtocol the way
// the control plane's registry tags each Proxy.
package proxyclient

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/proxy"

	"proxycheck/pkg/types"
)

// ErrUnsupportedProtocol is returned by New for a protocol this package does
// not know how to dial.
type ErrUnsupportedProtocol struct{ Protocol types.ProxyProtocol }

func (e ErrUnsupportedProtocol) Error() string {
	return fmt.Sprintf("proxyclient: unsupported protocol %q", e.Protocol)
}

// New builds an *http.Client that forwards every request through p. It does
// not set a Timeout on the client itself: the prober enforces its single
// top-level deadline via the request's context instead, so one sub-timeout
// here would double up with that deadline rather than replace it.
//
// TLS certificate verification is disabled: this client's job is to reach
// the target through an untrusted, often-misconfigured forward proxy and
// report what came back, not to validate the target's certificate chain.
func New(p types.Proxy) (*http.Client, error) {
	switch p.Protocol {
	case types.ProtoHTTP:
		return newHTTPProxyClient(p), nil
	case types.ProtoSOCKS5:
		return newSOCKS5ProxyClient(p)
	case types.ProtoSOCKS4:
		return newSOCKS4ProxyClient(p), nil
	default:
		return nil, ErrUnsupportedProtocol{Protocol: p.Protocol}
	}
}

func newHTTPProxyClient(p types.Proxy) *http.Client {
	proxyURL := &url.URL{Scheme: "http", Host: fmt.Sprintf("%s:%d", p.Host, p.Port)}
	return &http.Client{
		Transport: &http.Transport{
			Proxy:           http.ProxyURL(proxyURL),
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
		// CheckRedirect is left at the default (follow, cap 10): a check
		// asserting on the landing page after a redirect is a legitimate
		// use of the control plane's check definitions.
	}
}

func newSOCKS5ProxyClient(p types.Proxy) (*http.Client, error) {
	addr := fmt.Sprintf("%s:%d", p.Host, p.Port)
	dialer, err := proxy.SOCKS5("tcp", addr, nil, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("proxyclient: build socks dialer for %s: %w", addr, err)
	}

	contextDialer, ok := dialer.(proxy.ContextDialer)
	if !ok {
		// golang.org/x/net/proxy's SOCKS5 dialer always implements this,
		// but fall back to a context-unaware dial rather than panic if a
		// future version stops doing so.
		contextDialer = contextDialerAdapter{dialer}
	}

	return &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, network, address string) (net.Conn, error) {
				return contextDialer.DialContext(ctx, network, address)
			},
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}, nil
}

// newSOCKS4ProxyClient wires a socks4Dialer: golang.org/x/net/proxy has no
// SOCKS4 support, so every request through this client takes the hand-rolled
// CONNECT handshake in socks4.go instead of a SOCKS5 negotiation the target
// proxy cannot answer.
func newSOCKS4ProxyClient(p types.Proxy) *http.Client {
	dialer := socks4Dialer{proxyAddr: fmt.Sprintf("%s:%d", p.Host, p.Port)}
	return &http.Client{
		Transport: &http.Transport{
			DialContext:     dialer.DialContext,
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
}

// contextDialerAdapter upgrades a plain proxy.Dialer to proxy.ContextDialer:
// the dial itself runs without the context, but DialContext returns
// ctx.Err() as soon as the context is done, without waiting for that dial.
type contextDialerAdapter struct{ proxy.Dialer }

func (a contextDialerAdapter) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := a.Dial(network, addr)
		ch <- result{conn, err}
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		return r.conn, r.err
	}
}

// DialTimeout is an exported default connect timeout. No dialer in this
// package reads it: every dial here is bounded by the request's context.
var DialTimeout = 10 * time.Second
