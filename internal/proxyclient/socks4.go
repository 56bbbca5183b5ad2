package proxyclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"
)

// socks4Dialer implements the SOCKS4/4a CONNECT handshake (RFC-less, but
// universally implemented as: VER=4, CMD=1, DSTPORT, DSTIP, USERID\0, and —
// for SOCKS4a, signalled by an DSTIP of 0.0.0.x with x!=0 — DSTHOST\0 appended
// after the user ID). golang.org/x/net/proxy only ships a SOCKS5 dialer, so
// this is hand-rolled; it is the one transport piece no pack library covers.
type socks4Dialer struct {
	proxyAddr string
}

func (d socks4Dialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if network != "tcp" && network != "tcp4" {
		return nil, fmt.Errorf("proxyclient: socks4 only supports tcp, got %q", network)
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", d.proxyAddr)
	if err != nil {
		return nil, fmt.Errorf("proxyclient: dial socks4 proxy %s: %w", d.proxyAddr, err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
		defer conn.SetDeadline(time.Time{})
	}

	if err := socks4Connect(conn, address); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func socks4Connect(conn net.Conn, address string) error {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("proxyclient: invalid socks4 target %q: %w", address, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return fmt.Errorf("proxyclient: invalid socks4 target port %q", portStr)
	}

	req := []byte{0x04, 0x01, byte(port >> 8), byte(port)}

	ip := net.ParseIP(host)
	useSOCKS4a := ip == nil || ip.To4() == nil
	if useSOCKS4a {
		// Invalid IP with a nonzero last octet signals SOCKS4a to the proxy.
		req = append(req, 0, 0, 0, 1)
	} else {
		req = append(req, ip.To4()...)
	}
	req = append(req, 0) // empty USERID, null-terminated

	if useSOCKS4a {
		req = append(req, []byte(host)...)
		req = append(req, 0)
	}

	if _, err := conn.Write(req); err != nil {
		return fmt.Errorf("proxyclient: write socks4 request: %w", err)
	}

	reply := make([]byte, 8)
	if _, err := io.ReadFull(conn, reply); err != nil {
		return fmt.Errorf("proxyclient: read socks4 reply: %w", err)
	}
	if reply[0] != 0x00 {
		return errors.New("proxyclient: malformed socks4 reply")
	}
	if reply[1] != 0x5a {
		return fmt.Errorf("proxyclient: socks4 request rejected, code 0x%02x", reply[1])
	}
	return nil
}
