// Package types holds the data model shared by every layer of the proxy
// checker: the store, the prober, the worker pool and the control-plane API
// all speak in terms of these structs so none of them need to import one
// another's packages.
package types

import (
	"strconv"
	"time"
)

// ProxyProtocol is the forward-proxy wire protocol a Proxy speaks.
type ProxyProtocol string

const (
	ProtoHTTP        ProxyProtocol = "http"
	ProtoSOCKS4      ProxyProtocol = "socks4"
	ProtoSOCKS5      ProxyProtocol = "socks5"
	ProtoUnspecified ProxyProtocol = "unspecified"
)

// ExpandableProtocols lists the concrete protocols an "unspecified" Proxy
// expands into at ingestion time.
var ExpandableProtocols = []ProxyProtocol{ProtoHTTP, ProtoSOCKS4, ProtoSOCKS5}

// Proxy is a single forward HTTP/SOCKS proxy in the registry.
type Proxy struct {
	ID           uint          `json:"id"`
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	Protocol     ProxyProtocol `json:"protocol"`
	RecheckEvery *int          `json:"recheck_every,omitempty"` // seconds; nil = one-shot
	CreatedAt    time.Time     `json:"created_at"`
}

// Key identifies a Proxy for the Manager's schedule map and mirrors the
// (host, port, protocol) uniqueness constraint the Store enforces.
func (p Proxy) Key() string {
	return string(p.Protocol) + "://" + p.Host + ":" + strconv.Itoa(p.Port)
}

func (p Proxy) String() string {
	return p.Key()
}

// AssertionKind tags an Assertion as asserting liveness or as detecting a ban.
type AssertionKind string

const (
	AssertionAlive AssertionKind = "alive"
	AssertionBan   AssertionKind = "ban"
)

// Assertion is one XPath expression plus the kind of signal a match carries.
type Assertion struct {
	Expr string        `json:"xpath"`
	Kind AssertionKind `json:"type"`
}

// CheckDefinition is a declarative assertion that a URL, fetched through a
// proxy, returns an acceptable status and matches expected content patterns.
type CheckDefinition struct {
	ID             uint        `json:"id"`
	Name           string      `json:"name,omitempty"`
	URL            string      `json:"url"`
	ExpectedStatus []int       `json:"status,omitempty"`
	XPathAsserts   []Assertion `json:"xpath,omitempty"`
	Timeout        int         `json:"timeout,omitempty"` // seconds
	Netloc         string      `json:"-"`
}

// DefaultExpectedStatus is substituted when a CheckDefinition omits "status".
var DefaultExpectedStatus = []int{200}

// DefaultTimeout is substituted when a CheckDefinition omits "timeout".
const DefaultTimeout = 2

// StatusOK reports whether status satisfies the definition's expected set
// (an empty/nil set is always satisfied).
func (c CheckDefinition) StatusOK(status int) bool {
	if len(c.ExpectedStatus) == 0 {
		return true
	}
	for _, s := range c.ExpectedStatus {
		if s == status {
			return true
		}
	}
	return false
}

// ProxyCheck is the (proxy, check) association.
type ProxyCheck struct {
	ProxyID uint `json:"proxy_id"`
	CheckID uint `json:"check_id"`
}

// CheckResult is the append-only outcome of one Prober invocation.
type CheckResult struct {
	ID       uint      `json:"id"`
	ProxyID  uint      `json:"proxy_id"`
	CheckID  uint      `json:"check_id"`
	IsPassed bool      `json:"is_passed"`
	IsBanned bool      `json:"is_banned"`
	Status   *int      `json:"status"`
	Time     float64   `json:"time"` // seconds
	Error    *string   `json:"error,omitempty"`
	DoneAt   time.Time `json:"done_at"`
}

// ListFilter selects which proxies ListProxies returns.
type ListFilter string

const (
	ListAll       ListFilter = "all"
	ListAliveOnly ListFilter = "alive_only"
)

// ProxyRow is one row of the control plane's "list proxies" response: a
// Proxy enriched with the derived state the Store computes.
type ProxyRow struct {
	Proxy
	Alive       bool     `json:"alive"`
	CheckIDs    []uint   `json:"check_ids"`
	BannedOn    []string `json:"banned_on,omitempty"`
	MeanLatency float64  `json:"mean_latency_seconds"`
}
