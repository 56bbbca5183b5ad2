// Package store defines the durable state contract every other layer of the
// proxy checker depends on: the registry of proxies and check definitions,
// their associations, the append-only result log, and the derived
// liveness/ban queries computed over it. internal/store/gormstore provides
// the concrete implementation; callers should depend on the Store interface
// here so the engine underneath can change without touching the manager,
// worker or API layers.
package store

import (
	"context"
	"errors"
	"time"

	"proxycheck/pkg/types"
)

// Sentinel errors returned by Store implementations. Callers match against
// these with errors.Is rather than inspecting driver-specific error types.
var (
	// ErrConflict is returned when a write would violate a uniqueness
	// constraint (duplicate proxy, duplicate check, duplicate association).
	ErrConflict = errors.New("store: conflict")

	// ErrNotExist is returned when a write or lookup references a proxy,
	// check, or association that does not exist.
	ErrNotExist = errors.New("store: not found")
)

// BannedEntry is one row of the banned-at view: a proxy that is currently
// banned against a particular check's netloc.
type BannedEntry struct {
	ProxyID uint
	CheckID uint
	Netloc  string
	At      time.Time
}

// Store is the sole source of truth for proxies, checks, their associations
// and the historical result log. Implementations MUST be safe for
// concurrent use: RecordResult in particular may be called from many
// Prober goroutines at once while ListProxies/AliveProxies are served to
// the API concurrently.
type Store interface {
	// AddProxy inserts a Proxy, expanding ProtoUnspecified into one row per
	// types.ExpandableProtocols member. Returns ErrConflict on a duplicate
	// (host, port, protocol).
	AddProxy(ctx context.Context, p types.Proxy) ([]types.Proxy, error)

	// RemoveProxy deletes a Proxy and cascades to its ProxyCheck rows.
	// Returns ErrNotExist if id is unknown.
	RemoveProxy(ctx context.Context, id uint) error

	// ListProxies returns every Proxy (filter == ListAll) or only those
	// currently alive (filter == ListAliveOnly), enriched with the derived
	// fields in types.ProxyRow.
	ListProxies(ctx context.Context, filter types.ListFilter) ([]types.ProxyRow, error)

	// AddCheck inserts a CheckDefinition. Returns ErrConflict if name is
	// non-empty and already taken, or if the canonical (url, status, xpath,
	// timeout) tuple already exists.
	AddCheck(ctx context.Context, c types.CheckDefinition) (types.CheckDefinition, error)

	// RemoveCheck deletes a CheckDefinition by id, cascading to its
	// ProxyCheck rows. Returns ErrNotExist if unknown.
	RemoveCheck(ctx context.Context, id uint) error

	// GetCheck looks up a CheckDefinition by id (id != 0) or by name.
	// Returns ErrNotExist if neither matches.
	GetCheck(ctx context.Context, id uint, name string) (types.CheckDefinition, error)

	// ListChecks returns every registered CheckDefinition.
	ListChecks(ctx context.Context) ([]types.CheckDefinition, error)

	// Associate creates a ProxyCheck row. Returns ErrNotExist if either
	// side is unknown, ErrConflict if the pair already exists.
	Associate(ctx context.Context, proxyID, checkID uint) error

	// Disassociate removes a ProxyCheck row. Returns ErrNotExist if the
	// pair does not exist.
	Disassociate(ctx context.Context, proxyID, checkID uint) error

	// ChecksFor returns every CheckDefinition associated with a proxy.
	ChecksFor(ctx context.Context, proxyID uint) ([]types.CheckDefinition, error)

	// AllAssociations returns every (proxy, check) pair currently
	// associated.
	AllAssociations(ctx context.Context) ([]types.ProxyCheck, error)

	// RecordResult appends a CheckResult. Never mutates or deletes prior
	// results; the derived views compute over the latest row per
	// (proxy_id, check_id).
	RecordResult(ctx context.Context, r types.CheckResult) error

	// AliveProxies returns the id set of proxies whose latest result for
	// every one of their associated checks has IsPassed == true. IsBanned
	// is independent: a proxy can be alive and banned at once. A proxy with
	// zero associated checks, or zero results, is never alive.
	AliveProxies(ctx context.Context) (map[uint]bool, error)

	// BannedAt returns, for every (proxy, check) pair whose latest result
	// has IsBanned, the netloc and timestamp of that result.
	BannedAt(ctx context.Context) ([]BannedEntry, error)

	// Close releases underlying resources (the database handle).
	Close() error
}
