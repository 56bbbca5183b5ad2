package manager

import (
	"context"
	"sync"
	"testing"
	"time"

	"proxycheck/internal/store"
	"proxycheck/pkg/types"
)

// fakeStore satisfies store.Store with just the ListProxies behavior the
// Manager's resync loop needs.
type fakeStore struct {
	mu      sync.Mutex
	proxies []types.ProxyRow
}

func (f *fakeStore) AddProxy(context.Context, types.Proxy) ([]types.Proxy, error) { return nil, nil }
func (f *fakeStore) RemoveProxy(context.Context, uint) error                      { return nil }
func (f *fakeStore) ListProxies(context.Context, types.ListFilter) ([]types.ProxyRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]types.ProxyRow, len(f.proxies))
	copy(out, f.proxies)
	return out, nil
}
func (f *fakeStore) AddCheck(context.Context, types.CheckDefinition) (types.CheckDefinition, error) {
	return types.CheckDefinition{}, nil
}
func (f *fakeStore) RemoveCheck(context.Context, uint) error { return nil }
func (f *fakeStore) GetCheck(context.Context, uint, string) (types.CheckDefinition, error) {
	return types.CheckDefinition{}, nil
}
func (f *fakeStore) ListChecks(context.Context) ([]types.CheckDefinition, error) { return nil, nil }
func (f *fakeStore) Associate(context.Context, uint, uint) error                 { return nil }
func (f *fakeStore) Disassociate(context.Context, uint, uint) error              { return nil }
func (f *fakeStore) ChecksFor(context.Context, uint) ([]types.CheckDefinition, error) {
	return nil, nil
}
func (f *fakeStore) AllAssociations(context.Context) ([]types.ProxyCheck, error) { return nil, nil }
func (f *fakeStore) RecordResult(context.Context, types.CheckResult) error       { return nil }
func (f *fakeStore) AliveProxies(context.Context) (map[uint]bool, error)         { return nil, nil }
func (f *fakeStore) BannedAt(context.Context) ([]store.BannedEntry, error)       { return nil, nil }
func (f *fakeStore) Close() error                                                { return nil }

// fakeTarget records every Proxy handed to it and reports a configurable
// queue size, so tests can assert on least-loaded selection.
type fakeTarget struct {
	mu        sync.Mutex
	queueSize int
	received  []types.Proxy
}

func (t *fakeTarget) Put(p types.Proxy) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.received = append(t.received, p)
	return true
}
func (t *fakeTarget) QueueSize() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.queueSize
}
func (t *fakeTarget) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.received)
}

func TestManager_DispatchesDueEntryImmediately(t *testing.T) {
	fs := &fakeStore{}
	target := &fakeTarget{}
	m := New(fs, []DispatchTarget{target}, 10*time.Millisecond, time.Hour, nil)

	m.Put(types.Proxy{ID: 1, Host: "10.0.0.1", Port: 80, Protocol: types.ProtoHTTP})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer func() {
		m.Stop()
		m.WaitStop()
	}()

	deadline := time.Now().Add(1 * time.Second)
	for target.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if target.count() != 1 {
		t.Fatalf("expected 1 dispatch, got %d", target.count())
	}
}

func TestManager_LeastLoadedPicksSmallestQueue(t *testing.T) {
	busy := &fakeTarget{queueSize: 5}
	idle := &fakeTarget{queueSize: 0}
	m := &Manager{workers: []DispatchTarget{busy, idle}}

	got := m.leastLoaded()
	if got != idle {
		t.Errorf("expected the idle target to be chosen")
	}
}

func TestManager_ResyncInsertsUntrackedProxiesOnly(t *testing.T) {
	fs := &fakeStore{proxies: []types.ProxyRow{
		{Proxy: types.Proxy{ID: 1, Host: "10.0.0.1", Port: 80, Protocol: types.ProtoHTTP}},
	}}
	m := New(fs, nil, time.Hour, time.Hour, nil)

	known := types.Proxy{ID: 2, Host: "10.0.0.2", Port: 80, Protocol: types.ProtoHTTP}
	m.Put(known)

	if err := m.resync(context.Background()); err != nil {
		t.Fatalf("resync: %v", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.schedule) != 2 {
		t.Fatalf("expected 2 schedule entries after resync, got %d", len(m.schedule))
	}
	if entry, ok := m.schedule[known.Key()]; !ok || entry.Proxy.ID != 2 {
		t.Errorf("expected the pre-existing entry to survive resync untouched")
	}
}

func TestScheduleEntry_DueSemantics(t *testing.T) {
	now := time.Now()

	neverProbed := ScheduleEntry{}
	if !neverProbed.due(now) {
		t.Error("a never-probed entry should always be due")
	}

	oneShotProbed := ScheduleEntry{LastProbedAt: now, hasLast: true}
	if oneShotProbed.due(now) {
		t.Error("a one-shot entry with no NextDueAt should not be re-due")
	}

	recurringNotYetDue := ScheduleEntry{
		LastProbedAt: now, hasLast: true,
		NextDueAt: now.Add(time.Hour), hasNext: true,
	}
	if recurringNotYetDue.due(now) {
		t.Error("a recurring entry due in the future should not be due yet")
	}

	recurringDue := ScheduleEntry{
		LastProbedAt: now.Add(-time.Hour), hasLast: true,
		NextDueAt: now.Add(-time.Minute), hasNext: true,
	}
	if !recurringDue.due(now) {
		t.Error("a recurring entry past its NextDueAt should be due")
	}
}
