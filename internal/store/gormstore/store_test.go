package gormstore

import (
	"context"
	"testing"

	"proxycheck/internal/store"
	"proxycheck/pkg/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestAddProxy_ExpandsUnspecifiedProtocol(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	created, err := st.AddProxy(ctx, types.Proxy{Host: "10.0.0.1", Port: 8080, Protocol: types.ProtoUnspecified})
	if err != nil {
		t.Fatalf("AddProxy: %v", err)
	}
	if len(created) != len(types.ExpandableProtocols) {
		t.Fatalf("expected %d expanded proxies, got %d", len(types.ExpandableProtocols), len(created))
	}
}

func TestAddProxy_DuplicateConflicts(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	p := types.Proxy{Host: "10.0.0.1", Port: 8080, Protocol: types.ProtoHTTP}
	if _, err := st.AddProxy(ctx, p); err != nil {
		t.Fatalf("first AddProxy: %v", err)
	}
	if _, err := st.AddProxy(ctx, p); err != store.ErrConflict {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestAliveProxies_RequiresEveryAssociatedCheckPassing(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	proxies, err := st.AddProxy(ctx, types.Proxy{Host: "10.0.0.2", Port: 8080, Protocol: types.ProtoHTTP})
	if err != nil {
		t.Fatalf("AddProxy: %v", err)
	}
	proxyID := proxies[0].ID

	checkA, err := st.AddCheck(ctx, types.CheckDefinition{URL: "http://a.example/", Name: "a"})
	if err != nil {
		t.Fatalf("AddCheck a: %v", err)
	}
	checkB, err := st.AddCheck(ctx, types.CheckDefinition{URL: "http://b.example/", Name: "b"})
	if err != nil {
		t.Fatalf("AddCheck b: %v", err)
	}

	if err := st.Associate(ctx, proxyID, checkA.ID); err != nil {
		t.Fatalf("associate a: %v", err)
	}
	if err := st.Associate(ctx, proxyID, checkB.ID); err != nil {
		t.Fatalf("associate b: %v", err)
	}

	if err := st.RecordResult(ctx, types.CheckResult{ProxyID: proxyID, CheckID: checkA.ID, IsPassed: true}); err != nil {
		t.Fatalf("record a: %v", err)
	}

	alive, err := st.AliveProxies(ctx)
	if err != nil {
		t.Fatalf("AliveProxies: %v", err)
	}
	if alive[proxyID] {
		t.Errorf("expected proxy not alive (check b has no result yet), got alive")
	}

	if err := st.RecordResult(ctx, types.CheckResult{ProxyID: proxyID, CheckID: checkB.ID, IsPassed: true}); err != nil {
		t.Fatalf("record b: %v", err)
	}

	alive, err = st.AliveProxies(ctx)
	if err != nil {
		t.Fatalf("AliveProxies: %v", err)
	}
	if !alive[proxyID] {
		t.Errorf("expected proxy alive once every associated check passes, got not alive")
	}
}

func TestAliveProxies_BannedDoesNotExcludeAlive(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	proxies, err := st.AddProxy(ctx, types.Proxy{Host: "10.0.0.3", Port: 8080, Protocol: types.ProtoHTTP})
	if err != nil {
		t.Fatalf("AddProxy: %v", err)
	}
	proxyID := proxies[0].ID

	check, err := st.AddCheck(ctx, types.CheckDefinition{URL: "http://c.example/", Name: "c"})
	if err != nil {
		t.Fatalf("AddCheck: %v", err)
	}
	if err := st.Associate(ctx, proxyID, check.ID); err != nil {
		t.Fatalf("associate: %v", err)
	}

	// A result that is both passed and banned must count as alive: the two
	// flags are independent, per the data model.
	if err := st.RecordResult(ctx, types.CheckResult{
		ProxyID: proxyID, CheckID: check.ID, IsPassed: true, IsBanned: true,
	}); err != nil {
		t.Fatalf("record: %v", err)
	}

	alive, err := st.AliveProxies(ctx)
	if err != nil {
		t.Fatalf("AliveProxies: %v", err)
	}
	if !alive[proxyID] {
		t.Errorf("expected a passed-and-banned proxy to still count as alive")
	}

	banned, err := st.BannedAt(ctx)
	if err != nil {
		t.Fatalf("BannedAt: %v", err)
	}
	if len(banned) != 1 || banned[0].ProxyID != proxyID {
		t.Errorf("expected one banned entry for proxy %d, got %+v", proxyID, banned)
	}
}

func TestAliveProxies_NoAssociatedChecksIsNeverAlive(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	proxies, err := st.AddProxy(ctx, types.Proxy{Host: "10.0.0.4", Port: 8080, Protocol: types.ProtoHTTP})
	if err != nil {
		t.Fatalf("AddProxy: %v", err)
	}

	alive, err := st.AliveProxies(ctx)
	if err != nil {
		t.Fatalf("AliveProxies: %v", err)
	}
	if alive[proxies[0].ID] {
		t.Errorf("expected a proxy with no associated checks to never be alive")
	}
}

func TestRemoveProxy_NotFound(t *testing.T) {
	st := openTestStore(t)
	if err := st.RemoveProxy(context.Background(), 9999); err != store.ErrNotExist {
		t.Errorf("expected ErrNotExist, got %v", err)
	}
}

func TestAssociate_UnknownProxyOrCheck(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	check, err := st.AddCheck(ctx, types.CheckDefinition{URL: "http://d.example/", Name: "d"})
	if err != nil {
		t.Fatalf("AddCheck: %v", err)
	}
	if err := st.Associate(ctx, 9999, check.ID); err != store.ErrNotExist {
		t.Errorf("expected ErrNotExist for unknown proxy, got %v", err)
	}
}
