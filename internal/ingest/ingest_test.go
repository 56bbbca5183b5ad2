package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"proxycheck/internal/api"
	"proxycheck/internal/store/gormstore"
)

func newControlPlane(t *testing.T) *httptest.Server {
	t.Helper()
	st, err := gormstore.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	srv := api.New(st, nil, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestIngest_PlaintextSourceRegistersProxies(t *testing.T) {
	cp := newControlPlane(t)

	list := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("http://10.0.0.1:8080\nsocks5://10.0.0.2:1080\n\nmalformed\n"))
	}))
	defer list.Close()

	in := New([]Source{{URL: list.URL, Kind: "plaintext"}}, cp.URL, "", nil)
	count, err := in.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 registered proxies, got %d", count)
	}
}

func TestIngest_HTMLSourceRegistersProxies(t *testing.T) {
	cp := newControlPlane(t)

	list := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<table><tr><td class="e">http://10.0.0.3:8080</td></tr></table>`))
	}))
	defer list.Close()

	in := New([]Source{{URL: list.URL, Kind: "html", Selector: "td.e"}}, cp.URL, "", nil)
	count, err := in.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 registered proxy, got %d", count)
	}
}

func TestIngest_DefaultCheckAssociatesCreatedProxies(t *testing.T) {
	cp := newControlPlane(t)

	addCheckReq, _ := http.NewRequest(http.MethodPost, cp.URL+"/add_check?name=reach",
		strings.NewReader(`{"url":"http://example.test/","status":[200]}`))
	addCheckReq.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(addCheckReq)
	if err != nil {
		t.Fatalf("seed check: %v", err)
	}
	resp.Body.Close()

	list := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("http://10.0.0.4:8080\n"))
	}))
	defer list.Close()

	in := New([]Source{{URL: list.URL}}, cp.URL, "reach", nil)
	count, err := in.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 registered proxy, got %d", count)
	}
}
