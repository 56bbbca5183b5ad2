package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"proxycheck/internal/store/gormstore"
	"proxycheck/pkg/types"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	st, err := gormstore.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return New(st, nil, nil)
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) (json.RawMessage, bool) {
	t.Helper()
	var env struct {
		Result json.RawMessage `json:"result"`
		Error  bool            `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v (body=%s)", err, rec.Body.String())
	}
	return env.Result, env.Error
}

func TestHandleAddProxy_AndList(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/add?proxy=http://10.0.0.1:8080", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	_, isErr := decodeEnvelope(t, rec)
	if isErr {
		t.Fatalf("unexpected error envelope: %s", rec.Body.String())
	}

	listReq := httptest.NewRequest(http.MethodGet, "/list", nil)
	listRec := httptest.NewRecorder()
	s.Handler().ServeHTTP(listRec, listReq)

	result, isErr := decodeEnvelope(t, listRec)
	if isErr {
		t.Fatalf("unexpected error envelope: %s", listRec.Body.String())
	}
	var rows []types.ProxyRow
	if err := json.Unmarshal(result, &rows); err != nil {
		t.Fatalf("decode rows: %v", err)
	}
	if len(rows) != 1 || rows[0].Host != "10.0.0.1" {
		t.Fatalf("expected one proxy 10.0.0.1, got %+v", rows)
	}
}

func TestHandleAddProxy_MalformedString(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/add?proxy=not-a-valid-proxy-string", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleAddCheck_AndAssociate(t *testing.T) {
	s := newTestServer(t)

	addProxy := httptest.NewRequest(http.MethodGet, "/add?proxy=http://10.0.0.2:8080", nil)
	addProxyRec := httptest.NewRecorder()
	s.Handler().ServeHTTP(addProxyRec, addProxy)
	proxyResult, _ := decodeEnvelope(t, addProxyRec)
	var created []types.Proxy
	if err := json.Unmarshal(proxyResult, &created); err != nil {
		t.Fatalf("decode created proxies: %v", err)
	}

	body := `{"name":"example","url":"http://example.test/","status":[200]}`
	addCheck := httptest.NewRequest(http.MethodPost, "/add_check", strings.NewReader(body))
	addCheck.Header.Set("Content-Type", "application/json")
	addCheckRec := httptest.NewRecorder()
	s.Handler().ServeHTTP(addCheckRec, addCheck)
	if addCheckRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", addCheckRec.Code, addCheckRec.Body.String())
	}
	checkResult, _ := decodeEnvelope(t, addCheckRec)
	var checkDef types.CheckDefinition
	if err := json.Unmarshal(checkResult, &checkDef); err != nil {
		t.Fatalf("decode created check: %v", err)
	}

	assocReq := httptest.NewRequest(http.MethodGet,
		"/add_proxy_check?proxy_id="+strconv.Itoa(int(created[0].ID))+"&check_id="+strconv.Itoa(int(checkDef.ID)), nil)
	assocRec := httptest.NewRecorder()
	s.Handler().ServeHTTP(assocRec, assocReq)
	if assocRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", assocRec.Code, assocRec.Body.String())
	}
}

func TestHandleRecentLogs_NilLoggerReturnsEmpty(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/recent_logs", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	result, isErr := decodeEnvelope(t, rec)
	if isErr {
		t.Fatalf("unexpected error envelope: %s", rec.Body.String())
	}
	var lines []string
	if err := json.Unmarshal(result, &lines); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(lines) != 0 {
		t.Errorf("expected no log lines with no Logger wired, got %d", len(lines))
	}
}

func TestHandleBanned_EmptyInitially(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/banned", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	result, isErr := decodeEnvelope(t, rec)
	if isErr {
		t.Fatalf("unexpected error envelope")
	}
	var entries []any
	if err := json.Unmarshal(result, &entries); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no banned entries initially, got %d", len(entries))
	}
}
