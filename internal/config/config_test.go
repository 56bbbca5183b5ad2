package config

import (
	"os"
	"path/filepath"
	"testing"

	"proxycheck/pkg/types"
)

func TestParseProxyString(t *testing.T) {
	tests := []struct {
		in       string
		wantHost string
		wantPort int
		wantProt types.ProxyProtocol
		wantErr  bool
	}{
		{"10.0.0.1:8080", "10.0.0.1", 8080, types.ProtoUnspecified, false},
		{"http://10.0.0.1:8080", "10.0.0.1", 8080, types.ProtoHTTP, false},
		{"socks5://10.0.0.1:1080", "10.0.0.1", 1080, types.ProtoSOCKS5, false},
		{"socks4://10.0.0.1:1080", "10.0.0.1", 1080, types.ProtoSOCKS4, false},
		{"ftp://10.0.0.1:21", "", 0, "", true},
		{"no-port-here", "", 0, "", true},
		{"10.0.0.1:notaport", "", 0, "", true},
	}

	for _, tt := range tests {
		p, err := ParseProxyString(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseProxyString(%q): expected error, got none", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseProxyString(%q): unexpected error: %v", tt.in, err)
			continue
		}
		if p.Host != tt.wantHost || p.Port != tt.wantPort || p.Protocol != tt.wantProt {
			t.Errorf("ParseProxyString(%q) = %+v, want host=%s port=%d proto=%s",
				tt.in, p, tt.wantHost, tt.wantPort, tt.wantProt)
		}
	}
}

func TestLoadCheckDefinitions(t *testing.T) {
	dir := t.TempDir()
	good := `{"name":"example","url":"http://example.test/","status":[200],"xpath":[{"xpath":"//div","type":"alive"}]}`
	if err := os.WriteFile(filepath.Join(dir, "good.json"), []byte(good), 0644); err != nil {
		t.Fatalf("write good.json: %v", err)
	}
	bad := `{"name":"missing-url"}`
	if err := os.WriteFile(filepath.Join(dir, "bad.json"), []byte(bad), 0644); err != nil {
		t.Fatalf("write bad.json: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "ignored.txt"), []byte("not json"), 0644); err != nil {
		t.Fatalf("write ignored.txt: %v", err)
	}

	defs, errs := LoadCheckDefinitions(dir)
	if len(defs) != 1 {
		t.Fatalf("expected 1 valid definition, got %d", len(defs))
	}
	if defs[0].Name != "example" {
		t.Errorf("expected name 'example', got %q", defs[0].Name)
	}
	if len(errs) != 1 {
		t.Errorf("expected 1 load error for bad.json, got %d: %v", len(errs), errs)
	}
}

func TestLoadProxyList(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "proxies.txt")
	content := "# comment\n\nhttp://10.0.0.1:8080\nsocks5://10.0.0.2:1080\nmalformed-line\n"
	if err := os.WriteFile(file, []byte(content), 0644); err != nil {
		t.Fatalf("write proxy list: %v", err)
	}

	proxies, errs := LoadProxyList(file)
	if len(proxies) != 2 {
		t.Fatalf("expected 2 valid proxies, got %d", len(proxies))
	}
	if len(errs) != 1 {
		t.Errorf("expected 1 load error for the malformed line, got %d: %v", len(errs), errs)
	}
}

func TestConfig_Defaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "service.yaml")
	if err := os.WriteFile(path, []byte("storage:\n  dsn: test.db\n"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.DSN != "test.db" {
		t.Errorf("expected dsn 'test.db', got %q", cfg.Storage.DSN)
	}
	if cfg.Workers.Count == 0 {
		t.Errorf("expected a nonzero default worker count")
	}
	if cfg.API.ListenAddr == "" {
		t.Errorf("expected a default listen address")
	}
}
