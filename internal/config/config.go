// Package config loads the daemon's YAML service configuration plus the two
// file grammars it bootstraps from: a directory of check-definition JSON
// files and a proxy-list file. It mirrors the load → validate → report-stats
// shape of a conventional config manager, generalized here from
// application-specific config formats to this service's own.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"proxycheck/pkg/types"
)

// Config is the daemon's top-level YAML service configuration.
type Config struct {
	Storage struct {
		DSN string `yaml:"dsn"`
	} `yaml:"storage"`

	Scheduler struct {
		TickInterval time.Duration `yaml:"tick_interval"`
		SyncInterval time.Duration `yaml:"sync_interval"`
	} `yaml:"scheduler"`

	Workers struct {
		Count       int `yaml:"count"`
		MaxInFlight int `yaml:"max_in_flight"`
		InboxSize   int `yaml:"inbox_size"`
	} `yaml:"workers"`

	API struct {
		ListenAddr string `yaml:"listen_addr"`
	} `yaml:"api"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Bootstrap struct {
		CheckDefinitionsDir string `yaml:"check_definitions_dir"`
		ProxyListFile       string `yaml:"proxy_list_file"`
	} `yaml:"bootstrap"`

	Ingest struct {
		Sources []struct {
			URL      string `yaml:"url"`
			Kind     string `yaml:"kind"` // "plaintext" (default) or "html"
			Selector string `yaml:"selector"`
		} `yaml:"sources"`
		Interval     time.Duration `yaml:"interval"`
		DefaultCheck string        `yaml:"default_check"`
	} `yaml:"ingest"`
}

// Stats is a summary shape for a bootstrap pass, meant for a startup log
// line rather than for any downstream decision. Load does not fill it in,
// and nothing in this package populates it.
type Stats struct {
	CheckDefinitionsLoaded int
	ProxiesLoaded          int
	LoadErrors             []string
	LoadedAt               time.Time
}

// defaults applies the service's fallback values for anything the YAML file
// left unset.
func (c *Config) defaults() {
	if c.Storage.DSN == "" {
		c.Storage.DSN = "proxycheck.db"
	}
	if c.Scheduler.TickInterval == 0 {
		c.Scheduler.TickInterval = 500 * time.Millisecond
	}
	if c.Scheduler.SyncInterval == 0 {
		c.Scheduler.SyncInterval = 30 * time.Second
	}
	if c.Workers.Count == 0 {
		c.Workers.Count = 4
	}
	if c.Workers.MaxInFlight == 0 {
		c.Workers.MaxInFlight = 50
	}
	if c.Workers.InboxSize == 0 {
		c.Workers.InboxSize = 256
	}
	if c.API.ListenAddr == "" {
		c.API.ListenAddr = ":8080"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Ingest.Interval == 0 {
		c.Ingest.Interval = 10 * time.Minute
	}
}

// Load reads and parses the YAML service configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	c.defaults()
	return &c, nil
}

// LoadCheckDefinitions reads every *.json file in dir as a CheckDefinition
// per the canonical wire grammar (§ check definition JSON), skipping and
// recording files that fail to parse rather than aborting the whole batch.
func LoadCheckDefinitions(dir string) ([]types.CheckDefinition, []string) {
	var defs []types.CheckDefinition
	var errs []string

	if dir == "" {
		return defs, errs
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return defs, []string{fmt.Sprintf("read %s: %v", dir, err)}
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		def, err := parseCheckDefinitionFile(path)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", entry.Name(), err))
			continue
		}
		defs = append(defs, def)
	}
	return defs, errs
}

func parseCheckDefinitionFile(path string) (types.CheckDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.CheckDefinition{}, err
	}

	var def types.CheckDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return types.CheckDefinition{}, err
	}
	if def.URL == "" {
		return types.CheckDefinition{}, fmt.Errorf("missing required field %q", "url")
	}
	if len(def.ExpectedStatus) == 0 {
		def.ExpectedStatus = types.DefaultExpectedStatus
	}
	if def.Timeout == 0 {
		def.Timeout = types.DefaultTimeout
	}
	return def, nil
}

// LoadProxyList reads path, one "[scheme://]host:port" string per line,
// blank lines and lines starting with "#" skipped.
func LoadProxyList(path string) ([]types.Proxy, []string) {
	var proxies []types.Proxy
	var errs []string

	if path == "" {
		return proxies, errs
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return proxies, []string{fmt.Sprintf("read %s: %v", path, err)}
	}

	for i, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		p, err := ParseProxyString(line)
		if err != nil {
			errs = append(errs, fmt.Sprintf("line %d: %v", i+1, err))
			continue
		}
		proxies = append(proxies, p)
	}
	return proxies, errs
}

// ParseProxyString parses the "[scheme://]host:port" ingestion grammar.
// Omitted scheme yields ProtoUnspecified, which the Store expands into one
// Proxy per candidate protocol at insert time.
func ParseProxyString(s string) (types.Proxy, error) {
	proto := types.ProtoUnspecified
	rest := s

	if idx := strings.Index(s, "://"); idx != -1 {
		switch s[:idx] {
		case "http":
			proto = types.ProtoHTTP
		case "socks4":
			proto = types.ProtoSOCKS4
		case "socks5":
			proto = types.ProtoSOCKS5
		default:
			return types.Proxy{}, fmt.Errorf("config: unknown proxy scheme %q", s[:idx])
		}
		rest = s[idx+3:]
	}

	host, portStr, found := strings.Cut(rest, ":")
	if !found {
		return types.Proxy{}, fmt.Errorf("config: malformed proxy string %q, want host:port", s)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return types.Proxy{}, fmt.Errorf("config: malformed port in %q: %w", s, err)
	}

	return types.Proxy{Host: host, Port: port, Protocol: proto}, nil
}
