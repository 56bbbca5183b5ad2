// Package ingest is the proxy-candidate scraper: it fetches
// "[scheme://]host:port" lists (plaintext or HTML) from configured source
// URLs, parses each entry, and registers the result with the control plane over loopback HTTP
// — the same boundary an external scraper process would cross, just run as
// a component of this binary instead of a separate one.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"proxycheck/internal/config"
	"proxycheck/internal/htmlscrape"
	"proxycheck/internal/logger"
	"proxycheck/pkg/types"
	"proxycheck/pkg/utils"
)

// Source is one list to scrape. Kind "plaintext" (the default) treats the
// response body as newline-delimited "[scheme://]host:port" entries; kind
// "html" instead runs Selector against the parsed document and treats each
// matched element's text content as one entry, for mirrors that publish
// their list as an HTML table rather than a raw text file.
type Source struct {
	URL      string
	Kind     string
	Selector string
}

// Ingester scrapes candidate proxy strings from Sources and registers them
// against a control plane reachable at APIBaseURL.
type Ingester struct {
	Sources      []Source
	APIBaseURL   string
	DefaultCheck string // optional check name to associate every ingested proxy with

	client *http.Client
	log    *logrus.Entry
}

// New builds an Ingester. It uses its own client with a 10s timeout for
// fetching source lists and calling the control plane (this is plain
// outbound HTTP to public list mirrors, not a proxied request, so it doesn't
// go through proxyclient).
func New(sources []Source, apiBaseURL, defaultCheck string, log *logrus.Entry) *Ingester {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Ingester{
		Sources:      sources,
		APIBaseURL:   apiBaseURL,
		DefaultCheck: defaultCheck,
		client:       &http.Client{Timeout: 10 * time.Second},
		log:          log.WithField("component", "ingest"),
	}
}

// Run fetches every source concurrently, parses each line with
// config.ParseProxyString, and registers the union of valid entries with the
// control plane. It returns the count successfully registered.
func (in *Ingester) Run(ctx context.Context) (int, error) {
	correlationID := utils.GenerateCorrelationID()
	logger.WithCorrelation(in.log, correlationID).
		WithField("sources", len(in.Sources)).Info("starting proxy ingestion")

	candidates := make(chan types.Proxy, 256)
	var wg sync.WaitGroup

	for _, source := range in.Sources {
		wg.Add(1)
		go func(source Source) {
			defer wg.Done()
			if err := in.scrapeSource(ctx, source, candidates); err != nil {
				in.log.WithError(err).WithField("source", source.URL).Warn("failed to scrape source")
			}
		}(source)
	}

	go func() {
		wg.Wait()
		close(candidates)
	}()

	var registered int
	for p := range candidates {
		if err := in.register(ctx, p); err != nil {
			in.log.WithError(err).WithField("proxy", p.Key()).Warn("failed to register proxy")
			continue
		}
		registered++
	}

	in.log.WithField("registered", registered).Info("proxy ingestion complete")
	return registered, nil
}

func (in *Ingester) scrapeSource(ctx context.Context, source Source, out chan<- types.Proxy) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source.URL, nil)
	if err != nil {
		return err
	}

	resp, err := in.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ingest: source %s returned status %d", source.URL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}

	var candidates []string
	if source.Kind == "html" {
		candidates, err = htmlscrape.ExtractText(string(body), source.Selector)
		if err != nil {
			return err
		}
	} else {
		candidates = strings.Split(string(body), "\n")
	}

	for _, line := range candidates {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		p, err := config.ParseProxyString(line)
		if err != nil {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out <- p:
		}
	}
	return nil
}

// register calls the control plane's add (and, if DefaultCheck is set,
// add_proxy_check) endpoints for one candidate proxy.
func (in *Ingester) register(ctx context.Context, p types.Proxy) error {
	proxyStr := string(p.Protocol) + "://" + p.Host + ":" + strconv.Itoa(p.Port)
	if p.Protocol == types.ProtoUnspecified {
		proxyStr = p.Host + ":" + strconv.Itoa(p.Port)
	}

	addURL := fmt.Sprintf("%s/add?proxy=%s", in.APIBaseURL, url.QueryEscape(proxyStr))
	var addEnvelope struct {
		Result []types.Proxy `json:"result"`
		Error  bool          `json:"error"`
	}
	if err := in.getJSON(ctx, addURL, &addEnvelope); err != nil {
		return err
	}
	if addEnvelope.Error {
		return fmt.Errorf("ingest: add rejected %s", proxyStr)
	}

	if in.DefaultCheck == "" {
		return nil
	}

	lookupURL := fmt.Sprintf("%s/list_check?name=%s", in.APIBaseURL, url.QueryEscape(in.DefaultCheck))
	var checkEnvelope struct {
		Result types.CheckDefinition `json:"result"`
		Error  bool                  `json:"error"`
	}
	if err := in.getJSON(ctx, lookupURL, &checkEnvelope); err != nil {
		return err
	}
	if checkEnvelope.Error {
		return fmt.Errorf("ingest: default check %q not found", in.DefaultCheck)
	}

	for _, created := range addEnvelope.Result {
		assocURL := fmt.Sprintf("%s/add_proxy_check?proxy_id=%d&check_id=%d", in.APIBaseURL, created.ID, checkEnvelope.Result.ID)
		var assocEnvelope struct {
			Error bool `json:"error"`
		}
		if err := in.getJSON(ctx, assocURL, &assocEnvelope); err != nil {
			return err
		}
	}
	return nil
}

func (in *Ingester) getJSON(ctx context.Context, reqURL string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return err
	}
	resp, err := in.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(out)
}
