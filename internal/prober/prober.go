// Package prober runs one CheckDefinition against one Proxy and produces a
// CheckResult. A Prober is pure with respect to the store: it never reads or
// writes persisted state itself, so it can be exercised and tested without a
// Store at all.
package prober

import (
	"context"
	"io"
	"net/http"
	"time"

	"proxycheck/internal/assertion"
	"proxycheck/internal/proxyclient"
	"proxycheck/pkg/types"
)

// maxBodyBytes bounds how much of a response body the Prober will read
// before evaluating assertions, so a misbehaving target can't exhaust
// memory across many concurrent probes.
const maxBodyBytes = 2 << 20 // 2 MiB

// Probe fetches check.URL through proxy and classifies the outcome into a
// CheckResult. The entire dial/connect/TLS/request/body-read sequence runs
// under a single deadline derived from check.Timeout (falling back to
// types.DefaultTimeout); no step gets its own independent sub-timeout, so a
// slow DNS lookup can't silently eat into the time budgeted for the request
// itself.
//
// A non-nil error return means the transport failure could not be placed in
// the enumerated ErrorKind taxonomy at all: per the declared error-handling
// contract, that case is a bug in the taxonomy, not a proxy failure, so it is
// returned to the caller instead of being recorded as an ordinary
// is_passed=false result. Every failure classify() recognizes is still
// folded into the returned CheckResult with a nil error.
func Probe(ctx context.Context, proxy types.Proxy, check types.CheckDefinition) (types.CheckResult, error) {
	start := time.Now()
	result := types.CheckResult{
		ProxyID: proxy.ID,
		CheckID: check.ID,
		DoneAt:  start,
	}

	timeout := check.Timeout
	if timeout <= 0 {
		timeout = types.DefaultTimeout
	}
	probeCtx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
	defer cancel()

	client, err := proxyclient.New(proxy)
	if err != nil {
		return fail(result, start, err)
	}

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, check.URL, nil)
	if err != nil {
		return fail(result, start, err)
	}
	proxyclient.ApplySessionHeaders(req)

	resp, err := client.Do(req)
	if err != nil {
		return fail(result, start, err)
	}
	defer resp.Body.Close()

	status := resp.StatusCode
	result.Status = &status
	result.Time = time.Since(start).Seconds()
	result.DoneAt = time.Now()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fail(result, start, err)
	}

	// The assertion evaluator always runs against the body, independent of
	// status_ok: a ban page often returns a non-2xx status, and is_banned
	// must still be recorded for it even when the status means is_passed
	// ends up false.
	statusOK := check.StatusOK(status)
	aePassed, aeBanned := assertion.Evaluate(body, check.XPathAsserts)
	result.IsPassed = statusOK && aePassed
	result.IsBanned = aeBanned
	return result, nil
}

// fail turns a transport-level error into a CheckResult, classifying it into
// the error taxonomy. An error classify cannot place in the taxonomy is
// returned as-is instead of being folded into the result, so it propagates
// to the caller rather than being silently converted into is_passed=false.
func fail(result types.CheckResult, start time.Time, err error) (types.CheckResult, error) {
	classified := classify(err)
	if classified == nil {
		return types.CheckResult{}, err
	}

	result.IsPassed = false
	result.IsBanned = false
	result.Time = time.Since(start).Seconds()
	result.DoneAt = time.Now()
	msg := classified.Error()
	result.Error = &msg
	return result, nil
}
