package proxyclient

import (
	"math/rand"
	"net/http"
)

// headerProfile is a bundle of headers that, applied together, make a probe
// look like it came from one consistent real browser rather than a bare Go
// http.Client. Rotating the whole bundle (not just the User-Agent string)
// matters because mismatched Accept/Accept-Language values are themselves a
// fingerprinting signal.
type headerProfile struct {
	userAgent      string
	accept         string
	acceptLanguage string
}

// sessionProfiles is the fixed pool probes pick from at random. Kept small
// and current rather than exhaustive; it only needs to avoid the single
// static default http.Client User-Agent, not to defeat real fingerprinting.
var sessionProfiles = []headerProfile{
	{
		userAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		accept:         "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
		acceptLanguage: "en-US,en;q=0.9",
	},
	{
		userAgent:      "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
		accept:         "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		acceptLanguage: "en-US,en;q=0.9",
	},
	{
		userAgent:      "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		accept:         "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
		acceptLanguage: "en-GB,en;q=0.8",
	},
	{
		userAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
		accept:         "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		acceptLanguage: "en-US,en;q=0.5",
	},
}

// RandomSessionHeaders picks a header profile at random and returns it ready
// to be copied onto an outgoing *http.Request.
func RandomSessionHeaders() http.Header {
	p := sessionProfiles[rand.Intn(len(sessionProfiles))]
	h := make(http.Header)
	h.Set("User-Agent", p.userAgent)
	h.Set("Accept", p.accept)
	h.Set("Accept-Language", p.acceptLanguage)
	return h
}

// ApplySessionHeaders copies a random profile's headers onto req, leaving
// any header the caller already set untouched.
func ApplySessionHeaders(req *http.Request) {
	for k, v := range RandomSessionHeaders() {
		if req.Header.Get(k) == "" {
			req.Header[k] = v
		}
	}
}
