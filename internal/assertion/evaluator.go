// Package assertion evaluates a CheckDefinition's XPath assertions against a
// fetched response body. It is the one place in the repository that knows
// about HTML/XPath; the prober treats it as a pure function from bytes to a
// (passed, banned) verdict.
package assertion

import (
	"bytes"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"proxycheck/pkg/types"
)

// Evaluate parses body as lenient HTML and matches every assertion's XPath
// expression against it. The semantics are deliberately disjunctive across
// *all* assertion kinds, not just "alive" ones: any match at all, including
// a "ban" match, counts as evidence the content was understood and so
// contributes to isPassed. This means a matched ban assertion alone yields
// (isPassed=true, isBanned=true) — "the page loaded and matched both an
// alive and a ban assertion" is a legal, meaningful outcome, not a
// contradiction to resolve. Tightening this to "isPassed requires an alive
// match" is a reasonable variant but a deliberate policy change, not the
// behavior implemented here.
//
//   - no assertions at all: (true, false) — a bare status-code check.
//   - body fails to parse as HTML: (false, false).
//   - nothing matches: (false, false).
//
// A malformed XPath expression in one assertion does not abort evaluation
// of the remaining assertions; it simply counts as a non-match.
func Evaluate(body []byte, assertions []types.Assertion) (isPassed bool, isBanned bool) {
	if len(assertions) == 0 {
		return true, false
	}

	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return false, false
	}

	for _, a := range assertions {
		if matches(doc, a.Expr) {
			isPassed = true
			if a.Kind == types.AssertionBan {
				isBanned = true
			}
		}
	}
	return isPassed, isBanned
}

// matches reports whether expr selects at least one node in doc. A
// compile/query error is treated as "no match" rather than propagated, since
// a bad expression in one assertion should not sink the others.
func matches(doc *html.Node, expr string) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	nodes, err := htmlquery.QueryAll(doc, expr)
	if err != nil {
		return false
	}
	return len(nodes) > 0
}
