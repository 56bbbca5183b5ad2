package htmlscrape

import "testing"

const sampleTable = `
<table>
  <tr><td class="entry">10.0.0.1:8080</td></tr>
  <tr><td class="entry">10.0.0.2:1080</td></tr>
  <tr><td class="other">ignored</td></tr>
</table>
<a href="http://10.0.0.3:8080">link</a>
`

func TestExtractText(t *testing.T) {
	got, err := ExtractText(sampleTable, "td.entry")
	if err != nil {
		t.Fatalf("ExtractText: %v", err)
	}
	want := []string{"10.0.0.1:8080", "10.0.0.2:1080"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("index %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestExtractAttr(t *testing.T) {
	got, err := ExtractAttr(sampleTable, "a", "href")
	if err != nil {
		t.Fatalf("ExtractAttr: %v", err)
	}
	if len(got) != 1 || got[0] != "http://10.0.0.3:8080" {
		t.Fatalf("got %v, want [http://10.0.0.3:8080]", got)
	}
}

func TestExtractText_NoMatches(t *testing.T) {
	got, err := ExtractText(sampleTable, "td.nonexistent")
	if err != nil {
		t.Fatalf("ExtractText: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no matches, got %v", got)
	}
}
