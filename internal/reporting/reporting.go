// Package reporting writes point-in-time summaries of the registry's
// derived state — currently alive proxies and the banned-at map — to disk
// in text, JSON, or CSV form, adapted from the conventional
// generate-then-write-report shape used elsewhere for operation reports.
package reporting

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"proxycheck/internal/store"
	"proxycheck/pkg/types"
)

// Summary is the point-in-time snapshot a report is generated from.
type Summary struct {
	GeneratedAt time.Time           `json:"generated_at"`
	Alive       []types.ProxyRow    `json:"alive"`
	Banned      []store.BannedEntry `json:"banned"`
}

// BuildSummary queries st for the alive-proxy list (sorted by ascending mean
// latency — the one ranking this service still performs) and the banned-at
// map.
func BuildSummary(ctx context.Context, st store.Store) (Summary, error) {
	alive, err := st.ListProxies(ctx, types.ListAliveOnly)
	if err != nil {
		return Summary{}, err
	}
	sort.Slice(alive, func(i, j int) bool { return alive[i].MeanLatency < alive[j].MeanLatency })

	banned, err := st.BannedAt(ctx)
	if err != nil {
		return Summary{}, err
	}

	return Summary{GeneratedAt: time.Now(), Alive: alive, Banned: banned}, nil
}

// Write renders summary to filename in the format implied by its extension
// (.json, .csv, else plain text), creating parent directories as needed.
// The CSV form lists only the alive proxies; banned entries are not written
// to it.
func Write(filename string, summary Summary) error {
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	switch filepath.Ext(filename) {
	case ".json":
		return writeJSON(filename, summary)
	case ".csv":
		return writeCSV(filename, summary)
	default:
		return writeText(filename, summary)
	}
}

func writeJSON(filename string, summary Summary) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(summary)
}

func writeCSV(filename string, summary Summary) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	w := csv.NewWriter(file)
	defer w.Flush()

	if err := w.Write([]string{"proxy_id", "host", "port", "protocol", "mean_latency_seconds"}); err != nil {
		return err
	}
	for _, row := range summary.Alive {
		if err := w.Write([]string{
			fmt.Sprint(row.ID), row.Host, fmt.Sprint(row.Port), string(row.Protocol),
			fmt.Sprintf("%.3f", row.MeanLatency),
		}); err != nil {
			return err
		}
	}
	return nil
}

func writeText(filename string, summary Summary) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	fmt.Fprintf(file, "Generated at: %s\n\n", summary.GeneratedAt.Format(time.RFC3339))

	fmt.Fprintf(file, "Alive proxies (%d), sorted by mean latency:\n", len(summary.Alive))
	for _, row := range summary.Alive {
		fmt.Fprintf(file, "  %s (id=%d) mean_latency=%.3fs\n", row.Key(), row.ID, row.MeanLatency)
	}

	fmt.Fprintf(file, "\nBanned (%d):\n", len(summary.Banned))
	for _, b := range summary.Banned {
		fmt.Fprintf(file, "  proxy_id=%d check_id=%d netloc=%s at=%s\n", b.ProxyID, b.CheckID, b.Netloc, b.At.Format(time.RFC3339))
	}

	return nil
}
