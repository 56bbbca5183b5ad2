// Command proxycheckctl is a thin REST client over the control-plane API:
// every subcommand except report maps to one HTTP call and prints the
// decoded envelope's result; report combines two calls into a summary. It
// mirrors the cobra-per-action CLI shape used for this service's other entry
// points.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"proxycheck/internal/reporting"
	"proxycheck/internal/store"
	"proxycheck/pkg/types"
)

var baseURL string

func main() {
	rootCmd := &cobra.Command{
		Use:   "proxycheckctl",
		Short: "Control-plane client for the proxy-checking daemon",
	}
	rootCmd.PersistentFlags().StringVar(&baseURL, "addr", "http://127.0.0.1:8080", "control-plane base URL")

	rootCmd.AddCommand(
		listCmd(),
		addCmd(),
		removeCmd(),
		addCheckCmd(),
		listCheckCmd(),
		removeCheckCmd(),
		associateCmd(),
		disassociateCmd(),
		bannedCmd(),
		reportCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// envelope mirrors the control plane's uniform {"result":..., "error":bool}
// response shape; Result is left as raw JSON since its schema varies by
// endpoint.
type envelope struct {
	Result json.RawMessage `json:"result"`
	Error  bool            `json:"error"`
}

func call(method, path string, query url.Values) error {
	reqURL := baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	req, err := http.NewRequest(method, reqURL, nil)
	if err != nil {
		return err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	pretty, err := json.MarshalIndent(env.Result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(pretty))

	if env.Error {
		return fmt.Errorf("proxycheckctl: request failed")
	}
	return nil
}

// fetchJSON performs the same GET-and-decode-envelope round trip as call,
// but unmarshals the envelope's result into out instead of printing it — for
// subcommands that assemble their own payload from more than one endpoint.
func fetchJSON(path string, query url.Values, out interface{}) error {
	reqURL := baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	resp, err := http.Get(reqURL)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if env.Error {
		return fmt.Errorf("proxycheckctl: request to %s failed", path)
	}
	return json.Unmarshal(env.Result, out)
}

func reportCmd() *cobra.Command {
	var output, format string
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Write a point-in-time summary of alive proxies and banned entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			var alive []types.ProxyRow
			if err := fetchJSON("/list", url.Values{"alive": {"true"}}, &alive); err != nil {
				return fmt.Errorf("fetch alive proxies: %w", err)
			}
			sort.Slice(alive, func(i, j int) bool { return alive[i].MeanLatency < alive[j].MeanLatency })
			var banned []store.BannedEntry
			if err := fetchJSON("/banned", nil, &banned); err != nil {
				return fmt.Errorf("fetch banned entries: %w", err)
			}
			summary := reporting.Summary{GeneratedAt: time.Now(), Alive: alive, Banned: banned}

			if output == "" {
				pretty, err := json.MarshalIndent(summary, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(pretty))
				return nil
			}
			path := output
			if format != "" && filepath.Ext(path) == "" {
				path += "." + format
			}
			return reporting.Write(path, summary)
		},
	}
	cmd.Flags().StringVar(&output, "output", "", "file to write the report to; prints JSON to stdout if omitted")
	cmd.Flags().StringVar(&format, "format", "", "report format when --output has no extension: json|csv|text")
	return cmd
}

func listCmd() *cobra.Command {
	var aliveOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered proxies",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if aliveOnly {
				q.Set("alive", "true")
			}
			return call(http.MethodGet, "/list", q)
		},
	}
	cmd.Flags().BoolVar(&aliveOnly, "alive", false, "only list proxies currently alive")
	return cmd
}

func addCmd() *cobra.Command {
	var recheckEvery int
	cmd := &cobra.Command{
		Use:   "add [scheme://]host:port",
		Short: "Register a proxy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{"proxy": {args[0]}}
			if recheckEvery > 0 {
				q.Set("recheck_every", strconv.Itoa(recheckEvery))
			}
			return call(http.MethodGet, "/add", q)
		},
	}
	cmd.Flags().IntVar(&recheckEvery, "recheck-every", 0, "recheck interval in seconds (0 = one-shot)")
	return cmd
}

func removeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove id",
		Short: "Remove a proxy by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(http.MethodGet, "/remove", url.Values{"id": {args[0]}})
		},
	}
}

func addCheckCmd() *cobra.Command {
	var file, name string
	cmd := &cobra.Command{
		Use:   "add-check",
		Short: "Register a check definition from a JSON file",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			q := url.Values{}
			if name != "" {
				q.Set("name", name)
			}
			reqURL := baseURL + "/add_check"
			if len(q) > 0 {
				reqURL += "?" + q.Encode()
			}
			req, err := http.NewRequest(http.MethodPost, reqURL, bytes.NewReader(data))
			if err != nil {
				return err
			}
			req.Header.Set("Content-Type", "application/json")

			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			var env envelope
			if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
				return err
			}
			pretty, _ := json.MarshalIndent(env.Result, "", "  ")
			fmt.Println(string(pretty))
			if env.Error {
				return fmt.Errorf("proxycheckctl: request failed")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "path to a check-definition JSON file")
	cmd.Flags().StringVar(&name, "name", "", "override the check's name")
	cmd.MarkFlagRequired("file")
	return cmd
}

func listCheckCmd() *cobra.Command {
	var id, name string
	cmd := &cobra.Command{
		Use:   "get-check",
		Short: "Look up a check definition by id or name",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(http.MethodGet, "/list_check", checkRefQuery(id, name))
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "check id")
	cmd.Flags().StringVar(&name, "name", "", "check name")
	return cmd
}

func removeCheckCmd() *cobra.Command {
	var id, name string
	cmd := &cobra.Command{
		Use:   "remove-check",
		Short: "Remove a check definition by id or name",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(http.MethodGet, "/remove_check", checkRefQuery(id, name))
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "check id")
	cmd.Flags().StringVar(&name, "name", "", "check name")
	return cmd
}

func associateCmd() *cobra.Command {
	var proxyID, checkID, checkName string
	cmd := &cobra.Command{
		Use:   "associate",
		Short: "Associate a proxy with a check",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{"proxy_id": {proxyID}}
			addCheckRef(q, checkID, checkName)
			return call(http.MethodGet, "/add_proxy_check", q)
		},
	}
	cmd.Flags().StringVar(&proxyID, "proxy-id", "", "proxy id")
	cmd.Flags().StringVar(&checkID, "check-id", "", "check id")
	cmd.Flags().StringVar(&checkName, "check-name", "", "check name")
	cmd.MarkFlagRequired("proxy-id")
	return cmd
}

func disassociateCmd() *cobra.Command {
	var proxyID, checkID, checkName string
	cmd := &cobra.Command{
		Use:   "disassociate",
		Short: "Remove a proxy/check association",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{"proxy_id": {proxyID}}
			addCheckRef(q, checkID, checkName)
			return call(http.MethodGet, "/remove_proxy_check", q)
		},
	}
	cmd.Flags().StringVar(&proxyID, "proxy-id", "", "proxy id")
	cmd.Flags().StringVar(&checkID, "check-id", "", "check id")
	cmd.Flags().StringVar(&checkName, "check-name", "", "check name")
	cmd.MarkFlagRequired("proxy-id")
	return cmd
}

func bannedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "banned",
		Short: "Show the current banned-at map",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(http.MethodGet, "/banned", nil)
		},
	}
}

func checkRefQuery(id, name string) url.Values {
	q := url.Values{}
	if id != "" {
		q.Set("id", id)
	}
	if name != "" {
		q.Set("name", name)
	}
	return q
}

func addCheckRef(q url.Values, id, name string) {
	if id != "" {
		q.Set("check_id", id)
	}
	if name != "" {
		q.Set("check_name", name)
	}
}
