package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// Client-side subcommands talk to a running serve instance over its own
// HTTP API rather than opening the data directory directly: the scheduler
// is the only writer, and a second process touching the stores would break
// that.

var serverAddr string

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Inspect tasks on a running server",
}

var taskGetCmd = &cobra.Command{
	Use:   "get <uid>",
	Short: "Fetch one task by uid",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getJSON("/tasks/" + args[0])
	},
}

var (
	taskListStatuses []string
	taskListKinds    []string
	taskListIndexes  []string
	taskListLimit    int
)

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks matching the given filters",
	RunE: func(cmd *cobra.Command, args []string) error {
		q := url.Values{}
		for _, s := range taskListStatuses {
			q.Add("statuses", s)
		}
		for _, k := range taskListKinds {
			q.Add("kinds", k)
		}
		for _, uid := range taskListIndexes {
			q.Add("indexUids", uid)
		}
		if taskListLimit > 0 {
			q.Set("limit", fmt.Sprint(taskListLimit))
		}
		path := "/tasks"
		if len(q) > 0 {
			path += "?" + q.Encode()
		}
		return getJSON(path)
	},
}

var (
	searchFilter string
	searchLimit  int
)

var searchCmd = &cobra.Command{
	Use:   "search <index> <query>",
	Short: "Run a one-shot search against a running server",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		body := map[string]interface{}{"q": args[1]}
		if searchLimit > 0 {
			body["pageSize"] = searchLimit
		}
		if searchFilter != "" {
			var filter map[string]interface{}
			if err := json.Unmarshal([]byte(searchFilter), &filter); err != nil {
				return &cliError{code: exitConfigError, err: fmt.Errorf("parse --filter: %w", err)}
			}
			body["filter"] = filter
		}
		return postJSON("/indexes/"+url.PathEscape(args[0])+"/search", body)
	},
}

func init() {
	for _, cmd := range []*cobra.Command{taskCmd, searchCmd} {
		cmd.PersistentFlags().StringVar(&serverAddr, "addr", "http://localhost:8080", "Base URL of the running server")
	}
	taskListCmd.Flags().StringSliceVar(&taskListStatuses, "status", nil, "Filter by status (repeatable)")
	taskListCmd.Flags().StringSliceVar(&taskListKinds, "kind", nil, "Filter by kind (repeatable)")
	taskListCmd.Flags().StringSliceVar(&taskListIndexes, "index", nil, "Filter by index uid (repeatable)")
	taskListCmd.Flags().IntVar(&taskListLimit, "limit", 0, "Maximum number of tasks to return")
	searchCmd.Flags().StringVar(&searchFilter, "filter", "", "Filter conditions as a JSON object")
	searchCmd.Flags().IntVar(&searchLimit, "limit", 0, "Maximum number of hits to return")

	taskCmd.AddCommand(taskGetCmd, taskListCmd)
	rootCmd.AddCommand(taskCmd, searchCmd)
}

func getJSON(path string) error {
	resp, err := http.Get(strings.TrimRight(serverAddr, "/") + path)
	if err != nil {
		return &cliError{code: exitRuntimeError, err: err}
	}
	return printResponse(resp)
}

func postJSON(path string, body interface{}) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return &cliError{code: exitConfigError, err: err}
	}
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Post(strings.TrimRight(serverAddr, "/")+path, "application/json", bytes.NewReader(encoded))
	if err != nil {
		return &cliError{code: exitRuntimeError, err: err}
	}
	return printResponse(resp)
}

func printResponse(resp *http.Response) error {
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &cliError{code: exitRuntimeError, err: err}
	}
	var pretty bytes.Buffer
	if json.Indent(&pretty, raw, "", "  ") == nil {
		raw = pretty.Bytes()
	}
	fmt.Fprintln(os.Stdout, string(raw))
	if resp.StatusCode >= 400 {
		return &cliError{code: exitRuntimeError, err: fmt.Errorf("server returned %s", resp.Status)}
	}
	return nil
}
