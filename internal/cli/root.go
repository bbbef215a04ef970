// Package cli implements pilotctl, the operator command line for a running
// kernel.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

const defaultServer = "http://127.0.0.1:8080"

// NewRootCommand builds the pilotctl command tree writing to out.
func NewRootCommand(out io.Writer) *cobra.Command {
	var server string
	client := func() *apiClient { return newAPIClient(server) }

	root := &cobra.Command{
		Use:           "pilotctl",
		Short:         "Operate a socialpilot kernel: queue jobs, watch them, manage scenarios.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)

	envServer := os.Getenv("PILOT_SERVER")
	if envServer == "" {
		envServer = defaultServer
	}
	root.PersistentFlags().StringVar(&server, "server", envServer, "kernel base URL (env PILOT_SERVER)")

	root.AddCommand(
		newEnqueueCommand(client),
		newAbortCommand(client),
		newStatusCommand(client),
		newScenarioCommand(client),
	)
	return root
}

func newEnqueueCommand(client func() *apiClient) *cobra.Command {
	var (
		owner  string
		params []string
		runAt  string
	)
	cmd := &cobra.Command{
		Use:   "enqueue ACTION",
		Short: "Queue an action for an owner",
		Example: `  pilotctl enqueue like_posts --owner 42 --param count=30
  pilotctl enqueue send_messages --owner 42 --param message="Hi {name}" --run-at 2026-01-02T09:00:00Z`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{
				"action":   args[0],
				"owner_id": owner,
			}
			parsed, err := parseParams(params)
			if err != nil {
				return err
			}
			if len(parsed) > 0 {
				body["params"] = parsed
			}
			if runAt != "" {
				at, err := time.Parse(time.RFC3339, runAt)
				if err != nil {
					return fmt.Errorf("--run-at: %w", err)
				}
				body["run_at"] = at
			}

			var job map[string]any
			if err := client().do(cmd.Context(), "POST", "/v1/jobs", body, &job); err != nil {
				return err
			}
			return printJSON(cmd, job)
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner id")
	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "action parameter key=value (repeatable; values parsed as JSON when possible)")
	cmd.Flags().StringVar(&runAt, "run-at", "", "earliest start time, RFC 3339")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func newAbortCommand(client func() *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   "abort JOB_ID",
		Short: "Cancel a pending or running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var job map[string]any
			if err := client().do(cmd.Context(), "POST", "/v1/jobs/"+url.PathEscape(args[0])+"/abort", nil, &job); err != nil {
				return err
			}
			return printJSON(cmd, job)
		},
	}
}

func newStatusCommand(client func() *apiClient) *cobra.Command {
	var (
		owner string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "status [JOB_ID]",
		Short: "Show one job, or list recent jobs",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				var job map[string]any
				if err := client().do(cmd.Context(), "GET", "/v1/jobs/"+url.PathEscape(args[0]), nil, &job); err != nil {
					return err
				}
				return printJSON(cmd, job)
			}

			q := url.Values{}
			if owner != "" {
				q.Set("owner_id", owner)
			}
			q.Set("limit", strconv.Itoa(limit))
			var list struct {
				Jobs []struct {
					ID      string `json:"id"`
					OwnerID string `json:"owner_id"`
					Action  string `json:"action"`
					State   string `json:"state"`
					Partial bool   `json:"partial"`
					Result  string `json:"result"`
				} `json:"jobs"`
			}
			if err := client().do(cmd.Context(), "GET", "/v1/jobs?"+q.Encode(), nil, &list); err != nil {
				return err
			}
			for _, j := range list.Jobs {
				state := j.State
				if j.Partial {
					state += "*"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%s\t%s\n", j.ID, j.OwnerID, j.Action, state, j.Result)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "only jobs of this owner")
	cmd.Flags().IntVar(&limit, "limit", 20, "how many jobs to list")
	return cmd
}

// parseParams turns key=value pairs into a params map. Values that parse as
// JSON keep their type, anything else is a string.
func parseParams(pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("--param %q: want key=value", pair)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		out[key] = v
	}
	return out, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
