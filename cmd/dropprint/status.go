package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	httpapi "github.com/cwygoda/dropprint/internal/adapter/http"
	"github.com/cwygoda/dropprint/internal/domain"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the state of the running daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if ctx.cfg.API.Listen == "" {
				return errors.New("status API is disabled (api.listen is empty)")
			}

			client := &http.Client{Timeout: 5 * time.Second}
			resp, err := client.Get("http://" + ctx.cfg.API.Listen + "/status")
			if err != nil {
				return fmt.Errorf("daemon not reachable at %s: %w", ctx.cfg.API.Listen, err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("status request failed: %s", resp.Status)
			}

			var st httpapi.Status
			if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
				return fmt.Errorf("decode status: %w", err)
			}

			rows := [][]string{
				{"State", st.State},
				{"Directory", st.Directory},
				{"Extension", st.Extension},
				{"Backend", st.Backend},
				{"Awaiting result", fmt.Sprint(st.Pending)},
				{"Dispatched", fmt.Sprint(st.Stats.Dispatched)},
				{"Unreachable", fmt.Sprint(st.Stats.Unreachable)},
				{"Skipped", fmt.Sprint(st.Stats.ExtractFailed + st.Stats.Dropped)},
				{"Uptime", st.Uptime},
			}
			for _, status := range []domain.JobStatus{
				domain.StatusPrinted,
				domain.StatusFailed,
				domain.StatusTimedOut,
				domain.StatusUnreachable,
				domain.StatusAbandoned,
			} {
				if n := st.History[status]; n > 0 {
					rows = append(rows, []string{"History " + string(status), fmt.Sprint(n)})
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Field", "Value"}, rows, nil))
			return nil
		},
	}
}
