package main

import (
	"encoding/json"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/cwygoda/dropprint/internal/adapter/sqlite"
	"github.com/cwygoda/dropprint/internal/domain"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List recent print jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := sqlite.New(ctx.cfg.DBPath)
			if err != nil {
				return fmt.Errorf("open job history: %w", err)
			}
			defer repo.Close()

			jobs, err := repo.List(cmd.Context(), limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(jobs)
			}
			if len(jobs) == 0 {
				fmt.Fprintln(out, "No jobs recorded")
				return nil
			}
			fmt.Fprintln(out, renderJobs(jobs))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of jobs to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}

func renderJobs(jobs []domain.JobRecord) string {
	rows := make([][]string, 0, len(jobs))
	for _, j := range jobs {
		deleted := "no"
		if j.Deleted {
			deleted = "yes"
		}
		rows = append(rows, []string{
			shortID(j.ID),
			j.FileName,
			humanize.Bytes(uint64(j.SizeBytes)),
			string(j.Status),
			deleted,
			humanize.Time(j.CreatedAt),
			j.Error,
		})
	}
	return renderTable(
		[]string{"ID", "File", "Size", "Status", "Deleted", "Created", "Error"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft, alignLeft, alignLeft},
	)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
