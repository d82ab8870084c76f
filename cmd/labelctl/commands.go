package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuongbtq/labelscan/internal/api/dto"
)

func submitCmd() *cobra.Command {
	var (
		wait     bool
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "submit <image>",
		Short: "Upload a label image for analysis",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			resp, err := client.submit(ctx, args[0])
			if err != nil {
				return err
			}
			if resp.Cached || !wait {
				return printJSON(cmd.OutOrStdout(), resp)
			}

			fmt.Fprintf(cmd.ErrOrStderr(), "queued job %s, waiting\n", resp.JobID)
			job, err := client.wait(ctx, resp.JobID, interval)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), job)
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "poll until the job finishes")
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "poll interval used with --wait")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show the status of an analysis job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := client.job(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), job)
		},
	}
}

func listCmd() *cobra.Command {
	var (
		status   string
		pageSize int
		cursor   string
		all      bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List analysis jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			for {
				page, err := client.list(cmd.Context(), status, pageSize, cursor)
				if err != nil {
					return err
				}
				printJobs(out, page.Jobs)

				if !all || page.NextCursor == "" {
					if page.NextCursor != "" {
						fmt.Fprintf(out, "next cursor: %s\n", page.NextCursor)
					}
					return nil
				}
				cursor = page.NextCursor
			}
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by state (PENDING, RUNNING, SUCCESS, FAILURE)")
	cmd.Flags().IntVar(&pageSize, "page-size", 20, "jobs per page")
	cmd.Flags().StringVar(&cursor, "cursor", "", "resume from a previous page")
	cmd.Flags().BoolVar(&all, "all", false, "follow cursors until the last page")
	return cmd
}

func printJobs(w io.Writer, jobs []dto.JobDTO) {
	if len(jobs) == 0 {
		fmt.Fprintln(w, "No jobs found")
		return
	}
	fmt.Fprintln(w, "JOB ID\t\t\t\t\tSTATUS\t\tATTEMPTS\tUPDATED")
	for _, j := range jobs {
		fmt.Fprintf(w, "%s\t%s\t\t%d\t\t%s\n", j.JobID, j.Status, j.Attempts, j.UpdatedAt)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
