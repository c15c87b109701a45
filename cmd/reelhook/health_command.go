package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"reelhook/internal/config"
	"reelhook/internal/dispatch"
	"reelhook/internal/jobs"
	"reelhook/internal/preflight"
)

func newHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check directories, tools, credentials, and job counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(cmd, func(cfg *config.Config, store *jobs.Store) error {
				var pinger preflight.Pinger
				if cfg.Dispatch.Backend == "redis" {
					stream := dispatch.NewRedisStream(dispatch.NewRedisClient(cfg.Dispatch.RedisAddr), cfg.Dispatch.RedisStream, 0, 0, nil)
					defer stream.Close()
					pinger = stream
				}
				results := preflight.RunAll(commandCtx(cmd), cfg, pinger)
				rows := make([][]string, 0, len(results))
				for _, result := range results {
					state := "ok"
					if !result.Passed {
						state = "FAIL"
					}
					rows = append(rows, []string{result.Name, state, result.Detail})
				}
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, renderTable([]string{"Check", "State", "Detail"}, rows, nil))

				health, err := store.Health(commandCtx(cmd))
				if err != nil {
					return err
				}
				counts := [][]string{
					{"queued", fmt.Sprint(health.Queued)},
					{"running", fmt.Sprint(health.Running)},
					{"completed", fmt.Sprint(health.Completed)},
					{"failed", fmt.Sprint(health.Failed)},
					{"canceled", fmt.Sprint(health.Canceled)},
					{"total", fmt.Sprint(health.Total)},
				}
				fmt.Fprintln(out)
				fmt.Fprintln(out, renderTable([]string{"Jobs", "Count"}, counts, []columnAlignment{alignLeft, alignRight}))

				if failed := preflight.Failed(results); len(failed) > 0 {
					return fmt.Errorf("%d health check(s) failed", len(failed))
				}
				return nil
			})
		},
	}
}
