package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"reelhook/internal/config"
	"reelhook/internal/dispatch"
	"reelhook/internal/jobs"
	"reelhook/internal/logging"
	"reelhook/internal/pipeline"
	"reelhook/internal/preflight"
	"reelhook/internal/workflow"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "run <job-id>",
		Short: "Execute a job in the foreground",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := ctx.logger()
			if err != nil {
				return err
			}
			return ctx.withStore(cmd, func(cfg *config.Config, store *jobs.Store) error {
				engine, err := pipeline.NewFromConfig(cfg, store, logger)
				if err != nil {
					return err
				}
				if err := engine.Execute(commandCtx(cmd), args[0]); err != nil {
					return err
				}
				job, err := store.Get(commandCtx(cmd), args[0])
				if err != nil {
					return err
				}
				final, _ := job.Artifact(jobs.ArtifactFinalVideo)
				fmt.Fprintf(cmd.OutOrStdout(), "Job %s completed: %s\n", job.ID, final)
				return nil
			})
		},
	}
}

func newDaemonCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the worker pool until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			runCtx, stop := signal.NotifyContext(commandCtx(cmd), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger, err := ctx.logger()
			if err != nil {
				return err
			}
			return ctx.withStore(cmd, func(cfg *config.Config, store *jobs.Store) error {
				source, err := dispatch.NewFromConfig(cfg, store, logger)
				if err != nil {
					return err
				}
				defer source.Close()

				var pinger preflight.Pinger
				if p, ok := source.(preflight.Pinger); ok {
					pinger = p
				}
				for _, result := range preflight.Failed(preflight.RunAll(runCtx, cfg, pinger)) {
					logger.Warn("preflight check failed",
						logging.String("check", result.Name),
						logging.String("detail", result.Detail),
						logging.String(logging.FieldEventType, "preflight_failed"),
					)
				}

				engine, err := pipeline.NewFromConfig(cfg, store, logger)
				if err != nil {
					return err
				}
				manager := workflow.NewManager(cfg, store, engine, source, logger)
				if err := manager.Start(runCtx); err != nil {
					return err
				}
				<-runCtx.Done()
				logger.Info("reelhook daemon shutting down")
				manager.Stop()
				return nil
			})
		},
	}
}
