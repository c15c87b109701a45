package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"reelhook/internal/config"
	"reelhook/internal/dispatch"
	"reelhook/internal/jobs"
	"reelhook/internal/logging"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var project string
	var asrSeconds int
	var hookSeconds int

	cmd := &cobra.Command{
		Use:   "submit <video>",
		Short: "Queue a source video for hook generation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(cmd, func(cfg *config.Config, store *jobs.Store) error {
				source, err := config.ExpandPath(args[0])
				if err != nil {
					return err
				}
				if asrSeconds == 0 {
					asrSeconds = cfg.Pipeline.DefaultASRClipSeconds
				}
				if hookSeconds == 0 {
					hookSeconds = cfg.Pipeline.DefaultHookClipSeconds
				}
				job, err := store.Create(commandCtx(cmd), jobs.CreateParams{
					ProjectName:     project,
					SourceFile:      source,
					ASRClipSeconds:  asrSeconds,
					HookClipSeconds: hookSeconds,
					MaxBytes:        int64(cfg.Pipeline.MaxUploadMB) * 1024 * 1024,
				})
				if err != nil {
					return err
				}
				if err := announce(commandCtx(cmd), cfg, job.ID); err != nil {
					return err
				}
				printQueued(cmd.OutOrStdout(), job)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&project, "project", "p", "", "Project name (defaults to the file name)")
	cmd.Flags().IntVar(&asrSeconds, "asr-seconds", 0, "Seconds of audio sent to speech recognition")
	cmd.Flags().IntVar(&hookSeconds, "hook-seconds", 0, "Length of the generated hook clip in seconds")
	return cmd
}

func newRerunCommand(ctx *commandContext) *cobra.Command {
	var from string
	var project string

	cmd := &cobra.Command{
		Use:   "rerun <job-id>",
		Short: "Queue a new job that reuses a previous job's artifacts up to a stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(cmd, func(cfg *config.Config, store *jobs.Store) error {
				job, err := store.CreateRerun(commandCtx(cmd), jobs.RerunParams{
					ParentID:    args[0],
					StartStage:  from,
					ProjectName: project,
				})
				if err != nil {
					return err
				}
				if err := announce(commandCtx(cmd), cfg, job.ID); err != nil {
					return err
				}
				printQueued(cmd.OutOrStdout(), job)
				fmt.Fprintf(cmd.OutOrStdout(), "Starts at %s, reusing job %s\n", job.Meta.RerunStartStage, job.Meta.RerunOfJobID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&from, "from", string(jobs.StageScriptGen), "Stage to start from")
	cmd.Flags().StringVarP(&project, "project", "p", "", "Project name for the rerun")
	return cmd
}

func newCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a queued job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(cmd, func(_ *config.Config, store *jobs.Store) error {
				if err := store.Cancel(commandCtx(cmd), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Canceled job %s\n", args[0])
				return nil
			})
		},
	}
}

// announce publishes jobID when the dispatch backend needs to be told about
// new work.
func announce(ctx context.Context, cfg *config.Config, jobID string) error {
	publisher := dispatch.NewPublisher(cfg, logging.NewNop())
	if publisher == nil {
		return nil
	}
	if closer, ok := publisher.(io.Closer); ok {
		defer closer.Close()
	}
	if err := publisher.Publish(ctx, jobID); err != nil {
		return fmt.Errorf("job %s stored but not dispatched: %w", jobID, err)
	}
	return nil
}

func printQueued(out io.Writer, job *jobs.Job) {
	fmt.Fprintf(out, "Queued job %s (%s)\n", job.ID, job.ProjectName)
}
