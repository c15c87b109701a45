package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"reelhook/internal/config"
	"reelhook/internal/jobs"
)

const (
	ansiReset = "\033[0m"
	ansiRed   = "\033[31m"
	ansiGreen = "\033[32m"
	ansiCyan  = "\033[36m"
)

func newListCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(cmd, func(_ *config.Config, store *jobs.Store) error {
				all, err := store.List(commandCtx(cmd))
				if err != nil {
					return err
				}
				if jsonOut {
					views := make([]jobView, 0, len(all))
					for _, job := range all {
						views = append(views, newJobView(job))
					}
					return writeJSON(cmd, views)
				}
				out := cmd.OutOrStdout()
				if len(all) == 0 {
					fmt.Fprintln(out, "No jobs")
					return nil
				}
				colorize := shouldColorize(out)
				rows := make([][]string, 0, len(all))
				for _, job := range all {
					rows = append(rows, []string{
						job.ID,
						job.ProjectName,
						paintStatus(job.Status, colorize),
						job.CreatedAt.Local().Format(time.DateTime),
						truncate(job.ErrorMessage, 60),
					})
				}
				fmt.Fprintln(out, renderTable([]string{"ID", "Project", "Status", "Created", "Error"}, rows, nil))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output JSON")
	return cmd
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show a job's artifacts and event log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(cmd, func(_ *config.Config, store *jobs.Store) error {
				job, err := store.Get(commandCtx(cmd), args[0])
				if err != nil {
					return err
				}
				events, err := store.ListEvents(commandCtx(cmd), job.ID, 0)
				if err != nil {
					return err
				}
				if jsonOut {
					view := newJobView(job)
					for _, event := range events {
						view.Events = append(view.Events, eventView{
							Status:    string(event.Status),
							Message:   event.Message,
							CreatedAt: event.CreatedAt.Format(time.RFC3339),
						})
					}
					return writeJSON(cmd, view)
				}
				renderJob(cmd.OutOrStdout(), job, events)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output JSON")
	return cmd
}

func newDeleteCommand(ctx *commandContext) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "delete <job-id>",
		Short: "Delete a job and its directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(cmd, func(_ *config.Config, store *jobs.Store) error {
				if err := store.Delete(commandCtx(cmd), args[0], force); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted job %s\n", args[0])
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Delete queued or running jobs too")
	return cmd
}

func newTrimCommand(ctx *commandContext) *cobra.Command {
	var keep int

	cmd := &cobra.Command{
		Use:   "trim",
		Short: "Delete finished jobs beyond the newest N",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(cmd, func(cfg *config.Config, store *jobs.Store) error {
				if !cmd.Flags().Changed("keep") {
					keep = cfg.Workflow.KeepLatestJobs
				}
				removed, err := store.Trim(commandCtx(cmd), keep)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d job(s), kept the newest %d finished\n", len(removed), keep)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&keep, "keep", 0, "Number of finished jobs to keep (defaults to workflow.keep_latest_jobs)")
	return cmd
}

func renderJob(out io.Writer, job *jobs.Job, events []jobs.Event) {
	colorize := shouldColorize(out)
	fmt.Fprintf(out, "Job:      %s\n", job.ID)
	fmt.Fprintf(out, "Project:  %s\n", job.ProjectName)
	fmt.Fprintf(out, "Status:   %s\n", paintStatus(job.Status, colorize))
	fmt.Fprintf(out, "Source:   %s\n", job.SourcePath)
	fmt.Fprintf(out, "Clips:    asr %ds, hook %ds\n", job.ASRClipSeconds, job.HookClipSeconds)
	if job.Meta.RerunOfJobID != "" {
		fmt.Fprintf(out, "Rerun of: %s from %s\n", job.Meta.RerunOfJobID, job.Meta.RerunStartStage)
	}
	if job.Meta.VideoTaskID != "" {
		fmt.Fprintf(out, "Task:     %s\n", job.Meta.VideoTaskID)
	}
	if job.ErrorMessage != "" {
		fmt.Fprintf(out, "Error:    %s\n", job.ErrorMessage)
	}

	rows := make([][]string, 0, len(jobs.ArtifactKinds))
	for _, kind := range jobs.ArtifactKinds {
		path, ok := job.Artifact(kind)
		present := ok
		if ok {
			if _, err := os.Stat(path); err != nil {
				present = false
			}
		}
		rows = append(rows, []string{string(kind), yesNo(present), path})
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, renderTable([]string{"Artifact", "Present", "Path"}, rows, nil))

	if len(events) == 0 {
		return
	}
	eventRows := make([][]string, 0, len(events))
	for _, event := range events {
		eventRows = append(eventRows, []string{
			event.CreatedAt.Local().Format(time.TimeOnly),
			string(event.Status),
			truncate(event.Message, 80),
		})
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, renderTable([]string{"Time", "Status", "Message"}, eventRows, nil))
}

func paintStatus(status jobs.Status, colorize bool) string {
	label := string(status)
	if !colorize {
		return label
	}
	switch {
	case status == jobs.StatusCompleted:
		return ansiGreen + label + ansiReset
	case status == jobs.StatusFailed:
		return ansiRed + label + ansiReset
	case status.IsRunning():
		return ansiCyan + label + ansiReset
	default:
		return label
	}
}

func truncate(value string, limit int) string {
	value = strings.TrimSpace(strings.ReplaceAll(value, "\n", " "))
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit-1]) + "…"
}

type jobView struct {
	ID              string            `json:"id"`
	ProjectName     string            `json:"project_name"`
	Status          string            `json:"status"`
	ErrorMessage    string            `json:"error_message,omitempty"`
	SourcePath      string            `json:"source_path"`
	ASRClipSeconds  int               `json:"asr_clip_seconds"`
	HookClipSeconds int               `json:"hook_clip_seconds"`
	Artifacts       map[string]string `json:"artifacts"`
	Meta            jobs.Meta         `json:"meta"`
	CreatedAt       string            `json:"created_at"`
	UpdatedAt       string            `json:"updated_at"`
	Events          []eventView       `json:"events,omitempty"`
}

type eventView struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	CreatedAt string `json:"created_at"`
}

func newJobView(job *jobs.Job) jobView {
	artifacts := make(map[string]string, len(job.Artifacts))
	for kind, path := range job.Artifacts {
		artifacts[string(kind)] = path
	}
	return jobView{
		ID:              job.ID,
		ProjectName:     job.ProjectName,
		Status:          string(job.Status),
		ErrorMessage:    job.ErrorMessage,
		SourcePath:      job.SourcePath,
		ASRClipSeconds:  job.ASRClipSeconds,
		HookClipSeconds: job.HookClipSeconds,
		Artifacts:       artifacts,
		Meta:            job.Meta,
		CreatedAt:       job.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       job.UpdatedAt.Format(time.RFC3339),
	}
}
