package preflight

import (
	"context"

	"reelhook/internal/config"
	"reelhook/internal/deps"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// Pinger reports whether a remote dependency answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RunAll executes every applicable check for cfg. redis is consulted only
// when the redis dispatch backend is selected and may be nil otherwise.
func RunAll(ctx context.Context, cfg *config.Config, redis Pinger) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Runtime directory", cfg.Paths.RuntimeDir),
		CheckDirectoryAccess("Jobs directory", cfg.Paths.JobsDir),
	}
	for _, status := range deps.CheckBinaries(deps.MediaRequirements(cfg.FFmpegBinary(), cfg.FFprobeBinary())) {
		results = append(results, fromDependency(status))
	}
	results = append(results, CheckCredentials(cfg)...)
	if cfg.Dispatch.Backend == "redis" {
		results = append(results, CheckRedis(ctx, cfg.Dispatch.RedisAddr, redis))
	}
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, result := range results {
		if !result.Passed {
			failed = append(failed, result)
		}
	}
	return failed
}

func fromDependency(status deps.Status) Result {
	if status.Available {
		return Result{Name: status.Name, Passed: true, Detail: status.Path}
	}
	return Result{Name: status.Name, Passed: status.Optional, Detail: status.Detail}
}
