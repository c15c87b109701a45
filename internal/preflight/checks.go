package preflight

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"reelhook/internal/config"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckCredentials reports which remote services have credentials configured.
// Transcript polish only needs the LLM key when it is enabled, but script
// generation always does.
func CheckCredentials(cfg *config.Config) []Result {
	asr := Result{Name: "ASR credentials", Passed: true, Detail: "appid and access token set"}
	switch {
	case strings.TrimSpace(cfg.ASR.AppID) == "":
		asr = Result{Name: asr.Name, Detail: "asr.appid missing"}
	case strings.TrimSpace(cfg.ASR.AccessToken) == "":
		asr = Result{Name: asr.Name, Detail: "asr.access_token missing (or REELHOOK_ASR_ACCESS_TOKEN)"}
	}

	llm := Result{Name: "LLM credentials", Passed: true, Detail: "model " + cfg.LLM.Model}
	if strings.TrimSpace(cfg.LLM.APIKey) == "" {
		llm = Result{Name: llm.Name, Detail: "llm.api_key missing (or REELHOOK_LLM_API_KEY)"}
	}

	video := Result{Name: "Video credentials", Passed: true, Detail: "model " + cfg.Video.Model}
	if strings.TrimSpace(cfg.Video.APIKey) == "" {
		video = Result{Name: video.Name, Detail: "video.api_key missing (or REELHOOK_VIDEO_API_KEY)"}
	}
	return []Result{asr, llm, video}
}

// CheckRedis pings the redis dispatch backend with a short timeout.
func CheckRedis(ctx context.Context, addr string, pinger Pinger) Result {
	const name = "Redis dispatch"
	if strings.TrimSpace(addr) == "" {
		return Result{Name: name, Detail: "dispatch.redis_addr missing"}
	}
	if pinger == nil {
		return Result{Name: name, Detail: addr + " (no client)"}
	}
	checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := pinger.Ping(checkCtx); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", addr, err)}
	}
	return Result{Name: name, Passed: true, Detail: addr}
}
