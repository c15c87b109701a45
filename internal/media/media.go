package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"reelhook/internal/fileutil"
	"reelhook/internal/logging"
	"reelhook/internal/media/ffprobe"
	"reelhook/internal/services"
)

const (
	defaultWidth  = 1080
	defaultHeight = 1920
	defaultFPS    = 30.0

	// AlignedHookFile is the intermediate written next to the padded hook.
	AlignedHookFile = "hook_video_aligned.mp4"
	// ConcatListFile is the concat demuxer list written next to the final video.
	ConcatListFile = "concat_list.txt"
)

// VideoMeta describes the geometry of a probed video.
type VideoMeta struct {
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	FPS      float64 `json:"fps"`
	Duration float64 `json:"duration"`
	HasAudio bool    `json:"has_audio"`
}

// Complete reports whether the meta carries usable geometry.
func (m VideoMeta) Complete() bool {
	return m.Width > 0 && m.Height > 0 && m.FPS > 0
}

// Processor runs ffmpeg and ffprobe.
type Processor struct {
	ffmpeg  string
	ffprobe string
	logger  *slog.Logger
}

// NewProcessor builds a Processor for the given binaries. Empty names fall back
// to ffmpeg and ffprobe on PATH.
func NewProcessor(ffmpegBinary, ffprobeBinary string, logger *slog.Logger) *Processor {
	if strings.TrimSpace(ffmpegBinary) == "" {
		ffmpegBinary = "ffmpeg"
	}
	if strings.TrimSpace(ffprobeBinary) == "" {
		ffprobeBinary = "ffprobe"
	}
	return &Processor{
		ffmpeg:  ffmpegBinary,
		ffprobe: ffprobeBinary,
		logger:  logging.NewComponentLogger(logger, "media"),
	}
}

// Binaries returns the ffmpeg and ffprobe commands in use.
func (p *Processor) Binaries() (string, string) {
	return p.ffmpeg, p.ffprobe
}

// Probe inspects path and returns its video geometry. Missing dimensions and
// frame rates fall back to 1080x1920 at 30 fps.
func (p *Processor) Probe(ctx context.Context, path string) (VideoMeta, error) {
	result, err := ffprobe.Inspect(ctx, p.ffprobe, path)
	if err != nil {
		var cmdErr *ffprobe.CommandError
		if errors.As(err, &cmdErr) {
			return VideoMeta{}, &services.MediaToolError{
				Command: p.ffprobe + " " + strings.Join(cmdErr.Args, " "),
				Output:  cmdErr.Output,
				Err:     cmdErr.Err,
			}
		}
		return VideoMeta{}, services.Wrap(services.ErrExternalTool, "media", "probe", path, err)
	}
	return metaFromProbe(result)
}

func metaFromProbe(result ffprobe.Result) (VideoMeta, error) {
	video, ok := result.FirstStream("video")
	if !ok {
		return VideoMeta{}, services.Wrap(services.ErrValidation, "media", "probe", "no video stream found", nil)
	}
	meta := VideoMeta{
		Width:    video.Width,
		Height:   video.Height,
		FPS:      video.FrameRate(),
		HasAudio: result.HasAudio(),
	}
	if meta.Width <= 0 {
		meta.Width = defaultWidth
	}
	if meta.Height <= 0 {
		meta.Height = defaultHeight
	}
	if meta.FPS <= 0 {
		meta.FPS = defaultFPS
	}
	meta.FPS = math.Max(meta.FPS, 1)
	meta.Duration = video.DurationSeconds()
	if meta.Duration <= 0 {
		meta.Duration = result.DurationSeconds()
	}
	return meta, nil
}

// ExtractAudioClip writes the first seconds of src as 16 kHz mono PCM WAV.
func (p *Processor) ExtractAudioClip(ctx context.Context, src string, seconds int, dest string) error {
	if err := ensureParent(dest); err != nil {
		return err
	}
	return p.run(ctx,
		"-y", "-i", src,
		"-t", strconv.Itoa(max(1, seconds)),
		"-ac", "1", "-ar", "16000", "-vn", "-c:a", "pcm_s16le",
		dest,
	)
}

// Normalize re-encodes src to the target geometry and frame rate.
func (p *Processor) Normalize(ctx context.Context, src string, target VideoMeta, dest string) error {
	if err := ensureParent(dest); err != nil {
		return err
	}
	args := []string{"-y", "-i", src, "-vf", scalePadFilter(target)}
	args = append(args, encodeArgs()...)
	args = append(args, "-movflags", "+faststart", dest)
	return p.run(ctx, args...)
}

// NormalizeAndPad aligns the generated hook to target geometry, adds a silent
// track when it has no audio, then trims or pads it to exactly seconds.
func (p *Processor) NormalizeAndPad(ctx context.Context, raw string, target VideoMeta, seconds int, dest string) error {
	if err := ensureParent(dest); err != nil {
		return err
	}
	aligned := filepath.Join(filepath.Dir(dest), AlignedHookFile)
	rawMeta, err := p.Probe(ctx, raw)
	if err != nil {
		return err
	}

	filter := scalePadFilter(target)
	var args []string
	if rawMeta.HasAudio {
		args = []string{"-y", "-i", raw, "-vf", filter}
		args = append(args, encodeArgs()...)
	} else {
		args = []string{
			"-y", "-i", raw,
			"-f", "lavfi", "-i", "anullsrc=channel_layout=stereo:sample_rate=48000",
			"-vf", filter,
			"-c:v", "libx264", "-preset", "medium", "-pix_fmt", "yuv420p",
			"-c:a", "aac", "-shortest",
		}
	}
	args = append(args, aligned)
	if err := p.run(ctx, args...); err != nil {
		return err
	}

	alignedMeta, err := p.Probe(ctx, aligned)
	if err != nil {
		return err
	}
	targetSeconds := max(1, seconds)

	if alignedMeta.Duration >= float64(targetSeconds) {
		args = []string{"-y", "-i", aligned, "-t", strconv.Itoa(targetSeconds)}
		args = append(args, encodeArgs()...)
		args = append(args, dest)
		return p.run(ctx, args...)
	}

	pad := math.Max(0, float64(targetSeconds)-alignedMeta.Duration)
	p.logger.Debug("padding hook clip",
		logging.Float64("aligned_seconds", alignedMeta.Duration),
		logging.Float64("pad_seconds", pad),
	)
	args = []string{
		"-y", "-i", aligned,
		"-vf", fmt.Sprintf("tpad=stop_mode=clone:stop_duration=%.3f", pad),
		"-af", fmt.Sprintf("apad=pad_dur=%.3f", pad),
		"-t", strconv.Itoa(targetSeconds),
	}
	args = append(args, encodeArgs()...)
	args = append(args, dest)
	return p.run(ctx, args...)
}

// Concat joins clip and main through the concat demuxer and re-encodes.
func (p *Processor) Concat(ctx context.Context, clip, main, dest string) error {
	if err := ensureParent(dest); err != nil {
		return err
	}
	list := filepath.Join(filepath.Dir(dest), ConcatListFile)
	content := concatEntry(clip) + concatEntry(main)
	if err := fileutil.WriteFile(list, []byte(content)); err != nil {
		return fmt.Errorf("write concat list: %w", err)
	}
	args := []string{"-y", "-f", "concat", "-safe", "0", "-i", list}
	args = append(args, encodeArgs()...)
	args = append(args, "-movflags", "+faststart", dest)
	return p.run(ctx, args...)
}

func (p *Processor) run(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, p.ffmpeg, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	p.logger.Debug("running ffmpeg", logging.String("args", strings.Join(args, " ")))
	if err := cmd.Run(); err != nil {
		return &services.MediaToolError{
			Command: p.ffmpeg + " " + strings.Join(args, " "),
			Output:  strings.TrimSpace(stderr.String()),
			Err:     err,
		}
	}
	return nil
}

func scalePadFilter(target VideoMeta) string {
	return fmt.Sprintf(
		"scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2,setsar=1,fps=%.3f",
		target.Width, target.Height, target.Width, target.Height, target.FPS,
	)
}

func encodeArgs() []string {
	return []string{
		"-c:v", "libx264", "-preset", "medium", "-pix_fmt", "yuv420p",
		"-c:a", "aac", "-ac", "2", "-ar", "48000",
	}
}

func concatEntry(path string) string {
	return "file '" + strings.ReplaceAll(filepath.ToSlash(path), "'", `'\''`) + "'\n"
}

func ensureParent(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	return nil
}
