// Package audio shells out to FFmpeg for the format plumbing around the
// neural collaborators: normalizing arbitrary user recordings into the WAV
// layout the embedding extractor expects, and probing produced clips.
package audio

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Extractor input layout: PCM16 mono at 16 kHz, the common contract of
// speaker-verification front ends.
const (
	ExtractorSampleRate = "16000"
	ExtractorChannels   = "1"
)

// CheckFFmpeg verifies the ffmpeg binary is on PATH.
func CheckFFmpeg() error {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return fmt.Errorf("ffmpeg not found on PATH; install it to use non-WAV training recordings")
	}
	return nil
}

// ConvertToWAV transcodes input (any container FFmpeg understands) into a
// PCM16 mono 16 kHz WAV at output.
func ConvertToWAV(ctx context.Context, input, output string) error {
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-i", input,
		"-ar", ExtractorSampleRate,
		"-ac", ExtractorChannels,
		"-c:a", "pcm_s16le",
		"-y",
		output,
	)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	cmd.Stdout = nil

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg convert %s: %w\n%s", input, err, stderr.String())
	}
	return nil
}

// ProbeDuration returns the duration of an audio file as "M:SS", or "" when
// ffprobe is unavailable or the file cannot be probed. Callers treat the
// result as purely informational.
func ProbeDuration(path string) string {
	out, err := exec.Command("ffprobe",
		"-v", "quiet",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	).Output()
	if err != nil {
		return ""
	}
	s := strings.TrimSpace(string(out))
	var secs float64
	if _, err := fmt.Sscanf(s, "%f", &secs); err != nil {
		return ""
	}
	mins := int(secs) / 60
	remainSecs := int(secs) % 60
	return fmt.Sprintf("%d:%02d", mins, remainSecs)
}
