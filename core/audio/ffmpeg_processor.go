package audio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"nendo/logger"
)

// SupportedFileTypes are the source extensions the library accepts.
var SupportedFileTypes = []string{"wav", "mp3", "aiff", "flac", "ogg"}

// IsSupported reports whether path has one of the supported extensions.
func IsSupported(path string) bool {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	for _, ft := range SupportedFileTypes {
		if ext == ft {
			return true
		}
	}
	return false
}

// ProbeInfo is what ffprobe reports about the first audio stream.
type ProbeInfo struct {
	Codec      string
	SampleRate int
	Channels   int
	Duration   float64 // seconds
}

// FFmpegProcessor shells out to ffmpeg and ffprobe.
type FFmpegProcessor struct {
	ffmpegPath string
}

// NewFFmpegProcessor creates a new FFmpegProcessor.
func NewFFmpegProcessor(ffmpegPath string) *FFmpegProcessor {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &FFmpegProcessor{ffmpegPath: ffmpegPath}
}

// Available reports whether the ffmpeg binary can be found.
func (p *FFmpegProcessor) Available() bool {
	_, err := exec.LookPath(p.ffmpegPath)
	return err == nil
}

func (p *FFmpegProcessor) ffprobePath() string {
	return strings.Replace(p.ffmpegPath, "ffmpeg", "ffprobe", 1)
}

// ffprobeOutput defines the structure for ffprobe JSON output.
type ffprobeOutput struct {
	Streams []struct {
		CodecName  string `json:"codec_name"`
		SampleRate string `json:"sample_rate"`
		Channels   int    `json:"channels"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

func probeArgs(inputFile string) []string {
	return []string{
		"-v", "error",
		"-select_streams", "a:0",
		"-show_entries", "stream=codec_name,sample_rate,channels:format=duration",
		"-of", "json",
		inputFile,
	}
}

// Probe returns codec, sample rate, channel count and duration of inputFile.
func (p *FFmpegProcessor) Probe(ctx context.Context, inputFile string) (*ProbeInfo, error) {
	cmd := exec.CommandContext(ctx, p.ffprobePath(), probeArgs(inputFile)...)
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffprobe execution failed for %s: %w\nFFprobe Error: %s", inputFile, err, stderr.String())
	}
	return parseProbe(inputFile, out.Bytes())
}

func parseProbe(inputFile string, raw []byte) (*ProbeInfo, error) {
	var probeData ffprobeOutput
	if err := json.Unmarshal(raw, &probeData); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ffprobe output for %s: %w", inputFile, err)
	}
	if len(probeData.Streams) == 0 {
		return nil, fmt.Errorf("no audio streams found in %s", inputFile)
	}

	stream := probeData.Streams[0]
	info := &ProbeInfo{Codec: stream.CodecName, Channels: stream.Channels}
	if stream.SampleRate != "" {
		sr, err := strconv.Atoi(stream.SampleRate)
		if err != nil {
			return nil, fmt.Errorf("failed to parse sample rate %q for %s: %w", stream.SampleRate, inputFile, err)
		}
		info.SampleRate = sr
	}
	if probeData.Format.Duration != "" {
		d, err := strconv.ParseFloat(probeData.Format.Duration, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse duration string %q for %s: %w", probeData.Format.Duration, inputFile, err)
		}
		info.Duration = d
	}
	return info, nil
}

func convertArgs(inputFile, outputFile string, sampleRate int) []string {
	args := []string{"-y", "-v", "error", "-i", inputFile, "-vn"}
	if sampleRate > 0 {
		args = append(args, "-ar", strconv.Itoa(sampleRate))
	}
	return append(args, "-acodec", "pcm_s16le", "-f", "wav", outputFile)
}

// ConvertToWAV transcodes inputFile into a 16 bit PCM wav, resampled to
// sampleRate when it is positive.
func (p *FFmpegProcessor) ConvertToWAV(ctx context.Context, inputFile, outputFile string, sampleRate int) error {
	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("failed to create output directory for %s: %w", outputFile, err)
	}

	args := convertArgs(inputFile, outputFile, sampleRate)
	cmd := exec.CommandContext(ctx, p.ffmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	logger.Debug("[Audio] executing ffmpeg", logger.String("args", strings.Join(args, " ")))
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg execution failed for %s: %w\nFFmpeg Error: %s", inputFile, err, stderr.String())
	}
	return nil
}

// ExportFormats are the formats Encode can write.
var ExportFormats = []string{"wav", "mp3", "ogg", "flac"}

func encodeArgs(inputFile, outputFile string) []string {
	args := []string{"-y", "-v", "error", "-i", inputFile, "-vn"}
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(outputFile), ".")) {
	case "mp3":
		args = append(args, "-acodec", "libmp3lame")
	case "ogg":
		args = append(args, "-acodec", "libvorbis")
	case "flac":
		args = append(args, "-acodec", "flac")
	}
	return append(args, outputFile)
}

// Encode transcodes inputFile into the format named by outputFile's extension.
func (p *FFmpegProcessor) Encode(ctx context.Context, inputFile, outputFile string) error {
	args := encodeArgs(inputFile, outputFile)
	cmd := exec.CommandContext(ctx, p.ffmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	logger.Debug("[Audio] executing ffmpeg", logger.String("args", strings.Join(args, " ")))
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg execution failed for %s: %w\nFFmpeg Error: %s", outputFile, err, stderr.String())
	}
	return nil
}
