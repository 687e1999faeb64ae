package stt

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	shellwords "github.com/mattn/go-shellwords"

	"github.com/voxlist/voxlist-core/internal/config"
)

type execStreamTranscriber struct {
	cmd []string
	cfg config.STTConfig
	mu  sync.Mutex
}

type execStreamResult struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

func newExecStreamTranscriber(cfg config.STTConfig) (StreamTranscriber, error) {
	args, err := parseCommand(cfg.Command)
	if err != nil {
		return nil, err
	}
	return &execStreamTranscriber{cmd: args, cfg: cfg}, nil
}

func (r *execStreamTranscriber) Transcribe(ctx context.Context, pcm []byte, sampleRate int, channels int, final bool) (StreamResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	file, err := os.CreateTemp(os.TempDir(), "voxlist_stt_*.wav")
	if err != nil {
		return StreamResult{}, fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())
	defer file.Close()

	if err := writePCMToWav(file, pcm, sampleRate, channels); err != nil {
		return StreamResult{}, err
	}

	cmdArgs := append([]string{}, r.cmd[1:]...)
	cmdArgs = append(cmdArgs, "--audio", file.Name())
	if r.cfg.ModelPath != "" {
		cmdArgs = append(cmdArgs, "--model", r.cfg.ModelPath)
	}
	if r.cfg.Language != "" {
		cmdArgs = append(cmdArgs, "--language", r.cfg.Language)
	}
	if !final {
		cmdArgs = append(cmdArgs, "--partial")
	}

	stdout, err := runCommand(ctx, r.cmd[0], cmdArgs, nil)
	if err != nil {
		return StreamResult{}, wrapExecError(err)
	}

	var resp execStreamResult
	if err := json.Unmarshal(stdout, &resp); err != nil {
		return StreamResult{}, fmt.Errorf("decode stt response: %w", err)
	}
	return StreamResult{Text: resp.Text, Confidence: resp.Confidence}, nil
}

type execBatchTranscriber struct {
	cmd []string
	cfg config.STTConfig
	mu  sync.Mutex
}

type execBatchResult struct {
	Transcript         string `json:"transcript"`
	EnhancedTranscript string `json:"enhanced_transcript"`
}

func newExecBatchTranscriber(cfg config.STTConfig) (BatchTranscriber, error) {
	args, err := parseCommand(cfg.Command)
	if err != nil {
		return nil, err
	}
	return &execBatchTranscriber{cmd: args, cfg: cfg}, nil
}

func (r *execBatchTranscriber) TranscribeBuffer(ctx context.Context, audioData []byte, format string) (BatchResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	file, err := os.CreateTemp(os.TempDir(), "voxlist_batch_*"+extensionFor(format))
	if err != nil {
		return BatchResult{}, fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())
	defer file.Close()

	if _, err := file.Write(audioData); err != nil {
		return BatchResult{}, fmt.Errorf("write audio buffer: %w", err)
	}

	cmdArgs := append([]string{}, r.cmd[1:]...)
	cmdArgs = append(cmdArgs, "--audio", file.Name(), "--batch")
	if r.cfg.ModelPath != "" {
		cmdArgs = append(cmdArgs, "--model", r.cfg.ModelPath)
	}
	if r.cfg.Language != "" {
		cmdArgs = append(cmdArgs, "--language", r.cfg.Language)
	}

	stdout, err := runCommand(ctx, r.cmd[0], cmdArgs, nil)
	if err != nil {
		return BatchResult{}, wrapExecError(err)
	}

	var resp execBatchResult
	if err := json.Unmarshal(stdout, &resp); err != nil {
		return BatchResult{}, fmt.Errorf("decode batch response: %w", err)
	}
	return BatchResult{Transcript: resp.Transcript, EnhancedTranscript: resp.EnhancedTranscript}, nil
}

func parseCommand(raw string) ([]string, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse stt command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("stt command is empty")
	}
	return args, nil
}

func runCommand(ctx context.Context, base string, args []string, stdin []byte) ([]byte, error) {
	command := exec.CommandContext(ctx, base, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr
	if stdin != nil {
		command.Stdin = bytes.NewReader(stdin)
	}
	if err := command.Run(); err != nil {
		return nil, fmt.Errorf("stt command failed: %w: %s", err, stderr.String())
	}
	return stdout.Bytes(), nil
}

// wrapExecError tags exec failures with a kind so callers can distinguish
// a denied model or device from a transient fault.
func wrapExecError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission denied"):
		return &RecognitionError{Kind: ErrorPermission, Err: err}
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "no such host"):
		return &RecognitionError{Kind: ErrorNetwork, Err: err}
	default:
		return &RecognitionError{Kind: ErrorGeneric, Err: err}
	}
}

func extensionFor(format string) string {
	switch {
	case strings.Contains(format, "webm"):
		return ".webm"
	case strings.Contains(format, "ogg"):
		return ".ogg"
	case strings.Contains(format, "mp4"):
		return ".m4a"
	default:
		return ".wav"
	}
}

func writePCMToWav(file *os.File, pcm []byte, sampleRate int, channels int) error {
	if len(pcm)%2 != 0 {
		return fmt.Errorf("pcm payload not aligned")
	}
	buffer := &audio.IntBuffer{Format: &audio.Format{NumChannels: channels, SampleRate: sampleRate}}
	samples := make([]int, len(pcm)/2)
	for i := 0; i < len(samples); i++ {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	buffer.Data = samples

	enc := wav.NewEncoder(file, sampleRate, 16, channels, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}
