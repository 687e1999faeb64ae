package tts

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/voxlist/voxlist-core/internal/config"
)

func TestNewSynthesizerDefaultsToMock(t *testing.T) {
	s, err := NewSynthesizer(config.TTSConfig{SampleRate: 22050, Channels: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := s.(*mockSynth); !ok {
		t.Fatalf("expected mock synthesizer, got %T", s)
	}
}

func TestNewSynthesizerRejectsUnknownMode(t *testing.T) {
	if _, err := NewSynthesizer(config.TTSConfig{Mode: "gramophone"}); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestExecSynthRejectsEmptyCommand(t *testing.T) {
	if _, err := NewExecSynth("", 22050, 1); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestExecRequestCarriesLocale(t *testing.T) {
	data, err := json.Marshal(execRequest{
		Text:       "siguiente paso",
		Voice:      "es-voice",
		Locale:     "es-ES",
		SampleRate: 22050,
		Channels:   1,
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["locale"] != "es-ES" {
		t.Fatalf("engine request must carry the locale, got %v", decoded["locale"])
	}
}

func TestMockSynthEmitsFinalChunk(t *testing.T) {
	s := NewMockSynth(22050, 1)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	chunks, errs := s.Synthesize(ctx, SynthRequest{SessionID: "s1", Text: "hello"})
	select {
	case chunk := <-chunks:
		if !chunk.Final {
			t.Fatal("mock emits a single final chunk")
		}
		if chunk.SampleRate != 22050 || chunk.Channels != 1 {
			t.Fatalf("chunk must carry the configured format, got %d/%d", chunk.SampleRate, chunk.Channels)
		}
	case err := <-errs:
		t.Fatalf("unexpected error: %v", err)
	case <-ctx.Done():
		t.Fatal("timed out waiting for chunk")
	}
}

func TestMockSynthHonorsCancellation(t *testing.T) {
	s := NewMockSynth(22050, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	chunks, errs := s.Synthesize(ctx, SynthRequest{SessionID: "s1", Text: "hello"})
	select {
	case _, ok := <-chunks:
		if ok {
			t.Fatal("no chunk expected after cancellation")
		}
	case err := <-errs:
		if err == nil {
			t.Fatal("expected context error")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out")
	}
}
