package stt

import (
	"context"
	"fmt"
)

type mockStreamTranscriber struct{}

func (m *mockStreamTranscriber) Transcribe(_ context.Context, pcm []byte, _ int, _ int, final bool) (StreamResult, error) {
	mode := "interim"
	if final {
		mode = "final"
	}
	return StreamResult{
		Text:       fmt.Sprintf("[%s transcript length=%d]", mode, len(pcm)),
		Confidence: 0,
	}, nil
}

type mockBatchTranscriber struct{}

func (m *mockBatchTranscriber) TranscribeBuffer(_ context.Context, audio []byte, format string) (BatchResult, error) {
	text := fmt.Sprintf("[batch transcript format=%s length=%d]", format, len(audio))
	return BatchResult{Transcript: text, EnhancedTranscript: text}, nil
}
