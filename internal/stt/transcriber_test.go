package stt

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/voxlist/voxlist-core/internal/config"
)

func TestFactorySelectsMockByDefault(t *testing.T) {
	st, err := NewStreamTranscriber(config.STTConfig{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := st.(*mockStreamTranscriber); !ok {
		t.Fatalf("expected mock stream transcriber, got %T", st)
	}

	bt, err := NewBatchTranscriber(config.STTConfig{Mode: "mock"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := bt.(*mockBatchTranscriber); !ok {
		t.Fatalf("expected mock batch transcriber, got %T", bt)
	}
}

func TestFactoryRejectsUnknownMode(t *testing.T) {
	if _, err := NewStreamTranscriber(config.STTConfig{Mode: "carrier-pigeon"}); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestExecFactoryRejectsEmptyCommand(t *testing.T) {
	if _, err := NewStreamTranscriber(config.STTConfig{Mode: "exec", Command: "   "}); err == nil {
		t.Fatal("expected error for blank command")
	}
}

func TestMockStreamMarksFinality(t *testing.T) {
	m := &mockStreamTranscriber{}
	interim, err := m.Transcribe(context.Background(), []byte{0, 0}, 16000, 1, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(interim.Text, "interim") {
		t.Fatalf("expected interim marker, got %q", interim.Text)
	}
	final, err := m.Transcribe(context.Background(), []byte{0, 0}, 16000, 1, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(final.Text, "final") {
		t.Fatalf("expected final marker, got %q", final.Text)
	}
}

type fakeNetError struct{}

func (fakeNetError) Error() string   { return "dial tcp: connection refused" }
func (fakeNetError) Timeout() bool   { return true }
func (fakeNetError) Temporary() bool { return true }

func TestClassifyError(t *testing.T) {
	cases := []struct {
		err  error
		want ErrorKind
	}{
		{&RecognitionError{Kind: ErrorPermission, Err: errors.New("denied")}, ErrorPermission},
		{&RecognitionError{Kind: ErrorNetwork, Err: errors.New("refused")}, ErrorNetwork},
		{fakeNetError{}, ErrorNetwork},
		{os.ErrPermission, ErrorPermission},
		{errors.New("model exploded"), ErrorGeneric},
	}
	for _, tc := range cases {
		if got := ClassifyError(tc.err); got != tc.want {
			t.Errorf("ClassifyError(%v) = %s, want %s", tc.err, got, tc.want)
		}
	}
}

func TestWrapExecErrorKinds(t *testing.T) {
	perm := wrapExecError(errors.New("stt command failed: permission denied"))
	if ClassifyError(perm) != ErrorPermission {
		t.Fatalf("expected permission kind, got %s", ClassifyError(perm))
	}
	net := wrapExecError(errors.New("connection refused"))
	if ClassifyError(net) != ErrorNetwork {
		t.Fatalf("expected network kind, got %s", ClassifyError(net))
	}
	generic := wrapExecError(errors.New("segfault"))
	if ClassifyError(generic) != ErrorGeneric {
		t.Fatalf("expected generic kind, got %s", ClassifyError(generic))
	}
}

func TestExtensionFor(t *testing.T) {
	cases := map[string]string{
		"audio/webm;codecs=opus": ".webm",
		"audio/ogg;codecs=opus":  ".ogg",
		"audio/mp4":              ".m4a",
		"":                       ".wav",
	}
	for format, want := range cases {
		if got := extensionFor(format); got != want {
			t.Errorf("extensionFor(%q) = %q, want %q", format, got, want)
		}
	}
}

func TestPartialGating(t *testing.T) {
	svc := &StreamService{
		cfg:      config.STTConfig{Enabled: true, PublishInterim: true, PartialEveryMS: 800},
		sessions: make(map[string]*sessionState),
	}

	if svc.shouldSchedulePartial("missing") {
		t.Fatal("unknown session must not schedule")
	}

	svc.sessions["s1"] = &sessionState{}
	if !svc.shouldSchedulePartial("s1") {
		t.Fatal("first partial should schedule immediately")
	}
	if svc.shouldSchedulePartial("s1") {
		t.Fatal("second partial inside the interval must wait")
	}

	svc.sessions["s1"].LastPartial = time.Now().Add(-time.Second)
	if !svc.shouldSchedulePartial("s1") {
		t.Fatal("partial past the interval should schedule")
	}

	svc.sessions["s1"].Inflight = true
	svc.sessions["s1"].LastPartial = time.Now().Add(-time.Second)
	if svc.shouldSchedulePartial("s1") {
		t.Fatal("no partial while a pass is in flight")
	}

	svc.sessions["s1"].Inflight = false
	svc.sessions["s1"].Stopped = true
	if svc.shouldSchedulePartial("s1") {
		t.Fatal("stopped sessions never schedule")
	}
}
