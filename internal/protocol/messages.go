package protocol

import "time"

// Finality distinguishes a transient partial transcript from a confirmed one.
type Finality string

const (
	FinalityInterim Finality = "interim"
	FinalityFinal   Finality = "final"
)

// TranscriptSource identifies which transcription path produced a segment.
type TranscriptSource string

const (
	SourceStream TranscriptSource = "stream"
	SourceBatch  TranscriptSource = "batch"
)

// AudioFrame represents PCM audio streamed from a capture device.
type AudioFrame struct {
	SessionID  string `json:"session_id"`
	Sequence   int    `json:"sequence"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	PCM        []byte `json:"pcm"`
	Final      bool   `json:"final"`
}

// TranscriptSegment is one unit of recognized speech broadcast on the bus.
// Segments are immutable once published; an interim segment is superseded by
// the next interim or cleared by a final, never edited in place.
type TranscriptSegment struct {
	SessionID string           `json:"session_id"`
	Text      string           `json:"text"`
	Finality  Finality         `json:"finality"`
	Source    TranscriptSource `json:"source"`
	Timestamp time.Time        `json:"timestamp"`
}

// BatchTranscriptRequest asks the batch transcription service to process a
// finalized capture buffer.
type BatchTranscriptRequest struct {
	SessionID string `json:"session_id"`
	Format    string `json:"format"`
	Audio     []byte `json:"audio"`
}

// BatchTranscriptResult is the one-shot server transcript.
type BatchTranscriptResult struct {
	SessionID          string    `json:"session_id"`
	Transcript         string    `json:"transcript"`
	EnhancedTranscript string    `json:"enhanced_transcript,omitempty"`
	Error              string    `json:"error,omitempty"`
	Timestamp          time.Time `json:"timestamp"`
}

// CommandEvent records one utterance classification attempt.
type CommandEvent struct {
	SessionID    string    `json:"session_id"`
	RawText      string    `json:"raw_text"`
	Command      string    `json:"command,omitempty"`
	RecognizedAt time.Time `json:"recognized_at"`
}

// GuidanceRequest asks the TTS service to speak a prompt to the user.
type GuidanceRequest struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
	Locale    string `json:"locale"`
	VoiceID   string `json:"voice_id,omitempty"`
}

// AudioChunk is synthesized speech streamed back toward the playback target.
type AudioChunk struct {
	SessionID  string `json:"session_id"`
	Sequence   int    `json:"sequence"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	PCM        []byte `json:"pcm"`
	Final      bool   `json:"final"`
}

// GuidanceStatus reports completion of a spoken guidance request.
type GuidanceStatus struct {
	SessionID string    `json:"session_id"`
	Completed bool      `json:"completed"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// StepDataSignal is published by step-content producers (image analysis,
// description generation, pricing, persistence) when a step's data becomes
// available. The core consumes only this availability signal.
type StepDataSignal struct {
	SessionID string            `json:"session_id"`
	Producer  string            `json:"producer"`
	Step      string            `json:"step"`
	Available bool              `json:"available"`
	Fields    map[string]string `json:"fields,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

const (
	SubjectAudioFramePrefix  = "audio.frame"
	SubjectTranscriptPartial = "stt.text.partial"
	SubjectTranscriptFinal   = "stt.text.final"
	SubjectBatchRequest      = "stt.batch.request"
	SubjectBatchResult       = "stt.batch.result"
	SubjectGuidanceRequest   = "tts.guidance.request"
	SubjectGuidanceAudio     = "tts.guidance.audio"
	SubjectGuidanceDone      = "tts.guidance.done"
	SubjectStepData          = "listing.step.data"
	SubjectCommandAccepted   = "listing.command.accepted"
	SubjectPickerOpen        = "ui.picker.open"
	SubjectPricingRequest    = "listing.pricing.request"
	SubjectPublishRequest    = "listing.publish.request"

	// Session lifecycle is driven over the bus; the HTTP surface stays
	// read-only.
	SubjectSessionStart = "ctrl.session.start"
	SubjectSessionEnd   = "ctrl.session.end"
)
