// Package transcript reconciles the streaming recognition channel with the
// one-shot batch transcript produced after capture finalizes.
package transcript

import (
	"strings"
	"sync"

	"github.com/voxlist/voxlist-core/internal/protocol"
)

// Merger accumulates streaming segments and merges them against the batch
// result once it arrives. The two paths are independent and arrive out of
// order; the merger never blocks on the streaming channel.
type Merger struct {
	mu      sync.Mutex
	finals  []string
	interim string

	merged    string
	mergedSet bool

	// streaming output arriving after the merge decision, kept for
	// display only
	late []string
}

func NewMerger() *Merger {
	return &Merger{}
}

// AddStream folds one streaming segment in. An interim segment replaces the
// previous interim; a final segment is appended permanently and clears the
// trailing interim. Segments arriving after the merge decision are retained
// for display purposes only.
func (m *Merger) AddStream(seg protocol.TranscriptSegment) {
	text := strings.TrimSpace(seg.Text)
	if text == "" {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.mergedSet {
		if seg.Finality == protocol.FinalityFinal {
			m.late = append(m.late, text)
		}
		return
	}

	switch seg.Finality {
	case protocol.FinalityInterim:
		m.interim = text
	case protocol.FinalityFinal:
		m.finals = append(m.finals, text)
		m.interim = ""
	}
}

// StreamingText is the concatenation of all final segments plus any
// trailing interim.
func (m *Merger) StreamingText() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streamingTextLocked()
}

func (m *Merger) streamingTextLocked() string {
	joined := strings.Join(m.finals, " ")
	if m.interim != "" {
		if joined == "" {
			return m.interim
		}
		return joined + " " + m.interim
	}
	return joined
}

// SetBatch records the batch transcript and resolves the merge: the
// streaming text wins only when it carries substantially more words than
// the batch (the batch path likely truncated or failed); otherwise the
// batch is assumed more accurate. With no usable streaming output the
// batch is used verbatim.
func (m *Merger) SetBatch(text string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	batch := strings.TrimSpace(text)
	streaming := m.streamingTextLocked()

	merged := batch
	if 2*wordCount(streaming) > 3*wordCount(batch) {
		merged = streaming
	}
	if merged == "" {
		merged = streaming
	}

	m.merged = merged
	m.mergedSet = true
	return merged
}

// Merged returns the merge result once the batch transcript has arrived.
func (m *Merger) Merged() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.merged, m.mergedSet
}

// DisplayText is the best text to show the user right now: the merge
// result plus any late streaming output, or the live streaming text while
// the batch is still pending.
func (m *Merger) DisplayText() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.mergedSet {
		return m.streamingTextLocked()
	}
	if len(m.late) == 0 {
		return m.merged
	}
	return strings.TrimSpace(m.merged + " " + strings.Join(m.late, " "))
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}
