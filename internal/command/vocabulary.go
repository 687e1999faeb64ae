package command

import "strings"

// Command is a symbolic workflow command recognized from an utterance.
type Command string

const (
	CmdNext           Command = "next"
	CmdBack           Command = "back"
	CmdConfirm        Command = "confirm"
	CmdSubmit         Command = "submit"
	CmdStartGuided    Command = "start-guided"
	CmdUploadPhoto    Command = "upload-photo"
	CmdStartRecording Command = "start-recording"
	CmdStopRecording  Command = "stop-recording"
	CmdPauseRecording Command = "pause-recording"
	CmdCalculatePrice Command = "calculate-price"
	CmdHelp           Command = "help"
	CmdStatus         Command = "status"
)

// Entry maps one symbolic command to its ordered trigger phrases.
type Entry struct {
	Command  Command
	Triggers []string
}

// Vocabulary is an ordered command table. Order is a behavioral contract:
// when an utterance contains triggers for two commands, the one declared
// earlier wins, regardless of trigger length. Matching is unanchored
// substring containment, which is known to false-positive on short
// triggers embedded in unrelated words; the contract is kept as-is.
type Vocabulary []Entry

// Match scans the vocabulary in declared order against the lowercased,
// trimmed utterance. The first trigger phrase contained in the utterance
// wins immediately.
func (v Vocabulary) Match(utterance string) (Command, bool) {
	normalized := strings.ToLower(strings.TrimSpace(utterance))
	if normalized == "" {
		return "", false
	}
	for _, entry := range v {
		for _, trigger := range entry.Triggers {
			if strings.Contains(normalized, trigger) {
				return entry.Command, true
			}
		}
	}
	return "", false
}

// DefaultVocabulary carries the multilingual trigger table the product
// ships with (English, Spanish, Hindi).
func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		{CmdStopRecording, []string{"stop recording", "stop", "detener", "रुको", "बंद करो"}},
		{CmdStartRecording, []string{"start recording", "record", "grabar", "रिकॉर्ड"}},
		{CmdPauseRecording, []string{"pause", "pausa", "रोको"}},
		{CmdUploadPhoto, []string{"upload photo", "take photo", "add photo", "foto", "फोटो"}},
		{CmdCalculatePrice, []string{"calculate price", "price it", "precio", "कीमत", "दाम"}},
		{CmdSubmit, []string{"publish", "submit", "publicar", "प्रकाशित"}},
		{CmdConfirm, []string{"confirm", "okay", "confirmar", "ठीक है", "हाँ"}},
		{CmdBack, []string{"go back", "back", "previous", "atrás", "पीछे", "वापस"}},
		{CmdNext, []string{"next", "continue", "forward", "siguiente", "आगे", "अगला"}},
		{CmdStartGuided, []string{"guide me", "voice mode", "guíame", "मदद से शुरू"}},
		{CmdHelp, []string{"help", "what can i say", "ayuda", "मदद", "सहायता"}},
		{CmdStatus, []string{"where am i", "status", "estado", "कहाँ"}},
	}
}
