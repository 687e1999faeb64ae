package voice

import (
	"github.com/voxlist/voxlist-core/internal/command"
	"github.com/voxlist/voxlist-core/internal/wizard"
)

// Phase is one stage of the guided voice workflow: the wizard steps plus
// the welcome and review bookends, which have no wizard analogue.
type Phase string

const (
	PhaseWelcome        Phase = "welcome"
	PhaseImageUpload    Phase = "image-upload"
	PhaseAudioRecording Phase = "audio-recording"
	PhasePricingEngine  Phase = "pricing-engine"
	PhaseProductDetails Phase = "product-details"
	PhaseReviewPublish  Phase = "review-publish"
)

var phaseOrder = []Phase{
	PhaseWelcome,
	PhaseImageUpload,
	PhaseAudioRecording,
	PhasePricingEngine,
	PhaseProductDetails,
	PhaseReviewPublish,
}

// phaseSteps maps the four shared phases to their wizard steps. The
// bookend phases have no entry.
var phaseSteps = map[Phase]wizard.Step{
	PhaseImageUpload:    wizard.StepImageUpload,
	PhaseAudioRecording: wizard.StepAudioRecording,
	PhasePricingEngine:  wizard.StepPricingEngine,
	PhaseProductDetails: wizard.StepProductDetails,
}

// phaseProgress is a static phase-to-percentage table; progress is a
// function of position, never of elapsed time.
var phaseProgress = map[Phase]int{
	PhaseWelcome:        0,
	PhaseImageUpload:    15,
	PhaseAudioRecording: 35,
	PhasePricingEngine:  55,
	PhaseProductDetails: 75,
	PhaseReviewPublish:  90,
}

var phaseGuidance = map[Phase]string{
	PhaseWelcome:        "Welcome! I'll help you list your product. Say 'next' when you're ready.",
	PhaseImageUpload:    "Let's add a photo of your product. Say 'upload photo' to open the picker.",
	PhaseAudioRecording: "Describe your product out loud. Say 'start recording' to begin and 'stop' when you're done.",
	PhasePricingEngine:  "I can suggest a price. Say 'calculate price', or 'next' to skip this step.",
	PhaseProductDetails: "Let's check the details: name, description, category and price.",
	PhaseReviewPublish:  "Everything looks ready. Say 'publish' to post your listing.",
}

var phaseHints = map[Phase][]string{
	PhaseWelcome:        {"Say 'next' to begin", "Say 'help' any time"},
	PhaseImageUpload:    {"Say 'upload photo' to pick an image", "Say 'next' once a photo is added"},
	PhaseAudioRecording: {"Say 'start recording' to record", "Say 'stop' to finish", "You can also type a description"},
	PhasePricingEngine:  {"Say 'calculate price' for a suggestion", "Say 'next' to skip"},
	PhaseProductDetails: {"Make sure name, description, category and price are filled", "Say 'next' when done"},
	PhaseReviewPublish:  {"Say 'publish' to submit", "Say 'back' to review a step"},
}

// phaseActions is the accepted-action table: the symbolic commands each
// phase responds to. Help and status are accepted everywhere.
var phaseActions = map[Phase][]command.Command{
	PhaseWelcome:        {command.CmdNext, command.CmdConfirm, command.CmdStartGuided, command.CmdHelp, command.CmdStatus},
	PhaseImageUpload:    {command.CmdUploadPhoto, command.CmdNext, command.CmdBack, command.CmdHelp, command.CmdStatus},
	PhaseAudioRecording: {command.CmdStartRecording, command.CmdStopRecording, command.CmdPauseRecording, command.CmdNext, command.CmdBack, command.CmdHelp, command.CmdStatus},
	PhasePricingEngine:  {command.CmdCalculatePrice, command.CmdNext, command.CmdBack, command.CmdHelp, command.CmdStatus},
	PhaseProductDetails: {command.CmdNext, command.CmdBack, command.CmdHelp, command.CmdStatus},
	PhaseReviewPublish:  {command.CmdSubmit, command.CmdConfirm, command.CmdBack, command.CmdHelp, command.CmdStatus},
}

// phaseProducers names the collaborator each phase depends on, for the
// capability-unsupported check.
var phaseProducers = map[Phase]string{
	PhaseImageUpload:    "image-analyzer",
	PhasePricingEngine:  "pricing-engine",
	PhaseProductDetails: "description-generator",
	PhaseReviewPublish:  "persistence",
}

func phaseIndex(p Phase) int {
	for i, candidate := range phaseOrder {
		if candidate == p {
			return i
		}
	}
	return 0
}
