package ghostworker

import (
	"fmt"
	"sort"
	"strings"
)

// promptSpec is the per-type instruction pair handed to the generator.
type promptSpec struct {
	system    string
	prompt    string
	costUnits int
}

var promptSpecs = map[string]promptSpec{
	"email_reply": {
		system:    "You draft concise, professional email replies in the user's voice. Match the thread's tone.",
		prompt:    "Draft a reply to %s about %q.",
		costUnits: 2,
	},
	"slack_message": {
		system:    "You write short, casual workplace chat messages. No signatures, no formalities.",
		prompt:    "Write a message for %s about %q.",
		costUnits: 1,
	},
	"linkedin_post": {
		system:    "You write engaging professional posts. First person, no hashtag spam.",
		prompt:    "Write a post for %s on %q.",
		costUnits: 3,
	},
	"meeting_reschedule": {
		system:    "You write brief, apologetic rescheduling notes that propose a concrete alternative.",
		prompt:    "Ask %s to move the meeting %q.",
		costUnits: 2,
	},
	"cancel_appointment": {
		system:    "You write short cancellation notices. Polite, no over-explaining.",
		prompt:    "Cancel the appointment with %s regarding %q.",
		costUnits: 1,
	},
	"doc_update": {
		system:    "You update working documents. Keep the existing structure and style.",
		prompt:    "Update the document %s with %q.",
		costUnits: 4,
	},
}

// CostUnits returns the per-type execution cost, 1 for unknown types.
func CostUnits(taskType string) int {
	if spec, ok := promptSpecs[taskType]; ok {
		return spec.costUnits
	}
	return 1
}

// buildPrompt fills the per-type template from the delegation context.
// Unconsumed context keys are appended so nothing the caller supplied
// is silently dropped.
func buildPrompt(taskType string, taskContext map[string]string) (system, prompt string) {
	spec, ok := promptSpecs[taskType]
	if !ok {
		spec = promptSpec{
			system: "You complete small delegated work items exactly as described.",
			prompt: "Complete the task for %s: %q.",
		}
	}

	recipient := taskContext["recipient"]
	if recipient == "" {
		recipient = taskContext["channel"]
	}
	if recipient == "" {
		recipient = "the recipient"
	}
	subject := taskContext["subject"]
	if subject == "" {
		subject = taskContext["topic"]
	}

	prompt = fmt.Sprintf(spec.prompt, recipient, subject)

	var extra []string
	for key, value := range taskContext {
		switch key {
		case "recipient", "channel", "subject", "topic":
			continue
		}
		extra = append(extra, fmt.Sprintf("%s: %s", key, value))
	}
	if len(extra) > 0 {
		sort.Strings(extra)
		prompt += " Additional context: " + strings.Join(extra, "; ") + "."
	}
	return spec.system, prompt
}
