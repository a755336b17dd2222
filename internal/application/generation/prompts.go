package generation

import (
	"fmt"
	"strings"

	"github.com/culinara/v2/pkg/errors"
)

// StepPrompt holds the prompt pair for one wizard step. The system prompt
// fixes the output contract; the user template carries the cook's input.
type StepPrompt struct {
	Step     string
	System   string
	Template string
}

// Render produces the user prompt for the given input.
func (p StepPrompt) Render(input string) string {
	return fmt.Sprintf(p.Template, strings.TrimSpace(input))
}

const jsonContract = `Respond with a single JSON object and nothing else: no prose, no markdown fences. ` +
	`Every array element must carry a unique "id" string.`

// stepPrompts is the static step table. Steps are added here; the service,
// dispatcher, and transport need no changes for a new step.
var stepPrompts = map[string]StepPrompt{
	"troubleshoot": {
		Step: "troubleshoot",
		System: `You are an experienced cooking coach diagnosing what went wrong with a dish. ` +
			`Return {"data":{"potential_causes":[{"id","name","suggestion","explanation"}]}}. ` +
			`List the most likely causes first. ` + jsonContract,
		Template: "The cook reports the following problem with their dish:\n%s",
	},
	"draft": {
		Step: "draft",
		System: `You are a recipe developer drafting a complete recipe from a rough idea. ` +
			`Return {"data":{"recipe":{"suggestions":[{"id","title","summary","cuisine"}]},` +
			`"ingredients":[{"id","name","amount","unit","notes"}],` +
			`"steps":[{"id","description","duration_minutes"}],` +
			`"equipment":[{"id","name","optional"}],` +
			`"summary":{"title","description","servings"}}}. ` +
			`Step descriptions must be full sentences. ` + jsonContract,
		Template: "Draft a recipe for:\n%s",
	},
	"refine": {
		Step: "refine",
		System: `You are a recipe editor refining an existing draft according to the cook's requests. ` +
			`Return the full revised recipe in the same shape as the draft: ` +
			`{"data":{"ingredients":[...],"steps":[...],"equipment":[...],"summary":{...}}}. ` +
			`Keep element ids stable for unchanged items. ` + jsonContract,
		Template: "Here is the current draft and the requested changes:\n%s",
	},
}

// PromptForStep returns the prompt pair registered for the wizard step.
func PromptForStep(step string) (StepPrompt, error) {
	p, ok := stepPrompts[step]
	if !ok {
		return StepPrompt{}, errors.NewStepNotFoundError(step)
	}
	return p, nil
}

// Steps returns the registered step names, for request validation.
func Steps() []string {
	out := make([]string, 0, len(stepPrompts))
	for step := range stepPrompts {
		out = append(out, step)
	}
	return out
}
