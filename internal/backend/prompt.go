package backend

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/schemaforge/schemaforge/internal/domain"
)

// PromptSpec carries everything prompt rendering needs for one request.
type PromptSpec struct {
	SystemPrompt string
	Goal         string

	// FieldNotes are per-field hints rendered in a stable order.
	FieldNotes map[string]string

	// SchemaText is the compact rendering of the output schema; empty when
	// the process declares none.
	SchemaText string

	// Input is the validated, coerced caller input.
	Input any
}

// BuildPrompt renders the system and user prompts for a first attempt.
func BuildPrompt(spec PromptSpec) (system, user string, err error) {
	inputJSON, err := json.Marshal(spec.Input)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal input: %w", err)
	}

	var b strings.Builder
	if spec.Goal != "" {
		b.WriteString(spec.Goal)
		b.WriteString("\n\n")
	}

	if len(spec.FieldNotes) > 0 {
		b.WriteString("Field notes:\n")
		names := make([]string, 0, len(spec.FieldNotes))
		for name := range spec.FieldNotes {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(&b, "- %s: %s\n", name, spec.FieldNotes[name])
		}
		b.WriteString("\n")
	}

	if spec.SchemaText != "" {
		b.WriteString("Respond with a single JSON object matching this schema:\n")
		b.WriteString(spec.SchemaText)
		b.WriteString("\n\n")
	} else {
		b.WriteString("Respond with a single JSON value.\n\n")
	}

	b.WriteString("Input:\n")
	b.Write(inputJSON)

	return spec.SystemPrompt, b.String(), nil
}

// BuildCorrectivePrompt renders the user prompt for the single retry after a
// rejected attempt. It restates the original request, shows the rejected
// output, and lists what was wrong with it.
func BuildCorrectivePrompt(spec PromptSpec, previousOutput string, issues []domain.Issue) (system, user string, err error) {
	system, user, err = BuildPrompt(spec)
	if err != nil {
		return "", "", err
	}

	var b strings.Builder
	b.WriteString(user)
	b.WriteString("\n\nYour previous response was rejected:\n")
	b.WriteString(previousOutput)
	b.WriteString("\n\nProblems:\n")
	if len(issues) == 0 {
		b.WriteString("- the response was not valid JSON\n")
	}
	for _, issue := range issues {
		if len(issue.Path) == 0 {
			fmt.Fprintf(&b, "- %s\n", issue.Message)
			continue
		}
		fmt.Fprintf(&b, "- %s: %s\n", issue.PathString(), issue.Message)
	}
	b.WriteString("\nReturn a corrected response. Output only the JSON, with no surrounding text.")

	return system, b.String(), nil
}
