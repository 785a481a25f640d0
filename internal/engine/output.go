package engine

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/schemaforge/schemaforge/internal/domain"
	"github.com/schemaforge/schemaforge/internal/schema"
)

// attemptResult is the outcome of parsing and validating one backend attempt.
type attemptResult struct {
	payload json.RawMessage
	issues  []domain.Issue
	ok      bool
}

// checkOutput parses one backend completion and, when the process declares an
// output schema, validates and coerces it. Parse failures on a schema-less
// process produce no issues; the caller decides how many attempts to spend.
func checkOutput(outSchema *schema.Schema, text string) attemptResult {
	value, err := parseOutput(text)
	if err != nil {
		res := attemptResult{}
		if outSchema != nil {
			res.issues = []domain.Issue{{Message: fmt.Sprintf("response was not valid JSON: %v", err)}}
		}
		return res
	}

	if outSchema != nil {
		coerced, issues := outSchema.Validate(value)
		if len(issues) > 0 {
			return attemptResult{issues: issues}
		}
		value = coerced
	}

	payload, err := json.Marshal(value)
	if err != nil {
		return attemptResult{issues: []domain.Issue{{Message: "response could not be re-encoded as JSON"}}}
	}
	return attemptResult{payload: payload, ok: true}
}

// parseOutput parses backend text as JSON, tolerating a surrounding Markdown
// code fence. Models wrap JSON in ```json fences often enough that rejecting
// fenced output would burn the single corrective retry on formatting.
func parseOutput(text string) (any, error) {
	cleaned := stripFence(text)
	var value any
	if err := json.Unmarshal([]byte(cleaned), &value); err != nil {
		return nil, err
	}
	return value, nil
}

// stripFence removes one surrounding Markdown code fence, with or without a
// language tag. Text without a fence comes back trimmed and otherwise intact.
func stripFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}

	rest := trimmed[3:]
	nl := strings.IndexByte(rest, '\n')
	if nl < 0 {
		return trimmed
	}
	rest = rest[nl+1:]

	if idx := strings.LastIndex(rest, "```"); idx >= 0 {
		rest = rest[:idx]
	}
	return strings.TrimSpace(rest)
}
