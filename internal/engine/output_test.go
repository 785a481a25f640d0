package engine

import (
	"strings"
	"testing"

	"github.com/schemaforge/schemaforge/internal/schema"
)

func TestStripFence(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare json", `{"a": 1}`, `{"a": 1}`},
		{"surrounding whitespace", "  {\"a\": 1}\n", `{"a": 1}`},
		{"plain fence", "```\n{\"a\": 1}\n```", `{"a": 1}`},
		{"json fence", "```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"fence with trailing text", "```json\n{\"a\": 1}\n```\n", `{"a": 1}`},
		{"unterminated fence", "```json\n{\"a\": 1}", `{"a": 1}`},
		{"single line of backticks", "```json", "```json"},
		{"not a fence", "plain text", "plain text"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := stripFence(tt.in); got != tt.want {
				t.Errorf("stripFence(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseOutput(t *testing.T) {
	value, err := parseOutput("```json\n{\"count\": 3}\n```")
	if err != nil {
		t.Fatalf("parseOutput() error = %v", err)
	}
	obj, ok := value.(map[string]any)
	if !ok {
		t.Fatalf("parsed value is %T, want object", value)
	}
	if obj["count"] != float64(3) {
		t.Errorf("count = %v", obj["count"])
	}

	if _, err := parseOutput("no json here"); err == nil {
		t.Error("expected a parse error")
	}
}

func compileSchema(t *testing.T, raw string) *schema.Schema {
	t.Helper()
	s, err := schema.Compile([]byte(raw))
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	return s
}

func TestCheckOutput_NoSchema(t *testing.T) {
	res := checkOutput(nil, `{"anything": true}`)
	if !res.ok {
		t.Fatalf("expected ok, issues = %v", res.issues)
	}
	if !strings.Contains(string(res.payload), "anything") {
		t.Errorf("payload = %s", res.payload)
	}

	res = checkOutput(nil, "not json")
	if res.ok {
		t.Fatal("expected failure")
	}
	if len(res.issues) != 0 {
		t.Errorf("schema-less parse failure should carry no issues, got %v", res.issues)
	}
}

func TestCheckOutput_SchemaCoercesTypes(t *testing.T) {
	s := compileSchema(t, `{
		"type": "object",
		"properties": {"price": {"type": "number"}},
		"required": ["price"]
	}`)

	res := checkOutput(s, `{"price": "19.99"}`)
	if !res.ok {
		t.Fatalf("expected ok, issues = %v", res.issues)
	}
	if string(res.payload) != `{"price":19.99}` {
		t.Errorf("payload = %s, want coerced number", res.payload)
	}
}

func TestCheckOutput_SchemaViolations(t *testing.T) {
	s := compileSchema(t, `{
		"type": "object",
		"properties": {"tagline": {"type": "string"}},
		"required": ["tagline"]
	}`)

	res := checkOutput(s, `{"wrong": 1}`)
	if res.ok {
		t.Fatal("expected failure")
	}
	if len(res.issues) == 0 {
		t.Fatal("expected issues")
	}

	res = checkOutput(s, "not json")
	if res.ok {
		t.Fatal("expected failure")
	}
	if len(res.issues) != 1 || !strings.Contains(res.issues[0].Message, "not valid JSON") {
		t.Errorf("issues = %v, want one root parse issue", res.issues)
	}
}

func TestCheckOutput_StripsUnknownProperties(t *testing.T) {
	s := compileSchema(t, `{
		"type": "object",
		"properties": {"tagline": {"type": "string"}},
		"required": ["tagline"]
	}`)

	res := checkOutput(s, `{"tagline": "keep", "extra": "drop"}`)
	if !res.ok {
		t.Fatalf("expected ok, issues = %v", res.issues)
	}
	if strings.Contains(string(res.payload), "extra") {
		t.Errorf("payload retained unknown property: %s", res.payload)
	}
}
