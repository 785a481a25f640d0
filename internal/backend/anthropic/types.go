package anthropic

import (
	"encoding/json"
	"fmt"
)

// MessagesRequest is the wire request for the messages API. MaxTokens is
// mandatory upstream, so the client fills a floor when the version config
// leaves it zero.
type MessagesRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// MessagesResponse is the wire response for the messages API.
type MessagesResponse struct {
	ID         string         `json:"id"`
	Model      string         `json:"model"`
	StopReason string         `json:"stop_reason"`
	Content    []ContentBlock `json:"content"`
	Usage      Usage          `json:"usage"`
}

type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Text concatenates the text blocks of the response.
func (r *MessagesResponse) Text() string {
	var out string
	for _, block := range r.Content {
		if block.Type == "text" {
			out += block.Text
		}
	}
	return out
}

// ErrorResponse is the wire shape of an API failure.
type ErrorResponse struct {
	Type  string    `json:"type"`
	Error *APIError `json:"error"`
}

// APIError is the error detail the API reports.
type APIError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ParseErrorResponse decodes an error body. Returns nil when the body is not
// the documented error shape.
func ParseErrorResponse(data []byte) (*APIError, error) {
	var resp ErrorResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, err
	}
	if resp.Error == nil {
		return nil, fmt.Errorf("response is not an error payload")
	}
	return resp.Error, nil
}
