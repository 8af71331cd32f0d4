package queue

import (
	"encoding/json"
	"fmt"
	"time"
)

// Message types on the wire. The request and result queues each carry one
// type; the field exists as a safety check against misrouted messages.
const (
	TypeRequest = "REQUEST"
	TypeResult  = "RESULT"
)

// RequestMessage asks the external worker to run one generation job.
type RequestMessage struct {
	Type           string    `json:"type"`
	JobID          string    `json:"jobId"`
	OwnerID        string    `json:"ownerId,omitempty"`
	SourceImageURL string    `json:"sourceImageUrl"`
	Level          string    `json:"level,omitempty"`
	Budget         int       `json:"budget,omitempty"`
	Language       string    `json:"language,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// ResultUsage is the worker-reported cost of the attempt.
type ResultUsage struct {
	Tokens  int     `json:"tokens,omitempty"`
	EstCost float64 `json:"estCost,omitempty"`
}

// ResultMessage reports the outcome of one generation job. On success,
// Outputs maps output names (preview, model, instructions, bom, pdf,
// corrected, background) to URLs. On failure only ErrorMessage is set.
type ResultMessage struct {
	Type         string            `json:"type"`
	JobID        string            `json:"jobId"`
	Success      bool              `json:"success"`
	Outputs      map[string]string `json:"outputs,omitempty"`
	Tags         []string          `json:"tags,omitempty"`
	Usage        *ResultUsage      `json:"usage,omitempty"`
	ErrorMessage string            `json:"errorMessage,omitempty"`
}

// EncodeRequest serializes a request message for publishing.
func EncodeRequest(m RequestMessage) ([]byte, error) {
	m.Type = TypeRequest
	return json.Marshal(m)
}

// DecodeResult parses a result message body. It rejects bodies that are
// not valid JSON, carry the wrong type, or lack a job id; callers treat
// such messages as poison and drop them.
func DecodeResult(body []byte) (ResultMessage, error) {
	var m ResultMessage
	if err := json.Unmarshal(body, &m); err != nil {
		return ResultMessage{}, fmt.Errorf("parse result message: %w", err)
	}
	if m.Type != TypeResult {
		return ResultMessage{}, fmt.Errorf("unexpected message type %q on result queue", m.Type)
	}
	if m.JobID == "" {
		return ResultMessage{}, fmt.Errorf("result message has no jobId")
	}
	return m, nil
}
