package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// ExecutionMethodExternalAPI marks attempts driven through the directory client.
const ExecutionMethodExternalAPI = "external-api"

// ExecutionOutcome is the result tag of one attempt.
type ExecutionOutcome string

const (
	ExecutionOutcomeSuccess ExecutionOutcome = "success"
	ExecutionOutcomeFailure ExecutionOutcome = "failure"
)

// Valid reports whether o is a known outcome.
func (o ExecutionOutcome) Valid() bool {
	return o == ExecutionOutcomeSuccess || o == ExecutionOutcomeFailure
}

// UnmarshalText rejects unknown tags.
func (o *ExecutionOutcome) UnmarshalText(b []byte) error {
	v := ExecutionOutcome(b)
	if !v.Valid() {
		return fmt.Errorf("unknown execution outcome %q", string(b))
	}
	*o = v
	return nil
}

// ExecutionRecord is write-once evidence of one execution attempt.
type ExecutionRecord struct {
	ID           string           `json:"id"`
	TaskID       string           `json:"task_id"`
	TicketID     string           `json:"ticket_id"`
	ApprovalID   string           `json:"approval_id"`
	OperatorID   string           `json:"operator_id"`
	Action       string           `json:"action"`
	Method       string           `json:"method"`
	Request      json.RawMessage  `json:"request"`
	Outcome      ExecutionOutcome `json:"outcome"`
	Result       json.RawMessage  `json:"result"`
	ErrorMessage *string          `json:"error_message,omitempty"`
	ExecutedAt   time.Time        `json:"executed_at"`
}
