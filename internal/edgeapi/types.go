package edgeapi

import (
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/bifrost-flags/bifrost/internal/flag"
)

// flagKeyRegex ensures keys are URL-safe slugs (lowercase, numbers, hyphens).
// We compile it once at package initialization for performance.
var flagKeyRegex = regexp.MustCompile(`^[a-z0-9-]+$`)

// maxSubjectIDLength bounds subject identifiers. They feed the bucketing
// hash, so unbounded IDs would let a caller inflate per-request work.
const maxSubjectIDLength = 512

// EvaluateRequest defines the payload for a single-subject evaluation.
type EvaluateRequest struct {
	// FlagKey identifies the flag to evaluate. Matches '^[a-z0-9-]+$'.
	FlagKey string `json:"flag_key"`

	// SubjectID is the stable identifier the assignment hash is keyed on.
	SubjectID string `json:"subject_id"`

	// Context is the optional attribute document targeting rules resolve
	// against. Must be a JSON object when present.
	Context json.RawMessage `json:"context,omitempty"`

	// TimeoutMs optionally bounds upstream config fetches for this request.
	// Zero means the server default; the budget never fails an evaluation,
	// it degrades it.
	TimeoutMs int `json:"timeout_ms,omitempty"`
}

// Sanitize cleans up input data by trimming whitespace and normalizing case.
func (r *EvaluateRequest) Sanitize() {
	r.FlagKey = strings.ToLower(strings.TrimSpace(r.FlagKey))
	r.SubjectID = strings.TrimSpace(r.SubjectID)
}

// Validate checks if the request data adheres to business rules.
// It returns a structured *ErrorResponse if validation fails, or nil if valid.
func (r *EvaluateRequest) Validate() *ErrorResponse {
	if err := validateFlagKey(r.FlagKey); err != nil {
		return err
	}
	return validateSubjectID(r.SubjectID)
}

// Timeout converts the caller's millisecond budget to a duration.
func (r *EvaluateRequest) Timeout() time.Duration {
	return time.Duration(r.TimeoutMs) * time.Millisecond
}

// BatchEvaluateRequest defines the payload for evaluating one flag across
// many subjects. The config fetch and rule compilation are shared, so a
// batch is much cheaper than N single calls.
type BatchEvaluateRequest struct {
	FlagKey    string          `json:"flag_key"`
	SubjectIDs []string        `json:"subject_ids"`
	Context    json.RawMessage `json:"context,omitempty"`
	TimeoutMs  int             `json:"timeout_ms,omitempty"`
}

// Sanitize cleans up input data in-place.
func (r *BatchEvaluateRequest) Sanitize() {
	r.FlagKey = strings.ToLower(strings.TrimSpace(r.FlagKey))
	for i, id := range r.SubjectIDs {
		r.SubjectIDs[i] = strings.TrimSpace(id)
	}
}

// Validate checks the batch against business rules, including the server's
// batch size cap.
func (r *BatchEvaluateRequest) Validate(maxBatchSize int) *ErrorResponse {
	if err := validateFlagKey(r.FlagKey); err != nil {
		return err
	}
	if len(r.SubjectIDs) == 0 {
		return &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "At least one subject_id is required",
		}
	}
	if len(r.SubjectIDs) > maxBatchSize {
		return &ErrorResponse{
			Code:    "ERR_BATCH_TOO_LARGE",
			Message: "Batch size exceeds the server limit",
			Details: []ErrorDetail{{
				Field: "subject_ids",
				Issue: "too many subjects in a single batch",
			}},
		}
	}
	for _, id := range r.SubjectIDs {
		if err := validateSubjectID(id); err != nil {
			return err
		}
	}
	return nil
}

// Timeout converts the caller's millisecond budget to a duration.
func (r *BatchEvaluateRequest) Timeout() time.Duration {
	return time.Duration(r.TimeoutMs) * time.Millisecond
}

// DecisionResponse is the wire form of a single decision.
type DecisionResponse struct {
	SubjectID     string `json:"subject_id"`
	FlagKey       string `json:"flag_key"`
	VariantKey    string `json:"variant_key"`
	Reason        string `json:"reason"`
	ConfigVersion int64  `json:"config_version,omitempty"`
	Degraded      bool   `json:"degraded,omitempty"`
}

// BatchDecisionResponse wraps the per-subject decisions of a batch call.
type BatchDecisionResponse struct {
	Decisions []DecisionResponse `json:"decisions"`
}

// mapDecisionToResponse converts the domain decision to its wire form.
// The bucket is deliberately not exposed: it is an implementation detail
// callers must not depend on.
func mapDecisionToResponse(d flag.Decision) DecisionResponse {
	return DecisionResponse{
		SubjectID:     d.SubjectID,
		FlagKey:       d.FlagKey,
		VariantKey:    d.VariantKey,
		Reason:        string(d.Reason),
		ConfigVersion: d.ConfigVersion,
		Degraded:      d.Degraded,
	}
}

// -----------------------------------------------------------------------------
// Reusable Validation Logic
// -----------------------------------------------------------------------------

// validateFlagKey enforces the format and length rules for the flag key.
func validateFlagKey(key string) *ErrorResponse {
	if key == "" {
		return &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "flag_key is required",
		}
	}
	if len(key) < 3 || len(key) > 255 {
		return &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "flag_key must be between 3 and 255 characters",
		}
	}
	if !flagKeyRegex.MatchString(key) {
		return &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "flag_key must contain only lowercase letters, numbers, and hyphens (slug format)",
		}
	}
	return nil
}

// validateSubjectID enforces presence and length bounds for the subject ID.
func validateSubjectID(id string) *ErrorResponse {
	if id == "" {
		return &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "subject_id is required",
		}
	}
	if len(id) > maxSubjectIDLength {
		return &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "subject_id must be at most 512 characters",
		}
	}
	return nil
}

// ErrorResponse represents a standard structured API error.
type ErrorResponse struct {
	// Code is a machine-readable error code (e.g., "ERR_INVALID_INPUT").
	Code string `json:"code"`

	// Message is a human-readable description of the error.
	Message string `json:"message"`

	// Details provides optional granular validation errors.
	Details []ErrorDetail `json:"details,omitempty"`
}

// ErrorDetail provides context about specific field validation failures.
type ErrorDetail struct {
	Field string `json:"field"`
	Issue string `json:"issue"`
}
