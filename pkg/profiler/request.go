package profiler

import (
	"errors"
	"fmt"
	"strings"

	"github.com/synaptica-ai/vendorshape/pkg/common/models"
	"github.com/synaptica-ai/vendorshape/pkg/standards"
)

var (
	errNoMessages      = errors.New("messages required")
	errTooManyMessages = errors.New("too many messages")
	errBadStandard     = errors.New("invalid standard")
	errBadConfidence   = errors.New("invalid min confidence")
	errBadSampleLimit  = errors.New("invalid sample limit")
)

type ValidationError struct {
	reason error
}

func (e ValidationError) Error() string {
	return e.reason.Error()
}

func (e ValidationError) Unwrap() error {
	return e.reason
}

func IsValidationError(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}

// Validator checks sample batches before they reach the analyzer.
type Validator struct {
	maxMessages int
}

func NewValidator(maxMessages int) *Validator {
	return &Validator{maxMessages: maxMessages}
}

func (v *Validator) Validate(batch models.SampleBatch) error {
	if v == nil {
		return ValidationError{reason: errors.New("validator not initialised")}
	}

	if len(batch.Messages) == 0 {
		return ValidationError{reason: errNoMessages}
	}
	if v.maxMessages > 0 && len(batch.Messages) > v.maxMessages {
		return ValidationError{reason: fmt.Errorf("%d messages exceeds limit of %d: %w", len(batch.Messages), v.maxMessages, errTooManyMessages)}
	}

	if s := strings.TrimSpace(batch.Standard); s != "" {
		if _, err := standards.ParseStandard(s); err != nil {
			return ValidationError{reason: fmt.Errorf("standard '%s' not supported: %w", s, errBadStandard)}
		}
	}

	if batch.MinConfidence != nil && (*batch.MinConfidence < 0 || *batch.MinConfidence > 1) {
		return ValidationError{reason: fmt.Errorf("min confidence %v outside [0,1]: %w", *batch.MinConfidence, errBadConfidence)}
	}
	if batch.SampleLimit < 0 {
		return ValidationError{reason: fmt.Errorf("sample limit %d: %w", batch.SampleLimit, errBadSampleLimit)}
	}
	return nil
}

// samples converts a validated batch into analyzer input.
func samples(batch models.SampleBatch) []standards.RawSample {
	var std standards.Standard
	if s := strings.TrimSpace(batch.Standard); s != "" {
		std, _ = standards.ParseStandard(s)
	}
	out := make([]standards.RawSample, len(batch.Messages))
	for i, m := range batch.Messages {
		out[i] = standards.RawSample{Content: m, Standard: std, MessageType: batch.MessageType}
	}
	return out
}
