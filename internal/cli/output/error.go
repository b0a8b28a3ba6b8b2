package output

import "errors"

// StructuredError is an error with a machine-readable code, printed by
// commands that run with -o json or -o yaml.
type StructuredError struct {
	// Code is one of the ErrCode constants.
	Code string `json:"code" yaml:"code"`

	Message string `json:"message" yaml:"message"`

	// Guidance tells the operator how to fix the problem.
	Guidance string `json:"guidance,omitempty" yaml:"guidance,omitempty"`

	Context map[string]interface{} `json:"context,omitempty" yaml:"context,omitempty"`
}

func (e StructuredError) Error() string {
	return e.Message
}

const (
	ErrCodeConfigInvalid       = "CONFIG_INVALID"
	ErrCodeTargetNotFound      = "TARGET_NOT_FOUND"
	ErrCodeInvalidOutputFormat = "INVALID_OUTPUT_FORMAT"
	ErrCodeInvalidInput        = "INVALID_INPUT"
	ErrCodeHistoryUnavailable  = "HISTORY_UNAVAILABLE"
	ErrCodeOperationFailed     = "OPERATION_FAILED"
)

func NewStructuredError(code, message string) StructuredError {
	return StructuredError{Code: code, Message: message}
}

func (e StructuredError) WithGuidance(guidance string) StructuredError {
	e.Guidance = guidance
	return e
}

// WithContext returns a copy with key set; the receiver's map is not shared.
func (e StructuredError) WithContext(key string, value interface{}) StructuredError {
	ctx := make(map[string]interface{}, len(e.Context)+1)
	for k, v := range e.Context {
		ctx[k] = v
	}
	ctx[key] = value
	e.Context = ctx
	return e
}

// FromError converts err to a StructuredError, keeping one already in the
// chain.
func FromError(err error, code string) StructuredError {
	var se StructuredError
	if errors.As(err, &se) {
		return se
	}
	return NewStructuredError(code, err.Error())
}
