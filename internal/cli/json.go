package cli

import (
	"encoding/json"
	stderrors "errors"
	"io"

	"github.com/slurmmon/slurmmon/internal/errors"
)

// machineMode is set by commands run with --json; Execute then reports a
// failure as a JSON envelope on stdout instead of text on stderr.
var machineMode bool

// MachineMode reports whether the current command wants JSON output.
func MachineMode() bool {
	return machineMode
}

// JSONEnvelope is the shape of every --json document.
type JSONEnvelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *JSONError  `json:"error,omitempty"`
}

// JSONError describes a failed command.
type JSONError struct {
	Code       string      `json:"code"`
	Message    string      `json:"message"`
	Suggestion string      `json:"suggestion,omitempty"`
	Details    interface{} `json:"details,omitempty"`
}

// ErrCodeUnknown marks errors that carry no code of their own.
const ErrCodeUnknown = "UNKNOWN"

// WriteJSONSuccess writes data in a success envelope.
func WriteJSONSuccess(w io.Writer, data interface{}) error {
	return writeJSONEnvelope(w, JSONEnvelope{
		Success: true,
		Data:    data,
	})
}

// WriteJSONFromError writes err in a failure envelope.
func WriteJSONFromError(w io.Writer, err error) error {
	return writeJSONEnvelope(w, JSONEnvelope{
		Success: false,
		Error:   ErrorToJSON(err),
	})
}

func writeJSONEnvelope(w io.Writer, env JSONEnvelope) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(env)
}

// errorDetails is what --json adds beyond the message: the run step that
// failed and the low-level cause, when known.
type errorDetails struct {
	Step  string `json:"step,omitempty"`
	Cause string `json:"cause,omitempty"`
}

// ErrorToJSON converts a Go error to a JSONError. Coded errors keep their
// code, anything else is UNKNOWN.
func ErrorToJSON(err error) *JSONError {
	if err == nil {
		return nil
	}

	out := &JSONError{
		Code:    ErrCodeUnknown,
		Message: err.Error(),
	}
	var details errorDetails

	var coded *errors.Error
	if stderrors.As(err, &coded) {
		out.Code = coded.Code
		out.Message = coded.Message
		out.Suggestion = coded.Suggestion
		if coded.Cause != nil {
			details.Cause = coded.Cause.Error()
		}
	}
	if step, ok := errors.StepOf(err); ok {
		details.Step = step
	}

	if details != (errorDetails{}) {
		out.Details = details
	}
	return out
}
