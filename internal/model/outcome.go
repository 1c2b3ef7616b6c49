package model

import "fmt"

type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeChildFailure
	OutcomeSetupFailure
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeChildFailure:
		return "child_failure"
	case OutcomeSetupFailure:
		return "setup_failure"
	default:
		return fmt.Sprintf("OutcomeKind(%d)", int(k))
	}
}

// Outcome is the result of a pipeline run. Err is set for setup failures only.
type Outcome struct {
	Kind OutcomeKind
	Code int
	Err  error
}

func Success() Outcome {
	return Outcome{Kind: OutcomeSuccess}
}

// ChildFailure reports a child which exited with a non-zero code. Codes
// outside of 1..255 (killed by a signal) are reported as 1.
func ChildFailure(code int) Outcome {
	if code <= 0 || code > 255 {
		code = 1
	}
	return Outcome{Kind: OutcomeChildFailure, Code: code}
}

func SetupFailure(err error) Outcome {
	return Outcome{Kind: OutcomeSetupFailure, Code: 1, Err: err}
}

// ExitCode is the process exit status for the outcome.
func (o Outcome) ExitCode() int {
	return o.Code
}

func (o Outcome) String() string {
	switch o.Kind {
	case OutcomeSetupFailure:
		return fmt.Sprintf("%s(%v)", o.Kind, o.Err)
	default:
		return fmt.Sprintf("%s(code=%d)", o.Kind, o.Code)
	}
}
