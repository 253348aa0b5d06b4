package engine

// #region imports
import (
	"errors"
	"fmt"
)

// #endregion imports

// #region kinds

// Kind classifies a pipeline failure. Terminal kinds abort the request;
// every other stage degrades and reports through Diagnostics instead.
type Kind string

const (
	// KindExtraction means no usable intent could be derived. Terminal:
	// there is nothing safe to recommend from.
	KindExtraction Kind = "extraction"
	// KindRuleEvaluation means eligibility could not be established.
	// Terminal: returning unchecked candidates would break the safety
	// contract.
	KindRuleEvaluation Kind = "rule_evaluation"
	// KindValidation means the request itself was malformed.
	KindValidation Kind = "validation"
	// KindStorage means a persistence call failed on a path that cannot
	// degrade (catalog reads feeding rule evaluation).
	KindStorage Kind = "storage"
)

// #endregion kinds

// #region error

// Error wraps a stage failure with its kind.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %v", e.Kind, e.Err) }

func (e *Error) Unwrap() error { return e.Err }

func wrap(kind Kind, err error) error {
	return &Error{Kind: kind, Err: err}
}

// KindOf extracts the failure kind from an error chain, or "" when the
// error did not originate in the pipeline.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// #endregion error
