package loop

import "fmt"

// AnalysisError is a failed attempt to obtain a structured analysis from
// the large model: a transport failure, unparseable output or an empty
// analysis. It ends the run and sends the document to review.
type AnalysisError struct {
	Agent string
	Err   error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("%s analysis failed: %v", e.Agent, e.Err)
}

func (e *AnalysisError) Unwrap() error { return e.Err }

// ConfirmationError is a confirmation-model failure. It does not end the
// run on its own: the engine treats it as a rejection whose feedback is
// the error text, consuming one retry.
type ConfirmationError struct {
	Agent string
	Err   error
}

func (e *ConfirmationError) Error() string {
	return fmt.Sprintf("%s confirmation failed: %v", e.Agent, e.Err)
}

func (e *ConfirmationError) Unwrap() error { return e.Err }
