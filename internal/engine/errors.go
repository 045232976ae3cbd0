package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrStopped matches any error caused by a halted engine.
	ErrStopped = errors.New("engine stopped")

	// ErrClosed is returned by Submit after Close, and resolves futures
	// still pending when the engine closes.
	ErrClosed = errors.New("engine closed")
)

// RuntimeError represents an error detected while sequencing or applying
// records.
//
// Runtime errors include:
//   - Engine stopped: a structural failure halted the engine
//   - Broken sequence: a record skipped or repeated sequence numbers
//   - Unknown command: a record's command does not fit the model
//   - Durability: the journal could not persist a submission
//   - Journal failed: the journal's write worker died
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// Sequence is the record involved, 0 when not applicable.
	Sequence int64

	// Expected is the sequence number the engine wanted (broken sequence).
	Expected int64

	// Err is the underlying cause.
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeEngineStopped indicates the engine has halted and rejects work.
	ErrCodeEngineStopped RuntimeErrorCode = "ENGINE_STOPPED"

	// ErrCodeBrokenSequence indicates a record was not LastRecordNumber+1.
	ErrCodeBrokenSequence RuntimeErrorCode = "BROKEN_SEQUENCE"

	// ErrCodeUnknownCommand indicates a record carried a command for another model.
	ErrCodeUnknownCommand RuntimeErrorCode = "UNKNOWN_COMMAND"

	// ErrCodeDurability indicates the journal failed to persist a command.
	ErrCodeDurability RuntimeErrorCode = "DURABILITY"

	// ErrCodeJournalFailed indicates the journal's write worker died.
	ErrCodeJournalFailed RuntimeErrorCode = "JOURNAL_FAILED"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Sequence != 0 {
		msg = fmt.Sprintf("%s (seq=%d)", msg, e.Sequence)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrStopped) match engine-stopped errors.
func (e *RuntimeError) Is(target error) bool {
	return target == ErrStopped && e.Code == ErrCodeEngineStopped
}

func hasCode(err error, code RuntimeErrorCode) bool {
	var re *RuntimeError
	for err != nil {
		if !errors.As(err, &re) {
			return false
		}
		if re.Code == code {
			return true
		}
		err = re.Err
	}
	return false
}

// IsStopped returns true if err was caused by a halted engine.
func IsStopped(err error) bool {
	return errors.Is(err, ErrStopped)
}

// IsBrokenSequence returns true if err is, or was caused by, a sequence gap.
func IsBrokenSequence(err error) bool {
	return hasCode(err, ErrCodeBrokenSequence)
}

// IsJournalFailed returns true if err is, or was caused by, a dead journal worker.
func IsJournalFailed(err error) bool {
	return hasCode(err, ErrCodeJournalFailed)
}

// IsDurability returns true if err is a journal write failure.
func IsDurability(err error) bool {
	return hasCode(err, ErrCodeDurability)
}

// NewBrokenSequenceError creates a RuntimeError for a sequence gap.
func NewBrokenSequenceError(expected, got int64) *RuntimeError {
	return &RuntimeError{
		Code:     ErrCodeBrokenSequence,
		Message:  fmt.Sprintf("expected record %d, got %d", expected, got),
		Sequence: got,
		Expected: expected,
	}
}

// NewUnknownCommandError creates a RuntimeError for a command that does not
// implement the engine's command interface.
func NewUnknownCommandError(seq int64, cmd any) *RuntimeError {
	return &RuntimeError{
		Code:     ErrCodeUnknownCommand,
		Message:  fmt.Sprintf("command %T does not apply to this model", cmd),
		Sequence: seq,
	}
}

// NewStoppedError wraps the cause that halted the engine.
func NewStoppedError(cause error) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeEngineStopped,
		Message: "engine is halted",
		Err:     cause,
	}
}

// NewDurabilityError wraps a journal write failure.
func NewDurabilityError(err error) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeDurability,
		Message: "command was not persisted",
		Err:     err,
	}
}

// NewJournalFailedError wraps the failure that killed the journal worker.
func NewJournalFailedError(err error) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeJournalFailed,
		Message: "journal write worker died",
		Err:     err,
	}
}
