package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"biblestudy-be/pkg/llm"
	"biblestudy-be/pkg/rag/budget"
)

type Kind string

const (
	KindInputInvalid         Kind = "input_invalid"
	KindRateLimited          Kind = "rate_limited"
	KindBlocked              Kind = "blocked"
	KindBudgetExceeded       Kind = "budget_exceeded"
	KindCompletionFailure    Kind = "completion_failure"
	KindSummarizationFailure Kind = "summarization_failure"
	KindCancelled            Kind = "cancelled"
	KindPersistenceFailure   Kind = "persistence_failure"
	KindThreadBusy           Kind = "thread_busy"
)

var (
	ErrEmptyInput     = errors.New("message is empty")
	ErrTooShort       = errors.New("message is too short")
	ErrTooLong        = errors.New("message is too long")
	ErrRateLimited    = errors.New("too many requests")
	ErrBlocked        = errors.New("temporarily blocked after repeated policy violations")
	ErrThreadNotFound = errors.New("thread not found")
	ErrNothingToRetry = errors.New("thread has no user message to retry")
)

// PipelineError is returned for every request that did not produce an answer,
// and for answers that could not be stored. Input is the text to hand back to
// the composer; it is empty when nothing needs retyping.
type PipelineError struct {
	Kind  Kind
	Input string
	Until *time.Time
	Err   error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("pipeline %s: %v", e.Kind, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// Retryable reports whether RetryLastMessage is the recovery path.
func (e *PipelineError) Retryable() bool {
	switch e.Kind {
	case KindCompletionFailure, KindSummarizationFailure, KindCancelled:
		return true
	default:
		return false
	}
}

type Category string

const (
	CategoryRateLimited    Category = "rate_limited"
	CategoryBudgetExceeded Category = "budget_exceeded"
	CategoryConnection     Category = "connection_error"
	CategoryGeneric        Category = "generic_failure"
)

// UserFacing maps any error onto the closed category set with a message safe
// to show. Provider error text never leaves this function.
func UserFacing(err error) (Category, string) {
	var pe *PipelineError
	if !errors.As(err, &pe) {
		return CategoryGeneric, "Something went wrong. Please try again."
	}

	switch pe.Kind {
	case KindRateLimited:
		return CategoryRateLimited, "You're sending messages too quickly. Please wait a moment and try again."
	case KindBlocked:
		msg := "Messaging is paused for a while after repeated requests that could not be answered."
		if pe.Until != nil {
			wait := time.Until(*pe.Until).Round(time.Minute)
			if wait > 0 {
				msg = fmt.Sprintf("%s Please try again in about %d minutes.", msg, int(wait.Minutes()))
			}
		}
		return CategoryRateLimited, msg
	case KindBudgetExceeded:
		msg := "You've reached today's usage limit. Your message has been kept so you can send it later."
		var be *budget.ExceededError
		if errors.As(pe.Err, &be) {
			msg = fmt.Sprintf("You've reached today's usage limit. It resets at %s UTC. Your message has been kept.",
				be.ResetAfter.UTC().Format("15:04"))
		}
		return CategoryBudgetExceeded, msg
	case KindInputInvalid:
		switch {
		case errors.Is(pe.Err, ErrTooLong):
			return CategoryGeneric, "Your message is too long. Please shorten it and try again."
		case errors.Is(pe.Err, ErrNothingToRetry):
			return CategoryGeneric, "There is no message to retry."
		default:
			return CategoryGeneric, "Your message is too short. Please add a little more detail."
		}
	case KindThreadBusy:
		return CategoryGeneric, "A reply is still being prepared for this conversation. Please wait for it to finish."
	case KindCancelled:
		return CategoryGeneric, "The request was cancelled. You can retry it."
	case KindPersistenceFailure:
		return CategoryGeneric, "Your answer arrived but could not be saved. It may be missing after a reload."
	case KindCompletionFailure, KindSummarizationFailure:
		if isConnectionError(pe.Err) {
			return CategoryConnection, "We couldn't reach the study assistant. Check your connection and retry."
		}
		return CategoryGeneric, "The study assistant couldn't answer right now. Please retry."
	default:
		return CategoryGeneric, "Something went wrong. Please try again."
	}
}

func isConnectionError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var se *llm.ServiceError
	if errors.As(err, &se) {
		return se.Timeout() || se.Connection() || se.StatusCode >= 500
	}
	return false
}
