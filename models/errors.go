package models

import (
	"errors"
	"fmt"
	"net/http"
)

// Stage names a pipeline step; summaries count skipped items per stage.
type Stage string

const (
	StageFetch     Stage = "fetch"
	StageExtract   Stage = "extract"
	StageNormalize Stage = "normalize"
	StageGeocode   Stage = "geocode"
	StagePersist   Stage = "persist"
)

type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Temporary reports whether a retry could plausibly succeed.
func (e *FetchError) Temporary() bool {
	return e.StatusCode == 0 || e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

type ParseError struct {
	URL    string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %s", e.URL, e.Reason)
}

type NormalizationError struct {
	URL    string
	Field  string
	Reason string
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("normalize %s: %s: %s", e.URL, e.Field, e.Reason)
}

type PersistenceError struct {
	URL string
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %s: %v", e.URL, e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// StageOf classifies an error by the pipeline step that raised it.
func StageOf(err error) Stage {
	var (
		fe *FetchError
		pe *ParseError
		ne *NormalizationError
		se *PersistenceError
	)
	switch {
	case errors.As(err, &fe):
		return StageFetch
	case errors.As(err, &pe):
		return StageExtract
	case errors.As(err, &ne):
		return StageNormalize
	case errors.As(err, &se):
		return StagePersist
	}
	return ""
}

// Retryable reports whether the orchestrator may retry the failed stage.
func Retryable(err error) bool {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Temporary()
	}
	var se *PersistenceError
	return errors.As(err, &se)
}

// Systemic reports whether a failure points at a dependency rather than the item itself.
// A permanent HTTP status such as 404 belongs to the item.
func Systemic(err error) bool {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Temporary()
	}
	return StageOf(err) == StagePersist
}
