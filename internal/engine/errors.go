package engine

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrCycle                 = errors.New("dependency cycle detected")
	ErrStateUnavailable      = errors.New("state unavailable")
	ErrSelectionInputMissing = errors.New("selection input missing")
	ErrDeferralResolution    = errors.New("deferral resolution failed")
	ErrUnknownDependency     = errors.New("unknown dependency")
	ErrSelectorSyntax        = errors.New("invalid selector")
)

// Stage names the phase of an invocation in which a failure happened.
type Stage string

const (
	StageLoading        Stage = "loading"
	StageFingerprinting Stage = "fingerprinting"
	StageDiffing        Stage = "diffing"
	StageSelection      Stage = "selection"
	StageResolution     Stage = "resolution"
	StageRendering      Stage = "rendering"
	StageExecution      Stage = "execution"
	StagePersisting     Stage = "persisting"
)

// CycleError reports the resources participating in a dependency cycle.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	if len(e.Path) == 0 {
		return ErrCycle.Error()
	}
	return fmt.Sprintf("%s: %s", ErrCycle, strings.Join(e.Path, " -> "))
}

func (e *CycleError) Unwrap() error { return ErrCycle }

// StateUnavailableError is returned when a snapshot is missing or unreadable.
type StateUnavailableError struct {
	Path string
	Err  error
}

func (e *StateUnavailableError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", ErrStateUnavailable, e.Path)
	}
	return fmt.Sprintf("%s: %s: %v", ErrStateUnavailable, e.Path, e.Err)
}

func (e *StateUnavailableError) Is(target error) bool { return target == ErrStateUnavailable }

func (e *StateUnavailableError) Unwrap() error { return e.Err }

// StageError tags an invocation failure with the stage it occurred in.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func stageErr(stage Stage, err error) error {
	if err == nil {
		return nil
	}
	var se *StageError
	if errors.As(err, &se) {
		return err
	}
	return &StageError{Stage: stage, Err: err}
}

// StageOf returns the stage an error was tagged with, or "" when untagged.
func StageOf(err error) Stage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}

// WithStage tags err with stage unless it already carries one.
func WithStage(stage Stage, err error) error {
	return stageErr(stage, err)
}
