package engine

import (
	"encoding/json"
	"fmt"
)

// ModuleState is the lifecycle state of a module in the runtime.
type ModuleState string

const (
	// ModuleStateInstalled indicates the module is present but not wired.
	ModuleStateInstalled ModuleState = "installed"

	// ModuleStateResolved indicates the module's mandatory requirements are wired.
	ModuleStateResolved ModuleState = "resolved"

	// ModuleStateActive indicates the module has been started.
	ModuleStateActive ModuleState = "active"

	// ModuleStateStopped indicates the module was stopped and keeps its wiring.
	ModuleStateStopped ModuleState = "stopped"

	// ModuleStateUninstalled indicates the module has been removed.
	ModuleStateUninstalled ModuleState = "uninstalled"
)

// IsPresent returns true if the module still exists in the runtime.
func (s ModuleState) IsPresent() bool {
	return s != ModuleStateUninstalled && s != ""
}

// Validate checks if the module state is valid.
func (s ModuleState) Validate() error {
	switch s {
	case ModuleStateInstalled, ModuleStateResolved, ModuleStateActive,
		ModuleStateStopped, ModuleStateUninstalled:
		return nil
	default:
		return fmt.Errorf("invalid module state: %s", s)
	}
}

// Action is the classification the diff engine assigns to a module.
type Action string

const (
	// ActionIgnore indicates the installed module already matches exactly.
	ActionIgnore Action = "ignore"

	// ActionUpdate indicates the installed module is replaced in place.
	ActionUpdate Action = "update"

	// ActionDelete indicates the installed module is no longer desired.
	ActionDelete Action = "delete"

	// ActionInstall indicates the desired module is not present.
	ActionInstall Action = "install"
)

// IsMutating returns true if the action changes the runtime.
func (a Action) IsMutating() bool {
	return a != ActionIgnore
}

// Validate checks if the action is valid.
func (a Action) Validate() error {
	switch a {
	case ActionIgnore, ActionUpdate, ActionDelete, ActionInstall:
		return nil
	default:
		return fmt.Errorf("invalid action: %s", a)
	}
}

// Step is one stage of plan execution. Steps run in declaration order.
type Step string

const (
	StepDelete              Step = "delete"
	StepUpdate              Step = "update"
	StepInstall             Step = "install"
	StepPropagateExtensions Step = "propagate-extensions"
	StepPropagateOptional   Step = "propagate-optional"
	StepRefresh             Step = "refresh"
	StepStart               Step = "start"
)

// Steps lists every execution step in program order.
var Steps = []Step{
	StepDelete,
	StepUpdate,
	StepInstall,
	StepPropagateExtensions,
	StepPropagateOptional,
	StepRefresh,
	StepStart,
}

// Mutates returns true if the step changes installed modules directly.
func (s Step) Mutates() bool {
	switch s {
	case StepDelete, StepUpdate, StepInstall, StepRefresh, StepStart:
		return true
	default:
		return false
	}
}

// CycleStatus is the overall outcome of one reconciliation cycle.
type CycleStatus string

const (
	// CycleStatusRunning indicates the cycle is in progress.
	CycleStatusRunning CycleStatus = "running"

	// CycleStatusSucceeded indicates the runtime now matches the snapshot.
	CycleStatusSucceeded CycleStatus = "succeeded"

	// CycleStatusAborted indicates the cycle failed before any mutation.
	CycleStatusAborted CycleStatus = "aborted"

	// CycleStatusFailed indicates a mutation step failed; the runtime may be mixed.
	CycleStatusFailed CycleStatus = "failed"

	// CycleStatusSkipped indicates reconciliation was short-circuited
	// (framework replacement) or only planned (dry run).
	CycleStatusSkipped CycleStatus = "skipped"
)

// IsTerminal returns true if the status represents a final state.
func (s CycleStatus) IsTerminal() bool {
	return s != CycleStatusRunning
}

// Validate checks if the cycle status is valid.
func (s CycleStatus) Validate() error {
	switch s {
	case CycleStatusRunning, CycleStatusSucceeded, CycleStatusAborted,
		CycleStatusFailed, CycleStatusSkipped:
		return nil
	default:
		return fmt.Errorf("invalid cycle status: %s", s)
	}
}

// StatusForError maps a cycle error to its terminal status.
func StatusForError(err error) CycleStatus {
	switch {
	case err == nil:
		return CycleStatusSucceeded
	case IsPreMutation(err):
		return CycleStatusAborted
	default:
		return CycleStatusFailed
	}
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s CycleStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *CycleStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = CycleStatus(str)
	return s.Validate()
}
