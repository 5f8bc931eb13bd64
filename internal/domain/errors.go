// Package domain contains domain models and business logic errors.
package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Common domain errors
var (
	// ErrNotFound is returned when a requested resource is not found.
	ErrNotFound = errors.New("resource not found")

	// ErrAlreadyExists is returned when trying to create a resource that already exists.
	ErrAlreadyExists = errors.New("resource already exists")

	// ErrInvalidArgument is returned when an invalid argument is provided.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrPermissionDenied is returned when the caller lacks permission for an operation.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrDatacenterBusy is returned when another optimization call holds the
	// datacenter.
	ErrDatacenterBusy = errors.New("datacenter optimization already in progress")

	// ErrUnavailable is returned when a service or resource is unavailable.
	ErrUnavailable = errors.New("service unavailable")
)

// ConfigError is returned when optimizer configuration is rejected before any
// search work.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration %s: %s", e.Field, e.Reason)
}

// Is lets errors.Is(err, ErrInvalidArgument) match configuration errors.
func (e *ConfigError) Is(target error) bool {
	return target == ErrInvalidArgument
}

// InvariantViolation signals a defect: a computed value left its defined
// numeric range. The call that hit it must fail.
type InvariantViolation struct {
	What  string
	Value float64
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("invariant violation: %s = %v", e.What, e.Value)
}

// InfeasibleInput is returned when the inputs of a call cannot describe a valid
// problem, such as unknown resident VMs or an empty host list.
type InfeasibleInput struct {
	Reason string
}

func (e *InfeasibleInput) Error() string {
	return "infeasible input: " + e.Reason
}

// Is lets errors.Is(err, ErrInvalidArgument) match infeasible inputs.
func (e *InfeasibleInput) Is(target error) bool {
	return target == ErrInvalidArgument
}

// UnresolvedLockIn reports entries excluded from a plan: migrations that form
// (or wait on) a cycle that could not be broken, and placements whose target
// has no room once the plan has run.
type UnresolvedLockIn struct {
	Entries []UnresolvedMigration
}

func (e *UnresolvedLockIn) Error() string {
	ids := make([]string, 0, len(e.Entries))
	for _, u := range e.Entries {
		ids = append(ids, u.Edge.VMID)
	}
	return fmt.Sprintf("unresolved plan entries for %d vm(s): %s", len(ids), strings.Join(ids, ","))
}
