// File: api/errors.go
// Package api
//
// Common error types and error handling utilities for hioload-dma.
// Sentinels are matched with errors.Is; call sites wrap them with
// device/engine/queue context before surfacing.

package api

import (
	"fmt"

	"github.com/pkg/errors"
)

// Common errors used across the library.
var (
	ErrInvalidEngine  = fmt.Errorf("invalid engine id")
	ErrInvalidQueue   = fmt.Errorf("invalid queue id")
	ErrInvalidState   = fmt.Errorf("invalid transfer state")
	ErrInvalidAddress = fmt.Errorf("address not owned by caller")
	ErrAllocation     = fmt.Errorf("allocation failed")
	ErrTimeout        = fmt.Errorf("completion timeout")
	ErrHardwareInit   = fmt.Errorf("hardware init failed")
)

// ErrorCode represents specific error conditions in the library.
type ErrorCode int

const (
	CodeOK ErrorCode = iota
	CodeInvalidEngine
	CodeInvalidQueue
	CodeInvalidState
	CodeInvalidAddress
	CodeAllocation
	CodeTimeout
	CodeHardwareInit
	CodeInternal
)

// Code maps an error chain back to its ErrorCode. Unknown errors map
// to CodeInternal; nil maps to CodeOK.
func Code(err error) ErrorCode {
	switch {
	case err == nil:
		return CodeOK
	case errors.Is(err, ErrInvalidEngine):
		return CodeInvalidEngine
	case errors.Is(err, ErrInvalidQueue):
		return CodeInvalidQueue
	case errors.Is(err, ErrInvalidState):
		return CodeInvalidState
	case errors.Is(err, ErrInvalidAddress):
		return CodeInvalidAddress
	case errors.Is(err, ErrAllocation):
		return CodeAllocation
	case errors.Is(err, ErrTimeout):
		return CodeTimeout
	case errors.Is(err, ErrHardwareInit):
		return CodeHardwareInit
	}
	return CodeInternal
}
