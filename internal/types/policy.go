package types

import (
	"fmt"
	"time"
)

// Operation names a rate-limited action. The set is closed: every value has a default
// Policy and every switch over it is expected to be exhaustive.
type Operation int

const (
	OpLogin Operation = iota
	OpRegistration
	OpPasswordReset
	OpExportSingle
	OpExportBulk
)

// Operations lists every Operation in declaration order.
var Operations = []Operation{
	OpLogin,
	OpRegistration,
	OpPasswordReset,
	OpExportSingle,
	OpExportBulk,
}

var operationNames = map[Operation]string{
	OpLogin:         "login",
	OpRegistration:  "registration",
	OpPasswordReset: "password_reset",
	OpExportSingle:  "export_single",
	OpExportBulk:    "export_bulk",
}

func (o Operation) String() string {
	if s, ok := operationNames[o]; ok {
		return s
	}
	return fmt.Sprintf("operation(%d)", int(o))
}

// ParseOperation maps the wire name of an operation back to its value.
func ParseOperation(s string) (Operation, error) {
	for op, name := range operationNames {
		if name == s {
			return op, nil
		}
	}
	return 0, Err(ErrUnknownOperation, nil, "operation %q", s)
}

// Policy is the immutable limit applied to one Operation.
// MaxAttempts actions are allowed per sliding Window. When BlockDuration is set, the first
// rejection also blocks the identifier for BlockDuration regardless of the window.
type Policy struct {
	Operation     Operation
	MaxAttempts   int
	Window        time.Duration
	BlockDuration time.Duration
}

// TTL is the expiry applied to the window entries of this policy.
func (p Policy) TTL() time.Duration {
	return p.Window + p.BlockDuration
}

func (p Policy) Validate() error {
	if _, ok := operationNames[p.Operation]; !ok {
		return Err(ErrInvalidPolicy, nil, "unknown operation %d", int(p.Operation))
	}
	if p.MaxAttempts < 0 {
		return Err(ErrInvalidPolicy, nil, "%s: max_attempts must be non-negative", p.Operation)
	}
	if p.Window < time.Millisecond {
		return Err(ErrInvalidPolicy, nil, "%s: window must be at least 1ms", p.Operation)
	}
	if p.BlockDuration < 0 {
		return Err(ErrInvalidPolicy, nil, "%s: block_duration must be non-negative", p.Operation)
	}
	return nil
}

// DefaultPolicies returns a fresh copy of the built-in policy table.
func DefaultPolicies() map[Operation]Policy {
	return map[Operation]Policy{
		OpLogin: {
			Operation:     OpLogin,
			MaxAttempts:   5,
			Window:        15 * time.Minute,
			BlockDuration: 30 * time.Minute,
		},
		OpRegistration: {
			Operation:   OpRegistration,
			MaxAttempts: 5,
			Window:      15 * time.Minute,
		},
		OpPasswordReset: {
			Operation:   OpPasswordReset,
			MaxAttempts: 3,
			Window:      time.Hour,
		},
		OpExportSingle: {
			Operation:   OpExportSingle,
			MaxAttempts: 5,
			Window:      time.Minute,
		},
		OpExportBulk: {
			Operation:   OpExportBulk,
			MaxAttempts: 2,
			Window:      5 * time.Minute,
		},
	}
}
