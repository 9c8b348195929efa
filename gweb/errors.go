// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package gweb

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
)

// Error sentinels of the outcome taxonomy. Any error that is none of these maps to "unknown".
var (
	ErrNoRecord  = errors.New("no_record")
	ErrDuplicate = errors.New("duplicate")
	ErrNoMemory  = errors.New("no_memory")
)

// Request-level errors raised before any API-specific logic runs
var (
	ErrMalformedPayload   = errors.New("malformed_payload")
	ErrUnknownAPI         = errors.New("unknown_api")
	ErrUploadNotValidated = errors.New("upload_not_validated")
	ErrEngineClosed       = errors.New("engine has been closed")
)

// Outcome is the internal result of a persistence handler
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeNoRecord
	OutcomeDuplicate
	OutcomeUnknown
	OutcomeNoMemory
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeNoRecord:
		return "no-record"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeNoMemory:
		return "no-memory"
	default:
		return "unknown"
	}
}

// OutcomeOf classifies a handler error
func OutcomeOf(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, ErrNoRecord):
		return OutcomeNoRecord
	case errors.Is(err, ErrDuplicate):
		return OutcomeDuplicate
	case errors.Is(err, ErrNoMemory):
		return OutcomeNoMemory
	default:
		return OutcomeUnknown
	}
}

var outcomeStatus = map[Outcome]Status{
	OutcomeOK:        {Code: CodeOK, Description: DescOK},
	OutcomeNoRecord:  {Code: CodeNotFound, Description: DescRecordNotFound},
	OutcomeDuplicate: {Code: CodeNotFound, Description: DescDuplicateEntry},
	OutcomeUnknown:   {Code: CodeNotFound, Description: DescUnknownError},
	OutcomeNoMemory:  {Code: CodeNotFound, Description: DescOutOfMemory},
}

// StatusFor returns the wire status pair of an outcome
func StatusFor(o Outcome) Status {
	if st, ok := outcomeStatus[o]; ok {
		return st
	}
	return outcomeStatus[OutcomeUnknown]
}

// isUniqueViolation reports whether err is a uniqueness violation raised by either store driver
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505" // unique_violation
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
