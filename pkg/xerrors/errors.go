package xerrors

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrNotFound       = errors.New("not found")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrRateLimited    = errors.New("too many requests")
)

// Pipeline
var (
	// ErrTransient marks infrastructure failures that are worth retrying.
	ErrTransient = errors.New("transient failure")

	ErrAlreadyApproved   = errors.New("payment already approved")
	ErrNotApprovable     = errors.New("payment is not in an approvable state")
	ErrNoPassingEvidence = errors.New("no passing receipt or verification on record")
	ErrDuplicateJob      = errors.New("job with this content hash already enqueued")
	ErrTxAlreadyUsed     = errors.New("transaction already used by another payment")
)

// TransientError wraps err so that errors.Is(err, ErrTransient) holds.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransientError) Unwrap() []error {
	return []error{ErrTransient, e.Err}
}

func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Op: op, Err: err}
}

// Postgres error codes we branch on.
const (
	PGUniqueViolation     = "23505"
	PGUndefinedFunction   = "42883"
	PGUndefinedTable      = "42P01"
	PGInvalidSchemaName   = "3F000"
	PGFeatureNotSupported = "0A000"
)

func ParsePGErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return "unknown"
}

func IsUniqueViolation(err error) bool {
	return ParsePGErrorCode(err) == PGUniqueViolation
}
