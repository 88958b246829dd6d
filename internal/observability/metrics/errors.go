package metrics

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/smallbiznis/pmacctstats/internal/config"
	hostdomain "github.com/smallbiznis/pmacctstats/internal/host/domain"
	usagedomain "github.com/smallbiznis/pmacctstats/internal/usage/domain"
	"github.com/smallbiznis/pmacctstats/pkg/db"
	"gorm.io/gorm"
)

const (
	ErrorTypeDeadlineExceeded = "deadline_exceeded"
	ErrorTypeConfig           = "config"
	ErrorTypeConnection       = "connection"
	ErrorTypeInvariant        = "invariant"
	ErrorTypeDB               = "db"
	ErrorTypeUnknown          = "unknown"
)

const (
	ReasonDeadlineExceeded     = "deadline_exceeded"
	ReasonConfig               = "config"
	ReasonStoreConnection      = "store_connection"
	ReasonDuplicateHost        = "duplicate_host"
	ReasonDBLockTimeout        = "db_lock_timeout"
	ReasonSerializationFailure = "serialization_failure"
	ReasonUniqueViolation      = "unique_violation"
	ReasonOutOfRange           = "out_of_range"
	ReasonPersistFailure       = "persist_failure"
	ReasonUnknown              = "unknown"
)

// ClassifyErrorType returns a low-cardinality error type for logging.
func ClassifyErrorType(err error) string {
	switch {
	case err == nil:
		return ErrorTypeUnknown
	case isDeadline(err):
		return ErrorTypeDeadlineExceeded
	case errors.Is(err, hostdomain.ErrDuplicateHost):
		return ErrorTypeInvariant
	case isConfigError(err):
		return ErrorTypeConfig
	case errors.Is(err, db.ErrStoreConnection):
		return ErrorTypeConnection
	case isDBError(err):
		return ErrorTypeDB
	default:
		return ErrorTypeUnknown
	}
}

// IsErrorRetryable reports whether a later run can be expected to succeed
// without operator action.
func IsErrorRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, hostdomain.ErrDuplicateHost) || isConfigError(err) {
		return false
	}
	if isDeadline(err) || errors.Is(err, db.ErrStoreConnection) {
		return true
	}
	return db.IsLockTimeout(err) || db.IsSerializationFailure(err)
}

// ClassifyErrorReason maps import errors to low-cardinality reasons.
func ClassifyErrorReason(err error) string {
	switch {
	case err == nil:
		return ReasonUnknown
	case isDeadline(err):
		return ReasonDeadlineExceeded
	case isConfigError(err):
		return ReasonConfig
	case errors.Is(err, hostdomain.ErrDuplicateHost):
		return ReasonDuplicateHost
	case errors.Is(err, db.ErrStoreConnection):
		return ReasonStoreConnection
	case db.IsLockTimeout(err):
		return ReasonDBLockTimeout
	case db.IsSerializationFailure(err):
		return ReasonSerializationFailure
	case db.IsDuplicateKeyErr(err):
		return ReasonUniqueViolation
	case db.IsOutOfRange(err), errors.Is(err, usagedomain.ErrValueOutOfRange):
		return ReasonOutOfRange
	case errors.Is(err, usagedomain.ErrPersistFailure):
		return ReasonPersistFailure
	default:
		return ReasonUnknown
	}
}

func isDeadline(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

func isConfigError(err error) bool {
	var cfgErr *config.Error
	return errors.As(err, &cfgErr)
}

func isDBError(err error) bool {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false
	}
	if errors.Is(err, gorm.ErrInvalidDB) ||
		errors.Is(err, gorm.ErrInvalidTransaction) ||
		errors.Is(err, gorm.ErrInvalidData) ||
		errors.Is(err, gorm.ErrInvalidValue) ||
		errors.Is(err, gorm.ErrDuplicatedKey) ||
		errors.Is(err, gorm.ErrCheckConstraintViolated) ||
		errors.Is(err, gorm.ErrForeignKeyViolated) {
		return true
	}
	if db.MySQLErrorNumber(err) != 0 {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr)
}
