package db

import (
	"errors"
	"strings"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

const (
	mysqlDuplicateEntry     = 1062
	mysqlLockWaitTimeout    = 1205
	mysqlDeadlock           = 1213
	mysqlOutOfRange         = 1264
	postgresUniqueViolation = "23505"
)

func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var myErr *mysqldriver.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlDuplicateEntry
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == postgresUniqueViolation
	}

	// SQLite drivers only expose the message.
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// MySQLErrorNumber returns the server error number carried by err, or 0.
func MySQLErrorNumber(err error) uint16 {
	var myErr *mysqldriver.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number
	}
	return 0
}

// IsLockTimeout reports lock wait timeouts on MySQL (1205) and PostgreSQL (55P03).
func IsLockTimeout(err error) bool {
	return MySQLErrorNumber(err) == mysqlLockWaitTimeout || hasPGCode(err, "55P03")
}

// IsSerializationFailure reports deadlocks and serialization conflicts.
func IsSerializationFailure(err error) bool {
	return MySQLErrorNumber(err) == mysqlDeadlock || hasPGCode(err, "40001") || hasPGCode(err, "40P01")
}

// IsOutOfRange reports numeric overflow of a column, e.g. a DECIMAL(8,2).
func IsOutOfRange(err error) bool {
	return MySQLErrorNumber(err) == mysqlOutOfRange || hasPGCode(err, "22003")
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}
