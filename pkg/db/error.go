package db

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	// PostgreSQL (error code 23505)
	if strings.Contains(err.Error(), "duplicate key value violates unique constraint") {
		return true
	}

	// MySQL (error code 1062)
	if strings.Contains(err.Error(), "Error 1062") {
		return true
	}

	// SQLite (error code 2067)
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return true
	}

	return false
}

// IsSerializationErr reports a serializable-isolation conflict that the
// caller may retry.
func IsSerializationErr(err error) bool {
	if err == nil {
		return false
	}

	// PostgreSQL (error code 40001)
	if strings.Contains(err.Error(), "could not serialize access") {
		return true
	}

	// MySQL deadlock (error code 1213)
	if strings.Contains(err.Error(), "Deadlock found") {
		return true
	}

	// SQLite busy
	if strings.Contains(err.Error(), "database is locked") {
		return true
	}

	return false
}
