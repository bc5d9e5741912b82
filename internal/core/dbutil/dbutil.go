// Package dbutil holds small gorm helpers shared by the postgres repositories.
package dbutil

import (
	"errors"
	"strings"

	"github.com/frahmantamala/ssoflow/internal"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

const pgUniqueViolation = "23505"

// IsUniqueViolation recognises duplicate key errors from postgres and from the sqlite test driver.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// MapWriteError turns unique violations into dup and leaves other errors untouched.
func MapWriteError(err error, dup *internal.AppError) error {
	if err == nil {
		return nil
	}
	if IsUniqueViolation(err) {
		return dup.WithCause(err)
	}
	return err
}

// MapNotFound returns notFound for gorm.ErrRecordNotFound.
func MapNotFound(err error, notFound *internal.AppError) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notFound
	}
	return err
}

// Paginate applies offset and limit from p.
func Paginate(p internal.PageRequest) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Offset(p.Offset()).Limit(p.Limit())
	}
}

// Like wraps a keyword for a contains match.
func Like(keyword string) string {
	return "%" + strings.ToLower(keyword) + "%"
}
