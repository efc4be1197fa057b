package datastore

import (
	"fmt"

	"github.com/mattn/go-sqlite3"
	"gorm.io/gorm"

	"github.com/watchtowerhq/watchtower-go/internal/errors"
)

// categorize maps a database error to the project error taxonomy. Constraint
// violations (duplicate keys, broken foreign keys) surface as a distinct
// conflict category and are never retried, they indicate logic bugs, not
// transient conditions. Everything else propagates as a database error.
func categorize(err error, operation string) error {
	if err == nil {
		return nil
	}

	category := errors.CategoryDatabase

	var sqliteErr sqlite3.Error
	switch {
	case errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint:
		category = errors.CategoryConflict
	case errors.Is(err, gorm.ErrDuplicatedKey), errors.Is(err, gorm.ErrForeignKeyViolated):
		category = errors.CategoryConflict
	}

	return errors.New(fmt.Errorf("%s: %w", operation, err)).
		Component("datastore").
		Category(category).
		Build()
}
