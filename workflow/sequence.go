package workflow

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"bitbucket.org/capitalexpress/operaciones_backend/models"
)

// OperationIDPrefix is the id prefix for a given day, e.g. "OP-20260901-".
func OperationIDPrefix(day time.Time) string {
	return fmt.Sprintf("OP-%s-", day.Format("20060102"))
}

// FormatOperationID renders a daily sequence number into an operation id.
// Numbers beyond 999 widen; the format never wraps.
func FormatOperationID(day time.Time, n int) string {
	return fmt.Sprintf("%s%03d", OperationIDPrefix(day), n)
}

// NextOperationID allocates the next daily operation id, e.g. OP-20260901-003.
// The per-day counter row is read FOR UPDATE inside the caller's transaction,
// so the row lock is held until that transaction commits: a concurrent
// finalizer blocks on the counter until the winner's allocation is durable and
// can never receive the same id.
func NextOperationID(ctx context.Context, tx *gorm.DB, day time.Time) (string, error) {
	key := day.UTC().Format("20060102")

	if err := tx.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.OperationSequence{Day: key}).Error; err != nil {
		return "", err
	}

	var seq models.OperationSequence
	if err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("day = ?", key).
		First(&seq).Error; err != nil {
		return "", err
	}

	next := seq.LastNumber + 1
	if err := tx.WithContext(ctx).
		Model(&models.OperationSequence{}).
		Where("day = ?", key).
		Update("last_number", next).Error; err != nil {
		return "", err
	}
	return FormatOperationID(day, next), nil
}
