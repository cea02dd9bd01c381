package database

import "errors"

// MaxHistoryLimit caps every history query.
const MaxHistoryLimit = 200

var (
	ErrNotFound          = errors.New("record not found")
	ErrDuplicateUsername = errors.New("username already exists")
)

// HistoryLimit clamps a requested history size to (0, MaxHistoryLimit].
// Non-positive values select the maximum.
func HistoryLimit(limit int) int {
	if limit <= 0 || limit > MaxHistoryLimit {
		return MaxHistoryLimit
	}
	return limit
}
