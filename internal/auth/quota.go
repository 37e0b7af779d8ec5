package auth

import (
	"time"

	"github.com/fran0220/jimeng-gateway/internal/db"
)

// QuotaExceededError is returned by CheckDailyQuota when a caller has
// used up its daily allowance of task creations.
type QuotaExceededError struct {
	DailyQuota int
	Used       int
}

func (e *QuotaExceededError) Error() string {
	return "daily task quota exceeded"
}

// CheckDailyQuota enforces Caller.DailyQuota against today's task
// count for ApiKey callers. Admins and anonymous callers are exempt,
// matching the gate's "no restriction without a quota-bearing
// credential" semantics.
func CheckDailyQuota(store *db.DB, caller Caller) error {
	if caller.Kind != KindAPIKey || caller.DailyQuota <= 0 {
		return nil
	}
	today := time.Now().UTC().Format("2006-01-02")
	used, err := store.TodayTaskCount(caller.KeyID, today)
	if err != nil {
		return err
	}
	if used >= caller.DailyQuota {
		return &QuotaExceededError{DailyQuota: caller.DailyQuota, Used: used}
	}
	return nil
}

// RecordTaskCreated increments today's task count for an ApiKey
// caller after a task's enqueue transaction commits. No-op for other
// caller kinds.
func RecordTaskCreated(store *db.DB, caller Caller) error {
	if caller.Kind != KindAPIKey {
		return nil
	}
	today := time.Now().UTC().Format("2006-01-02")
	return store.RecordTask(caller.KeyID, today)
}
