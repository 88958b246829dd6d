package guard

import (
	"errors"
	"time"

	"github.com/smallbiznis/pmacctstats/internal/config"
)

var (
	ErrDayNotClosed         = errors.New("day_not_closed")
	ErrUnknownFailurePolicy = errors.New("unknown_failure_policy")
)

// EnsureDayClosed rejects the current and future days; their traffic is
// still being written by the collector.
func EnsureDayClosed(day, today time.Time) error {
	if !day.Before(today) {
		return ErrDayNotClosed
	}
	return nil
}

func EnsureFailurePolicy(policy string) error {
	switch policy {
	case config.FailurePolicyAbort, config.FailurePolicyContinue:
		return nil
	default:
		return ErrUnknownFailurePolicy
	}
}
