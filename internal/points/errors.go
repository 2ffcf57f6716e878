package points

import (
	"errors"
	"time"

	"github.com/partyconnect/engage-backend/internal/balance"
	pkgerrors "github.com/partyconnect/engage-backend/pkg/errors"
)

// Reason explains why an award was not granted.
type Reason string

const (
	ReasonAlreadyRewarded Reason = "already_rewarded"
	ReasonNotRewardable   Reason = "not_rewardable"
)

// errNotGranted rolls back the award transaction when nothing was written
// that should be kept (e.g. after a dedup_key conflict).
var errNotGranted = errors.New("award not granted")

func rateLimitError(class Class, resetsAt time.Time) error {
	return pkgerrors.New(pkgerrors.CodeRateLimit, "daily limit reached for "+class.Name).
		WithDetails(map[string]any{
			"class":    class.Name,
			"limit":    class.Limit,
			"resetsAt": resetsAt.UTC().Format(time.RFC3339),
		})
}

func userNotFoundError() error {
	return pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
}

// storageError keeps typed errors as they are and wraps the rest as a
// retryable dependency failure.
func storageError(err error, message string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, balance.ErrUserNotFound) {
		return userNotFoundError()
	}
	if pkgerrors.As(err) != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, message)
}
