package enums

import (
	"fmt"
	"strings"
)

// ActivityType maps to the activity_type column of activity_entries.
type ActivityType string

const (
	ActivityLike            ActivityType = "like"
	ActivityUnlike          ActivityType = "unlike"
	ActivityComment         ActivityType = "comment"
	ActivityShare           ActivityType = "share"
	ActivityDownload        ActivityType = "download"
	ActivityPosterCreate    ActivityType = "poster_create"
	ActivityPosterShare     ActivityType = "poster_share"
	ActivityReferralBonus   ActivityType = "referral_bonus"
	ActivityDailyLogin      ActivityType = "daily_login"
	ActivityProfileComplete ActivityType = "profile_complete"
	ActivityTaskComplete    ActivityType = "task_complete"
	ActivityReelUpload      ActivityType = "reel_upload"
)

var activityTypes = set[ActivityType]{
	ActivityLike,
	ActivityUnlike,
	ActivityComment,
	ActivityShare,
	ActivityDownload,
	ActivityPosterCreate,
	ActivityPosterShare,
	ActivityReferralBonus,
	ActivityDailyLogin,
	ActivityProfileComplete,
	ActivityTaskComplete,
	ActivityReelUpload,
}

// oneTimeActivityTypes are rewarded for the first (user, subject) pair only.
var oneTimeActivityTypes = map[ActivityType]struct{}{
	ActivityLike:            {},
	ActivityComment:         {},
	ActivityShare:           {},
	ActivityDownload:        {},
	ActivityReferralBonus:   {},
	ActivityProfileComplete: {},
	ActivityTaskComplete:    {},
}

func (a ActivityType) String() string {
	return string(a)
}

// IsValid reports whether the value is part of the closed activity enumeration.
func (a ActivityType) IsValid() bool { return activityTypes.has(a) }

// IsOneTime reports whether only the first occurrence per subject earns points.
func (a ActivityType) IsOneTime() bool {
	_, ok := oneTimeActivityTypes[a]
	return ok
}

// IsRewardable is false for activity types that never earn points.
func (a ActivityType) IsRewardable() bool {
	return a.IsValid() && a != ActivityUnlike
}

// ActivityTypes returns the full enumeration in declaration order.
func ActivityTypes() []ActivityType {
	return activityTypes.values()
}

// ParseActivityType converts raw input into ActivityType.
func ParseActivityType(value string) (ActivityType, error) {
	activity, err := activityTypes.parse("activity type", strings.ToLower(strings.TrimSpace(value)))
	if err != nil {
		return "", fmt.Errorf("invalid activity type %q", value)
	}
	return activity, nil
}
