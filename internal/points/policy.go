package points

import (
	"fmt"
	"sort"
	"strings"

	"github.com/partyconnect/engage-backend/pkg/config"
	"github.com/partyconnect/engage-backend/pkg/enums"
)

// PosterClass is the shared daily quota of poster creation and sharing.
const PosterClass = "poster"

var namedClasses = map[string][]enums.ActivityType{
	PosterClass: {enums.ActivityPosterCreate, enums.ActivityPosterShare},
}

var defaultDescriptions = map[enums.ActivityType]string{
	enums.ActivityLike:            "Liked a post",
	enums.ActivityComment:         "Commented on a post",
	enums.ActivityShare:           "Shared a post",
	enums.ActivityDownload:        "Downloaded a post",
	enums.ActivityPosterCreate:    "Created a poster",
	enums.ActivityPosterShare:     "Shared a poster",
	enums.ActivityReferralBonus:   "Referral bonus",
	enums.ActivityDailyLogin:      "Daily login",
	enums.ActivityProfileComplete: "Completed profile",
	enums.ActivityTaskComplete:    "Completed a task",
	enums.ActivityReelUpload:      "Uploaded a reel",
}

// Class is a set of activity types sharing one daily cap.
type Class struct {
	Name  string
	Types []enums.ActivityType
	Limit int
}

// Policy holds the configured point values and daily caps.
type Policy struct {
	values  map[enums.ActivityType]int
	classes map[enums.ActivityType]Class
	byName  map[string]Class
}

// NewPolicy validates the configured tables. DailyCaps keys are either a
// named class ("poster") or a single activity type.
func NewPolicy(pointsCfg config.PointsConfig) (*Policy, error) {
	p := &Policy{
		values:  make(map[enums.ActivityType]int, len(pointsCfg.Values)),
		classes: make(map[enums.ActivityType]Class),
		byName:  make(map[string]Class),
	}
	for raw, value := range pointsCfg.Values {
		activityType, err := enums.ParseActivityType(raw)
		if err != nil {
			return nil, fmt.Errorf("points value: %w", err)
		}
		if !activityType.IsRewardable() {
			return nil, fmt.Errorf("points value: %s is never rewarded", activityType)
		}
		if value < 0 {
			return nil, fmt.Errorf("points value for %s must be non-negative", activityType)
		}
		p.values[activityType] = value
	}
	for raw, limit := range pointsCfg.DailyCaps {
		name := strings.ToLower(strings.TrimSpace(raw))
		if limit <= 0 {
			return nil, fmt.Errorf("daily cap for %s must be positive", name)
		}
		types, ok := namedClasses[name]
		if !ok {
			activityType, err := enums.ParseActivityType(name)
			if err != nil {
				return nil, fmt.Errorf("daily cap: unknown class %q", raw)
			}
			types = []enums.ActivityType{activityType}
		}
		class := Class{Name: name, Types: types, Limit: limit}
		for _, activityType := range types {
			if existing, dup := p.classes[activityType]; dup {
				return nil, fmt.Errorf("daily cap: %s is capped by both %s and %s", activityType, existing.Name, name)
			}
			p.classes[activityType] = class
		}
		p.byName[name] = class
	}
	return p, nil
}

// PointsFor returns the configured value of an activity type.
func (p *Policy) PointsFor(activityType enums.ActivityType) (int, bool) {
	value, ok := p.values[activityType]
	return value, ok
}

// ClassOf returns the rate-limited class an activity type belongs to.
func (p *Policy) ClassOf(activityType enums.ActivityType) (Class, bool) {
	class, ok := p.classes[activityType]
	return class, ok
}

// Classes returns every capped class ordered by name.
func (p *Policy) Classes() []Class {
	out := make([]Class, 0, len(p.byName))
	for _, class := range p.byName {
		out = append(out, class)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// DescriptionFor is the audit text used when a request carries none.
func (p *Policy) DescriptionFor(activityType enums.ActivityType) string {
	if desc, ok := defaultDescriptions[activityType]; ok {
		return desc
	}
	return string(activityType)
}
