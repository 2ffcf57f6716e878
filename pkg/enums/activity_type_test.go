package enums

import "testing"

func TestParseActivityType(t *testing.T) {
	got, err := ParseActivityType("  Poster_Create ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != ActivityPosterCreate {
		t.Fatalf("expected poster_create, got %q", got)
	}
	if _, err := ParseActivityType("retweet"); err == nil {
		t.Fatal("expected unknown activity type to fail")
	}
}

func TestActivityTypeClassification(t *testing.T) {
	cases := []struct {
		activity   ActivityType
		oneTime    bool
		rewardable bool
	}{
		{ActivityLike, true, true},
		{ActivityComment, true, true},
		{ActivityShare, true, true},
		{ActivityDownload, true, true},
		{ActivityReferralBonus, true, true},
		{ActivityDailyLogin, false, true},
		{ActivityPosterCreate, false, true},
		{ActivityPosterShare, false, true},
		{ActivityUnlike, false, false},
	}
	for _, tc := range cases {
		t.Run(string(tc.activity), func(t *testing.T) {
			if got := tc.activity.IsOneTime(); got != tc.oneTime {
				t.Fatalf("IsOneTime=%v want %v", got, tc.oneTime)
			}
			if got := tc.activity.IsRewardable(); got != tc.rewardable {
				t.Fatalf("IsRewardable=%v want %v", got, tc.rewardable)
			}
		})
	}
}

func TestActivityTypesReturnsCopy(t *testing.T) {
	all := ActivityTypes()
	all[0] = "mutated"
	if ActivityTypes()[0] != ActivityLike {
		t.Fatal("ActivityTypes must not expose the backing slice")
	}
}
