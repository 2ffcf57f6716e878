package referrals

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/partyconnect/engage-backend/internal/balance"
	"github.com/partyconnect/engage-backend/internal/ledger"
	"github.com/partyconnect/engage-backend/internal/points"
	"github.com/partyconnect/engage-backend/pkg/config"
	"github.com/partyconnect/engage-backend/pkg/db"
	"github.com/partyconnect/engage-backend/pkg/db/dbtest"
	"github.com/partyconnect/engage-backend/pkg/db/models"
	"github.com/partyconnect/engage-backend/pkg/enums"
	pkgerrors "github.com/partyconnect/engage-backend/pkg/errors"
	"github.com/partyconnect/engage-backend/pkg/outbox"
)

var testReferralConfig = config.ReferralConfig{CodePrefix: "SP", CodeLength: 6, ReferrerPoints: 50, NewUserPoints: 10}

type fixture struct {
	client   *db.Client
	resolver Resolver
	engine   points.Engine
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithEngine(t, nil)
}

func newFixtureWithEngine(t *testing.T, wrap func(points.Engine) points.Engine) *fixture {
	t.Helper()
	client := dbtest.Open(t)
	policy, err := points.NewPolicy(config.PointsConfig{Values: map[string]int{"like": 5}})
	require.NoError(t, err)
	emitter := outbox.NewService(outbox.NewRepository(client.DB()), nil)
	engine, err := points.NewEngine(points.EngineParams{
		DB:       client,
		Ledger:   ledger.NewRepository(client.DB()),
		Balances: balance.NewRepository(client.DB()),
		Policy:   policy,
		Limiter:  points.NewLimiter(time.UTC),
		Outbox:   emitter,
	})
	require.NoError(t, err)
	if wrap != nil {
		engine = wrap(engine)
	}
	resolver, err := NewResolver(ResolverParams{
		DB:     client,
		Engine: engine,
		Config: testReferralConfig,
		Outbox: emitter,
	})
	require.NoError(t, err)
	return &fixture{client: client, resolver: resolver, engine: engine}
}

func (f *fixture) seedUser(t *testing.T, name, code string, pts int) *models.User {
	t.Helper()
	user := &models.User{Name: name, Role: enums.UserRoleMember, ReferralCode: code, Points: pts}
	require.NoError(t, f.client.DB().Create(user).Error)
	return user
}

func (f *fixture) reload(t *testing.T, id uuid.UUID) *models.User {
	t.Helper()
	var user models.User
	require.NoError(t, f.client.DB().First(&user, "id = ?", id).Error)
	return &user
}

func (f *fixture) entries(t *testing.T) []models.ActivityEntry {
	t.Helper()
	var rows []models.ActivityEntry
	require.NoError(t, f.client.DB().Order("id ASC").Find(&rows).Error)
	return rows
}

func TestApplyReferralCreditsBothUsers(t *testing.T) {
	f := newFixture(t)
	a := f.seedUser(t, "A", "SPXYZ123", 100)
	b := f.seedUser(t, "B", "SPBBB222", 0)

	outcome, err := f.resolver.ApplyReferral(context.Background(), b.ID, " spxyz123 ")
	require.NoError(t, err)
	require.Equal(t, StatusApplied, outcome.Status)
	require.Equal(t, "SPXYZ123", outcome.ReferralCode)
	require.Equal(t, a.ID, *outcome.ReferrerID)
	require.Equal(t, 50, outcome.ReferrerPoints)
	require.Equal(t, 10, outcome.NewUserPoints)
	require.Equal(t, 10, outcome.NewBalance)

	reloadedA := f.reload(t, a.ID)
	reloadedB := f.reload(t, b.ID)
	require.Equal(t, 150, reloadedA.Points)
	require.Equal(t, 10, reloadedB.Points)
	require.NotNil(t, reloadedB.ReferredBy)
	require.Equal(t, "SPXYZ123", *reloadedB.ReferredBy)
	require.Nil(t, reloadedA.ReferredBy)

	rows := f.entries(t)
	require.Len(t, rows, 2)
	require.Equal(t, a.ID, rows[0].UserID)
	require.Equal(t, enums.ActivityReferralBonus, rows[0].ActivityType)
	require.Equal(t, b.ID.String(), *rows[0].RelatedSubject)
	require.Equal(t, b.ID, rows[1].UserID)
	require.Equal(t, a.ID.String(), *rows[1].RelatedSubject)

	var events int64
	require.NoError(t, f.client.DB().Model(&models.OutboxEvent{}).Where("event_type = ?", enums.EventReferralApplied).Count(&events).Error)
	require.EqualValues(t, 1, events)
}

func TestApplyReferralUnknownCode(t *testing.T) {
	f := newFixture(t)
	b := f.seedUser(t, "B", "SPBBB222", 0)

	outcome, err := f.resolver.ApplyReferral(context.Background(), b.ID, "nope99")
	require.NoError(t, err)
	require.Equal(t, StatusNoSuchCode, outcome.Status)
	require.Equal(t, "SPNOPE99", outcome.ReferralCode)
	require.Nil(t, f.reload(t, b.ID).ReferredBy)
	require.Empty(t, f.entries(t))
}

func TestApplyReferralRejectsOwnCode(t *testing.T) {
	f := newFixture(t)
	u := f.seedUser(t, "U", "SPSELF01", 0)

	outcome, err := f.resolver.ApplyReferral(context.Background(), u.ID, "self01")
	require.NoError(t, err)
	require.Equal(t, StatusSelfReferral, outcome.Status)

	reloaded := f.reload(t, u.ID)
	require.Nil(t, reloaded.ReferredBy)
	require.Zero(t, reloaded.Points)
	require.Empty(t, f.entries(t))
}

func TestApplyReferralOnlyOnce(t *testing.T) {
	f := newFixture(t)
	a := f.seedUser(t, "A", "SPAAA111", 0)
	c := f.seedUser(t, "C", "SPCCC333", 0)
	b := f.seedUser(t, "B", "SPBBB222", 0)
	ctx := context.Background()

	first, err := f.resolver.ApplyReferral(ctx, b.ID, "SPAAA111")
	require.NoError(t, err)
	require.True(t, first.Applied())

	second, err := f.resolver.ApplyReferral(ctx, b.ID, "SPCCC333")
	require.NoError(t, err)
	require.Equal(t, StatusAlreadyReferred, second.Status)

	require.Equal(t, "SPAAA111", *f.reload(t, b.ID).ReferredBy)
	require.Equal(t, 50, f.reload(t, a.ID).Points)
	require.Zero(t, f.reload(t, c.ID).Points)
	require.Equal(t, 10, f.reload(t, b.ID).Points)
	require.Len(t, f.entries(t), 2)
}

// failingEngine fails the Nth AwardTx call.
type failingEngine struct {
	points.Engine
	failOn int
	calls  int
}

func (f *failingEngine) AwardTx(ctx context.Context, tx *gorm.DB, req points.AwardRequest) (*points.AwardResult, error) {
	f.calls++
	if f.calls == f.failOn {
		return nil, errors.New("connection reset")
	}
	return f.Engine.AwardTx(ctx, tx, req)
}

func TestApplyReferralIsAllOrNothing(t *testing.T) {
	for _, tc := range []struct {
		name   string
		failOn int
	}{{"referrer bonus fails", 1}, {"new user bonus fails", 2}} {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixtureWithEngine(t, func(e points.Engine) points.Engine {
				return &failingEngine{Engine: e, failOn: tc.failOn}
			})
			a := f.seedUser(t, "A", "SPAAA111", 100)
			b := f.seedUser(t, "B", "SPBBB222", 0)

			_, err := f.resolver.ApplyReferral(context.Background(), b.ID, "SPAAA111")
			require.Error(t, err)
			require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))

			require.Equal(t, 100, f.reload(t, a.ID).Points)
			require.Zero(t, f.reload(t, b.ID).Points)
			require.Nil(t, f.reload(t, b.ID).ReferredBy)
			require.Empty(t, f.entries(t))
		})
	}
}

func TestApplyReferralTxLeavesCallerTxUsable(t *testing.T) {
	f := newFixture(t)
	u := f.seedUser(t, "U", "SPSELF01", 0)
	ctx := context.Background()

	err := f.client.WithTx(ctx, func(tx *gorm.DB) error {
		outcome, err := f.resolver.ApplyReferralTx(ctx, tx, u.ID, "SPSELF01")
		require.NoError(t, err)
		require.Equal(t, StatusSelfReferral, outcome.Status)
		return tx.Model(&models.User{}).Where("id = ?", u.ID).Update("name", "Renamed").Error
	})
	require.NoError(t, err)
	require.Equal(t, "Renamed", f.reload(t, u.ID).Name)
}

func TestApplyReferralValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.resolver.ApplyReferral(context.Background(), uuid.New(), "SPAAA111")
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	u := f.seedUser(t, "U", "SPUUU111", 0)
	_, err = f.resolver.ApplyReferral(context.Background(), u.ID, "  ")
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestNewResolverValidatesConfig(t *testing.T) {
	f := newFixture(t)
	cases := map[string]config.ReferralConfig{
		"zero length":             {CodePrefix: "SP"},
		"negative referrer bonus": {CodePrefix: "SP", CodeLength: 6, ReferrerPoints: -1},
		"negative new user bonus": {CodePrefix: "SP", CodeLength: 6, NewUserPoints: -5},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewResolver(ResolverParams{DB: f.client, Engine: f.engine, Config: cfg})
			require.Error(t, err)
		})
	}
}
