package points

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/partyconnect/engage-backend/internal/balance"
	"github.com/partyconnect/engage-backend/internal/ledger"
	"github.com/partyconnect/engage-backend/pkg/config"
	"github.com/partyconnect/engage-backend/pkg/db"
	"github.com/partyconnect/engage-backend/pkg/db/dbtest"
	"github.com/partyconnect/engage-backend/pkg/db/models"
	"github.com/partyconnect/engage-backend/pkg/enums"
	"github.com/partyconnect/engage-backend/pkg/outbox"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type harness struct {
	client   *db.Client
	engine   Engine
	ledger   ledger.Repository
	balances balance.Repository
	clock    *clock
}

func defaultPolicy(t *testing.T) *Policy {
	t.Helper()
	policy, err := NewPolicy(config.PointsConfig{
		Values: map[string]int{
			"like": 5, "comment": 10, "share": 10, "download": 10,
			"poster_create": 10, "poster_share": 5, "daily_login": 5,
			"profile_complete": 20, "task_complete": 10, "reel_upload": 10,
		},
		DailyCaps: map[string]int{"poster": 4},
	})
	if err != nil {
		t.Fatalf("policy: %v", err)
	}
	return policy
}

func newHarness(t *testing.T) *harness {
	return newHarnessWithLedger(t, nil)
}

// newHarnessWithLedger lets a test wrap the ledger the engine sees.
func newHarnessWithLedger(t *testing.T, wrap func(ledger.Repository) ledger.Repository) *harness {
	t.Helper()
	client := dbtest.Open(t)
	ledgerRepo := ledger.NewRepository(client.DB())
	engineLedger := ledgerRepo
	if wrap != nil {
		engineLedger = wrap(ledgerRepo)
	}
	balances := balance.NewRepository(client.DB())
	clk := &clock{now: time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)}
	eng, err := NewEngine(EngineParams{
		DB:       client,
		Ledger:   engineLedger,
		Balances: balances,
		Policy:   defaultPolicy(t),
		Limiter:  NewLimiter(time.UTC),
		Outbox:   outbox.NewService(outbox.NewRepository(client.DB()), nil),
		Now:      clk.Now,
	})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	return &harness{client: client, engine: eng, ledger: ledgerRepo, balances: balances, clock: clk}
}

func (h *harness) seedUser(t *testing.T, name string, points int) *models.User {
	t.Helper()
	user := &models.User{
		Name:         name,
		Role:         enums.UserRoleMember,
		ReferralCode: "SP" + uuid.NewString()[:6],
		Points:       points,
	}
	if err := h.client.DB().Create(user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return user
}

func (h *harness) entryCount(t *testing.T, userID uuid.UUID) int64 {
	t.Helper()
	var count int64
	if err := h.client.DB().Model(&models.ActivityEntry{}).Where("user_id = ?", userID).Count(&count).Error; err != nil {
		t.Fatalf("count entries: %v", err)
	}
	return count
}

func (h *harness) outboxCount(t *testing.T, eventType enums.OutboxEventType) int64 {
	t.Helper()
	var count int64
	if err := h.client.DB().Model(&models.OutboxEvent{}).Where("event_type = ?", eventType).Count(&count).Error; err != nil {
		t.Fatalf("count outbox: %v", err)
	}
	return count
}

func (h *harness) balance(t *testing.T, userID uuid.UUID) int {
	t.Helper()
	got, err := h.balances.Balance(context.Background(), userID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return got
}

func (h *harness) ledgerSum(t *testing.T, userID uuid.UUID) int64 {
	t.Helper()
	sum, err := h.ledger.SumByUser(context.Background(), userID)
	if err != nil {
		t.Fatalf("sum: %v", err)
	}
	return sum
}

// blindLedger never reports an existing entry, forcing every award down to
// the unique index.
type blindLedger struct {
	ledger.Repository
}

func (b blindLedger) WithTx(tx *gorm.DB) ledger.Repository {
	return blindLedger{Repository: b.Repository.WithTx(tx)}
}

func (blindLedger) HasEntry(context.Context, uuid.UUID, string, enums.ActivityType) (bool, error) {
	return false, nil
}

func strPtr(v string) *string { return &v }

func intPtr(v int) *int { return &v }
