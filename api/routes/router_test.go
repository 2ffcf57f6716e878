package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/partyconnect/engage-backend/api/controllers"
	"github.com/partyconnect/engage-backend/internal/auth"
	"github.com/partyconnect/engage-backend/internal/balance"
	"github.com/partyconnect/engage-backend/internal/leaderboard"
	"github.com/partyconnect/engage-backend/internal/ledger"
	"github.com/partyconnect/engage-backend/internal/points"
	"github.com/partyconnect/engage-backend/internal/referrals"
	"github.com/partyconnect/engage-backend/internal/volunteers"
	"github.com/partyconnect/engage-backend/pkg/config"
	"github.com/partyconnect/engage-backend/pkg/db/dbtest"
	"github.com/partyconnect/engage-backend/pkg/outbox"
)

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

type memoryIdempotency struct {
	mu   sync.Mutex
	data map[string]string
}

func (m *memoryIdempotency) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.data[key]; ok {
		return v, nil
	}
	return "", goredis.Nil
}

func (m *memoryIdempotency) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = fmt.Sprint(value)
	return true, nil
}

func (m *memoryIdempotency) Set(_ context.Context, key string, value any, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = fmt.Sprint(value)
	return nil
}

func (m *memoryIdempotency) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.data, key)
	}
	return nil
}

func (m *memoryIdempotency) IdempotencyKey(scope, id string) string {
	return "idem:" + scope + ":" + id
}

func testConfig() *config.Config {
	return &config.Config{
		App:         config.AppConfig{Env: "test"},
		JWT:         config.JWTConfig{Secret: "secret", Issuer: "engage", ExpirationMinutes: 15},
		Referral:    config.ReferralConfig{CodePrefix: "SP", CodeLength: 6, ReferrerPoints: 50, NewUserPoints: 10},
		Points:      config.PointsConfig{Values: map[string]int{"like": 5, "poster_create": 10}, DailyCaps: map[string]int{"poster": 4}},
		Leaderboard: config.LeaderboardConfig{DefaultLimit: 10},
	}
}

func newTestRouter(t *testing.T, ready map[string]controllers.Pinger) http.Handler {
	t.Helper()
	cfg := testConfig()
	client := dbtest.Open(t)

	policy, err := points.NewPolicy(cfg.Points)
	require.NoError(t, err)
	emitter := outbox.NewService(outbox.NewRepository(client.DB()), nil)
	ledgerRepo := ledger.NewRepository(client.DB())
	balances := balance.NewRepository(client.DB())

	engine, err := points.NewEngine(points.EngineParams{
		DB:       client,
		Ledger:   ledgerRepo,
		Balances: balances,
		Policy:   policy,
		Limiter:  points.NewLimiter(time.UTC),
		Outbox:   emitter,
	})
	require.NoError(t, err)
	resolver, err := referrals.NewResolver(referrals.ResolverParams{DB: client, Engine: engine, Config: cfg.Referral, Outbox: emitter})
	require.NoError(t, err)
	register, err := auth.NewRegisterService(auth.RegisterServiceParams{DB: client, Referrals: resolver, Referral: cfg.Referral, JWT: cfg.JWT})
	require.NoError(t, err)
	ledgerService, err := ledger.NewService(ledgerRepo)
	require.NoError(t, err)
	board, err := leaderboard.NewService(leaderboard.Params{Totals: ledgerService, Volunteers: volunteers.NewDirectory(client.DB())})
	require.NoError(t, err)
	summaries, err := referrals.NewSummaries(client.DB(), cfg.Referral)
	require.NoError(t, err)
	reconciler, err := points.NewReconciler(points.ReconcilerParams{DB: client, Ledger: ledgerRepo, Balances: balances})
	require.NoError(t, err)

	return NewRouter(Params{
		Config:      cfg,
		Ready:       ready,
		Idempotency: &memoryIdempotency{data: map[string]string{}},
		Register:    register,
		Engine:      engine,
		Ledger:      ledgerService,
		Leaderboard: board,
		Referrals:   resolver,
		Summaries:   summaries,
		Reconciler:  reconciler,
	})
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error struct {
		Code    string         `json:"code"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func call(t *testing.T, h http.Handler, method, path, token, idemKey string, body any) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if idemKey != "" {
		req.Header.Set("Idempotency-Key", idemKey)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec.Code, env
}

type registered struct {
	AccessToken string `json:"accessToken"`
	User        struct {
		ID           string `json:"id"`
		ReferralCode string `json:"referralCode"`
		Points       int    `json:"points"`
	} `json:"user"`
	Referral *struct {
		Status string `json:"status"`
	} `json:"referral"`
}

func registerMember(t *testing.T, h http.Handler, body map[string]any) registered {
	t.Helper()
	code, env := call(t, h, http.MethodPost, "/api/v1/auth/register", "", "", body)
	require.Equal(t, http.StatusCreated, code)
	var out registered
	require.NoError(t, json.Unmarshal(env.Data, &out))
	require.NotEmpty(t, out.AccessToken)
	return out
}

func TestRouterPointsAndReferralFlow(t *testing.T) {
	h := newTestRouter(t, nil)

	alice := registerMember(t, h, map[string]any{"name": "Alice"})
	require.Len(t, alice.User.ReferralCode, 8)

	// referral codes are accepted without the prefix and in lower case
	bob := registerMember(t, h, map[string]any{"name": "Bob", "referralCode": strings.ToLower(alice.User.ReferralCode[2:])})
	require.NotNil(t, bob.Referral)
	require.Equal(t, "applied", bob.Referral.Status)
	require.Equal(t, 10, bob.User.Points)

	like := map[string]any{"activityType": "like", "relatedSubject": "post-1"}
	code, env := call(t, h, http.MethodPost, "/api/v1/points/award", bob.AccessToken, "k1", like)
	require.Equal(t, http.StatusOK, code)
	var award points.AwardResult
	require.NoError(t, json.Unmarshal(env.Data, &award))
	require.True(t, award.Granted)
	require.Equal(t, 5, award.PointsAwarded)
	require.Equal(t, 15, award.NewBalance)

	// a second like on the same post under a new key is a no-op
	code, env = call(t, h, http.MethodPost, "/api/v1/points/award", bob.AccessToken, "k2", like)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(env.Data, &award))
	require.False(t, award.Granted)
	require.Equal(t, points.ReasonAlreadyRewarded, award.Reason)
	require.Equal(t, 15, award.NewBalance)

	code, env = call(t, h, http.MethodGet, "/api/v1/points/balance", bob.AccessToken, "", nil)
	require.Equal(t, http.StatusOK, code)
	var view struct {
		Points    int            `json:"points"`
		Rank      points.Rank    `json:"rank"`
		Remaining map[string]int `json:"remaining"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &view))
	require.Equal(t, 15, view.Points)
	require.Equal(t, "newcomer", view.Rank.Name)
	require.Equal(t, 4, view.Remaining["poster"])

	code, env = call(t, h, http.MethodGet, "/api/v1/points/history?limit=1", bob.AccessToken, "", nil)
	require.Equal(t, http.StatusOK, code)
	var history ledger.HistoryPage
	require.NoError(t, json.Unmarshal(env.Data, &history))
	require.Len(t, history.Entries, 1)
	require.True(t, history.HasMore)

	code, env = call(t, h, http.MethodGet, "/api/v1/points/leaderboard", bob.AccessToken, "", nil)
	require.Equal(t, http.StatusOK, code)
	var board struct {
		Entries []leaderboard.Entry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &board))
	require.Len(t, board.Entries, 2)
	require.Equal(t, "Alice", board.Entries[0].Name)
	require.EqualValues(t, 50, board.Entries[0].Points)
	require.EqualValues(t, 15, board.Entries[1].Points)

	code, env = call(t, h, http.MethodGet, "/api/v1/referrals/me", alice.AccessToken, "", nil)
	require.Equal(t, http.StatusOK, code)
	var summary referrals.Summary
	require.NoError(t, json.Unmarshal(env.Data, &summary))
	require.EqualValues(t, 1, summary.ReferralCount)

	code, env = call(t, h, http.MethodPost, "/api/v1/referrals/apply", alice.AccessToken, "self", map[string]any{"code": alice.User.ReferralCode})
	require.Equal(t, http.StatusConflict, code)
	require.Equal(t, "self_referral", env.Error.Details["reason"])
}

func TestRouterAwardErrors(t *testing.T) {
	h := newTestRouter(t, nil)
	member := registerMember(t, h, map[string]any{"name": "Carol"})

	t.Run("anonymous", func(t *testing.T) {
		code, _ := call(t, h, http.MethodPost, "/api/v1/points/award", "", "k", map[string]any{"activityType": "like"})
		require.Equal(t, http.StatusUnauthorized, code)
	})

	t.Run("missing idempotency key", func(t *testing.T) {
		code, _ := call(t, h, http.MethodPost, "/api/v1/points/award", member.AccessToken, "", map[string]any{"activityType": "like"})
		require.Equal(t, http.StatusBadRequest, code)
	})

	t.Run("unknown activity", func(t *testing.T) {
		code, _ := call(t, h, http.MethodPost, "/api/v1/points/award", member.AccessToken, "bad", map[string]any{"activityType": "dance"})
		require.Equal(t, http.StatusBadRequest, code)
	})

	t.Run("member cannot set points", func(t *testing.T) {
		code, _ := call(t, h, http.MethodPost, "/api/v1/points/award", member.AccessToken, "override", map[string]any{"activityType": "task_complete", "points": 1000})
		require.Equal(t, http.StatusForbidden, code)
	})

	t.Run("referral bonus is not directly awardable", func(t *testing.T) {
		code, _ := call(t, h, http.MethodPost, "/api/v1/points/award", member.AccessToken, "bonus", map[string]any{"activityType": "referral_bonus"})
		require.Equal(t, http.StatusBadRequest, code)
	})

	t.Run("daily poster cap", func(t *testing.T) {
		for i := 0; i < 4; i++ {
			code, _ := call(t, h, http.MethodPost, "/api/v1/points/award", member.AccessToken, fmt.Sprintf("poster-%d", i), map[string]any{"activityType": "poster_create"})
			require.Equal(t, http.StatusOK, code)
		}
		code, env := call(t, h, http.MethodPost, "/api/v1/points/award", member.AccessToken, "poster-5", map[string]any{"activityType": "poster_create"})
		require.Equal(t, http.StatusTooManyRequests, code)
		require.Equal(t, "poster", env.Error.Details["class"])
	})

	t.Run("admin routes need admin role", func(t *testing.T) {
		code, _ := call(t, h, http.MethodPost, "/api/admin/v1/points/reconcile", member.AccessToken, "r", map[string]any{})
		require.Equal(t, http.StatusForbidden, code)
	})
}

func TestRouterHealth(t *testing.T) {
	h := newTestRouter(t, map[string]controllers.Pinger{
		"db":    stubPinger{},
		"redis": stubPinger{err: errors.New("down")},
	})

	code, _ := call(t, h, http.MethodGet, "/health/live", "", "", nil)
	require.Equal(t, http.StatusOK, code)

	code, env := call(t, h, http.MethodGet, "/health/ready", "", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Equal(t, "down", env.Error.Details["redis"])
	require.Equal(t, "ok", env.Error.Details["db"])
}
