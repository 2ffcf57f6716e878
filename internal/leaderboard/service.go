package leaderboard

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/partyconnect/engage-backend/internal/ledger"
	"github.com/partyconnect/engage-backend/internal/points"
	"github.com/partyconnect/engage-backend/internal/volunteers"
	"github.com/partyconnect/engage-backend/pkg/logger"
	"github.com/partyconnect/engage-backend/pkg/pagination"
	"github.com/partyconnect/engage-backend/pkg/redis"
)

const (
	defaultCacheTTL = 5 * time.Minute
	defaultLimit    = 10
)

// Entry is one leaderboard row.
type Entry struct {
	Position  int               `json:"position"`
	UserID    uuid.UUID         `json:"userId"`
	Name      string            `json:"name"`
	Points    int64             `json:"points"`
	Rank      string            `json:"rank"`
	Volunteer volunteers.Record `json:"volunteer,omitempty"`
}

type totalsSource interface {
	Totals(ctx context.Context, limit int) ([]ledger.Total, error)
}

type volunteerLookup interface {
	ForUsers(ctx context.Context, userIDs []uuid.UUID) (map[uuid.UUID]volunteers.Record, error)
}

// Params wires a Service. Cache, Volunteers and Logger are optional.
type Params struct {
	Totals       totalsSource
	Volunteers   volunteerLookup
	Cache        redis.JSONCache
	CacheTTL     time.Duration
	DefaultLimit int
	Logger       *logger.Logger
}

// Service serves the top of the ledger. The top MaxLimit rows are computed
// once and cached; smaller requests are slices of the cached list.
type Service struct {
	totals       totalsSource
	volunteers   volunteerLookup
	cache        redis.JSONCache
	ttl          time.Duration
	defaultLimit int
	logg         *logger.Logger
}

func NewService(params Params) (*Service, error) {
	if params.Totals == nil {
		return nil, fmt.Errorf("ledger totals source required")
	}
	ttl := params.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	def := params.DefaultLimit
	if def <= 0 {
		def = defaultLimit
	}
	return &Service{
		totals:       params.Totals,
		volunteers:   params.Volunteers,
		cache:        params.Cache,
		ttl:          ttl,
		defaultLimit: def,
		logg:         params.Logger,
	}, nil
}

// Top returns up to limit entries, highest total first. A failing cache is
// logged and bypassed.
func (s *Service) Top(ctx context.Context, limit int) ([]Entry, error) {
	limit = pagination.NormalizeLimit(limit, s.defaultLimit)

	var cached []Entry
	if s.cache != nil {
		hit, err := s.cache.GetJSON(ctx, s.cacheKey(), &cached)
		if err != nil {
			s.warn(ctx, "leaderboard.cache.read_failed", err)
		} else if hit {
			return head(cached, limit), nil
		}
	}

	entries, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.SetJSON(ctx, s.cacheKey(), entries, s.ttl); err != nil {
			s.warn(ctx, "leaderboard.cache.write_failed", err)
		}
	}
	return head(entries, limit), nil
}

// Invalidate drops the cached leaderboard.
func (s *Service) Invalidate(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Del(ctx, s.cacheKey())
}

func (s *Service) load(ctx context.Context) ([]Entry, error) {
	totals, err := s.totals.Totals(ctx, pagination.MaxLimit)
	if err != nil {
		return nil, fmt.Errorf("load leaderboard totals: %w", err)
	}
	entries := make([]Entry, 0, len(totals))
	ids := make([]uuid.UUID, 0, len(totals))
	for i, total := range totals {
		entries = append(entries, Entry{
			Position: i + 1,
			UserID:   total.UserID,
			Name:     total.Name,
			Points:   total.Points,
			Rank:     points.RankFor(int(total.Points)).Name,
		})
		ids = append(ids, total.UserID)
	}

	if s.volunteers != nil && len(ids) > 0 {
		records, err := s.volunteers.ForUsers(ctx, ids)
		if err != nil {
			// volunteer data is decoration; the ranking stands without it
			s.warn(ctx, "leaderboard.volunteers.lookup_failed", err)
			return entries, nil
		}
		for i := range entries {
			if record, ok := records[entries[i].UserID]; ok {
				entries[i].Volunteer = record
			}
		}
	}
	return entries, nil
}

func (s *Service) cacheKey() string {
	return s.cache.CacheKey("leaderboard", "top")
}

func (s *Service) warn(ctx context.Context, msg string, err error) {
	if s.logg == nil {
		return
	}
	s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), msg)
}

func head(entries []Entry, limit int) []Entry {
	if len(entries) <= limit {
		return entries
	}
	return entries[:limit]
}
