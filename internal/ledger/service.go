package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/partyconnect/engage-backend/pkg/db/models"
	"github.com/partyconnect/engage-backend/pkg/enums"
	"github.com/partyconnect/engage-backend/pkg/pagination"
)

// Service exposes the read side of the ledger to HTTP handlers.
type Service interface {
	History(ctx context.Context, userID uuid.UUID, page pagination.Page) (*HistoryPage, error)
	Totals(ctx context.Context, limit int) ([]Total, error)
}

// EntryDTO is the public shape of a ledger row.
type EntryDTO struct {
	ID             int64              `json:"id"`
	ActivityType   enums.ActivityType `json:"activityType"`
	Points         int                `json:"points"`
	Description    string             `json:"description"`
	RelatedSubject *string            `json:"relatedSubject,omitempty"`
	CreatedAt      time.Time          `json:"createdAt"`
}

// HistoryPage is one newest-first slice of a user's ledger.
type HistoryPage struct {
	Entries []EntryDTO      `json:"entries"`
	Page    pagination.Page `json:"page"`
	HasMore bool            `json:"hasMore"`
}

type service struct {
	repo Repository
}

// NewService wires a ledger service with the provided repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) History(ctx context.Context, userID uuid.UUID, page pagination.Page) (*HistoryPage, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("user id is required")
	}
	page = pagination.Normalize(page, pagination.DefaultLimit)

	// one extra row tells us whether another page exists
	rows, err := s.repo.History(ctx, userID, page.Limit+1, page.Offset)
	if err != nil {
		return nil, err
	}
	hasMore := len(rows) > page.Limit
	if hasMore {
		rows = rows[:page.Limit]
	}

	entries := make([]EntryDTO, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, toEntryDTO(row))
	}
	return &HistoryPage{Entries: entries, Page: page, HasMore: hasMore}, nil
}

func (s *service) Totals(ctx context.Context, limit int) ([]Total, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive")
	}
	return s.repo.LeaderboardTotals(ctx, limit)
}

func toEntryDTO(row models.ActivityEntry) EntryDTO {
	return EntryDTO{
		ID:             row.ID,
		ActivityType:   row.ActivityType,
		Points:         row.Points,
		Description:    row.Description,
		RelatedSubject: row.RelatedSubject,
		CreatedAt:      row.CreatedAt,
	}
}
