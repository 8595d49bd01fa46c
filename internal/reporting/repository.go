package reporting

import (
	"context"
	"time"

	"callhelm/internal/calls"
)

// StoreRepository adapts the calls store to the reporting read surface.
type StoreRepository struct {
	store calls.Store
}

func NewStoreRepository(store calls.Store) *StoreRepository {
	return &StoreRepository{store: store}
}

func (r *StoreRepository) ListCalls(ctx context.Context, orgID string, from, to time.Time, campaignID string) ([]calls.Call, error) {
	rows, err := r.store.ListStartedSince(ctx, orgID, from)
	if err != nil {
		return nil, err
	}
	out := rows[:0]
	for _, c := range rows {
		if !c.StartedAt.Before(to) {
			continue
		}
		if campaignID != "" && c.Metadata.CampaignID != campaignID {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}
