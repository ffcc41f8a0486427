package fixtures

import (
	"context"
	"fmt"
	"strconv"

	"matchpicks/internal/storage"
)

// Collection holds snapshots when they live in the persistence port.
const Collection = "fixtures"

// StoreRepository keeps snapshots as records of the fixtures collection.
type StoreRepository struct {
	store storage.Port
}

// NewStoreRepository binds a repository to store.
func NewStoreRepository(store storage.Port) *StoreRepository {
	return &StoreRepository{store: store}
}

// Get implements Source.
func (r *StoreRepository) Get(ctx context.Context, fixtureID int64) (Snapshot, bool, error) {
	records, err := r.store.Find(ctx, Collection, storage.Where(storage.Eq("fixtureId", fixtureID)))
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("find fixture %d: %w", fixtureID, err)
	}
	if len(records) == 0 {
		return Snapshot{}, false, nil
	}
	var snap Snapshot
	if err := storage.Decode(records[0].Body, &snap); err != nil {
		return Snapshot{}, false, fmt.Errorf("fixture %d: %w", fixtureID, err)
	}
	return snap, true, nil
}

// GetMany implements Source.
func (r *StoreRepository) GetMany(ctx context.Context, fixtureIDs []int64) (map[int64]Snapshot, error) {
	out := make(map[int64]Snapshot, len(fixtureIDs))
	if len(fixtureIDs) == 0 {
		return out, nil
	}
	records, err := r.store.Find(ctx, Collection, storage.Where(storage.In("fixtureId", fixtureIDs)))
	if err != nil {
		return nil, fmt.Errorf("find fixtures: %w", err)
	}
	snaps, err := storage.DecodeAll[Snapshot](records)
	if err != nil {
		return nil, err
	}
	for _, snap := range snaps {
		out[snap.FixtureID] = snap
	}
	return out, nil
}

// Save implements Repository. Existing snapshots are replaced.
func (r *StoreRepository) Save(ctx context.Context, snapshots []Snapshot) error {
	if len(snapshots) == 0 {
		return nil
	}
	records := make([]storage.Record, 0, len(snapshots))
	for _, snap := range snapshots {
		body, err := storage.Encode(snap)
		if err != nil {
			return err
		}
		records = append(records, storage.Record{Key: strconv.FormatInt(snap.FixtureID, 10), Body: body})
	}
	if err := r.store.InsertMany(ctx, Collection, records); err != nil {
		return fmt.Errorf("save fixtures: %w", err)
	}
	return nil
}

var _ Repository = (*StoreRepository)(nil)
