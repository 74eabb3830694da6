package history

import (
	"context"
	"fmt"
	"time"

	"greenhouse-server/internal/modules/greenhouse/types"
)

// Ranger reads stored records of one device in ascending time order.
type Ranger interface {
	Range(ctx context.Context, id types.DeviceID, start, end time.Time, limit int) ([]types.StoredRecord, error)
}

type Service struct {
	store      Ranger
	displayCap int
}

func NewService(store Ranger, displayCap int) *Service {
	if displayCap <= 0 {
		displayCap = DefaultDisplayCap
	}
	return &Service{store: store, displayCap: displayCap}
}

func (s *Service) DisplayCap() int {
	return s.displayCap
}

// Query returns the device's records inside w, downsampled to the display cap.
func (s *Service) Query(ctx context.Context, id types.DeviceID, w Window) ([]types.StoredRecord, error) {
	records, err := s.store.Range(ctx, id, w.Start, w.End, w.Limit)
	if err != nil {
		return nil, fmt.Errorf("history %s: %w", id, err)
	}
	return Downsample(records, s.displayCap), nil
}
