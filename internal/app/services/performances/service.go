package performances

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/athledger/platform/internal/app/domain/performance"
	"github.com/athledger/platform/internal/app/storage"
	"github.com/athledger/platform/internal/errors"
	"github.com/athledger/platform/pkg/logger"
)

// Anchorer records a metric payload on an external content store and chain,
// returning the resulting hash.
type Anchorer interface {
	Anchor(ctx context.Context, athleteUUID, metricName string) (string, error)
}

// Service manages athlete performance records.
type Service struct {
	users    storage.UserStore
	store    storage.PerformanceStore
	anchorer Anchorer
	log      *logger.Logger
}

// New constructs a performance service. The anchorer is optional; without one
// records carry whatever hash the caller supplied.
func New(users storage.UserStore, store storage.PerformanceStore, anchorer Anchorer, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("performances")
	}
	return &Service{users: users, store: store, anchorer: anchorer, log: log}
}

// Create records a metric for an athlete. Records default to private. When no
// hash is supplied and an anchorer is configured, the payload is anchored
// best-effort; anchoring failure does not block the record.
func (s *Service) Create(ctx context.Context, athleteUUID, metricName, blockchainHash string, isPrivate *bool) (performance.Performance, error) {
	athleteUUID = strings.TrimSpace(athleteUUID)
	metricName = strings.TrimSpace(metricName)
	blockchainHash = strings.TrimSpace(blockchainHash)

	if athleteUUID == "" {
		return performance.Performance{}, errors.Validation("athlete_uuid is required")
	}
	if metricName == "" {
		return performance.Performance{}, errors.Validation("metric_name is required")
	}

	u, err := s.users.GetUser(ctx, athleteUUID)
	if err != nil {
		return performance.Performance{}, err
	}
	if !u.IsAthlete {
		return performance.Performance{}, errors.Validation("user %s is not an athlete", athleteUUID)
	}

	private := true
	if isPrivate != nil {
		private = *isPrivate
	}

	if blockchainHash == "" && s.anchorer != nil {
		hash, err := s.anchorer.Anchor(ctx, athleteUUID, metricName)
		if err != nil {
			s.log.WithError(err).
				WithField("athlete_uuid", athleteUUID).
				WithField("metric_name", metricName).
				Warn("anchoring failed, recording without hash")
		} else {
			blockchainHash = hash
		}
	}

	p := performance.Performance{
		AthleteUUID:    athleteUUID,
		MetricName:     metricName,
		IsPrivate:      private,
		BlockchainHash: blockchainHash,
	}
	created, err := s.store.CreatePerformance(ctx, p)
	if err != nil {
		return performance.Performance{}, err
	}
	s.log.WithField("performance_id", created.ID).
		WithField("athlete_uuid", athleteUUID).
		WithField("metric_name", metricName).
		Info("performance recorded")
	return created, nil
}

// Update changes mutable fields on a record. The owning athlete is immutable.
func (s *Service) Update(ctx context.Context, id string, metricName, blockchainHash *string) (performance.Performance, error) {
	p, err := s.store.GetPerformance(ctx, id)
	if err != nil {
		return performance.Performance{}, err
	}

	if metricName != nil {
		trimmed := strings.TrimSpace(*metricName)
		if trimmed == "" {
			return performance.Performance{}, errors.Validation("metric_name cannot be empty")
		}
		p.MetricName = trimmed
	}
	if blockchainHash != nil {
		p.BlockchainHash = strings.TrimSpace(*blockchainHash)
	}

	updated, err := s.store.UpdatePerformance(ctx, p)
	if err != nil {
		return performance.Performance{}, err
	}
	s.log.WithField("performance_id", id).Info("performance updated")
	return updated, nil
}

// TogglePrivacy flips the privacy flag. Concurrent toggles resolve to the last
// write.
func (s *Service) TogglePrivacy(ctx context.Context, id string) (performance.Performance, error) {
	p, err := s.store.GetPerformance(ctx, id)
	if err != nil {
		return performance.Performance{}, err
	}
	p.IsPrivate = !p.IsPrivate

	updated, err := s.store.UpdatePerformance(ctx, p)
	if err != nil {
		return performance.Performance{}, err
	}
	s.log.WithField("performance_id", id).
		WithField("is_private", updated.IsPrivate).
		Info("performance privacy toggled")
	return updated, nil
}

// Get retrieves a record by id.
func (s *Service) Get(ctx context.Context, id string) (performance.Performance, error) {
	return s.store.GetPerformance(ctx, id)
}

// ListForAthlete returns an athlete's records.
func (s *Service) ListForAthlete(ctx context.Context, athleteUUID string) ([]performance.Performance, error) {
	return s.store.ListPerformances(ctx, athleteUUID)
}

// ListPublic returns all records visible on the marketplace.
func (s *Service) ListPublic(ctx context.Context) ([]performance.Performance, error) {
	return s.store.ListPublicPerformances(ctx)
}

// Delete removes a record.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.DeletePerformance(ctx, id); err != nil {
		return err
	}
	s.log.WithField("performance_id", id).Info("performance deleted")
	return nil
}

// csvHeader is the required first row of an import file.
var csvHeader = []string{"metric_name", "value", "recorded_at"}

// ImportCSV bulk-records metrics for an athlete. The file must start with the
// header `metric_name,value,recorded_at`; each following row becomes one
// record. The whole file is validated before anything is written, so a bad row
// aborts the import without partial state. Imported rows are not anchored.
func (s *Service) ImportCSV(ctx context.Context, athleteUUID string, r io.Reader) ([]performance.Performance, error) {
	athleteUUID = strings.TrimSpace(athleteUUID)
	if athleteUUID == "" {
		return nil, errors.Validation("athlete_uuid is required")
	}
	u, err := s.users.GetUser(ctx, athleteUUID)
	if err != nil {
		return nil, err
	}
	if !u.IsAthlete {
		return nil, errors.Validation("user %s is not an athlete", athleteUUID)
	}

	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, errors.Validation("csv file is empty or unreadable")
	}
	if len(header) != len(csvHeader) {
		return nil, errors.Validation("csv header must be %q", strings.Join(csvHeader, ","))
	}
	for i, col := range header {
		if !strings.EqualFold(strings.TrimSpace(col), csvHeader[i]) {
			return nil, errors.Validation("csv header must be %q", strings.Join(csvHeader, ","))
		}
	}

	var pending []performance.Performance
	for line := 2; ; line++ {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Validation("csv row %d is malformed", line)
		}

		name := strings.TrimSpace(row[0])
		if name == "" {
			return nil, errors.Validation("csv row %d: metric_name is required", line)
		}
		if _, err := strconv.ParseFloat(strings.TrimSpace(row[1]), 64); err != nil {
			return nil, errors.Validation("csv row %d: value must be numeric", line)
		}
		if recorded := strings.TrimSpace(row[2]); recorded != "" {
			if _, err := time.Parse(time.RFC3339, recorded); err != nil {
				return nil, errors.Validation("csv row %d: recorded_at must be RFC 3339", line)
			}
		}

		pending = append(pending, performance.Performance{
			AthleteUUID: athleteUUID,
			MetricName:  name,
			IsPrivate:   true,
		})
	}
	if len(pending) == 0 {
		return nil, errors.Validation("csv file contains no rows")
	}

	created := make([]performance.Performance, 0, len(pending))
	for _, p := range pending {
		rec, err := s.store.CreatePerformance(ctx, p)
		if err != nil {
			return nil, err
		}
		created = append(created, rec)
	}

	s.log.WithField("athlete_uuid", athleteUUID).
		WithField("count", len(created)).
		Info("performances imported")
	return created, nil
}
