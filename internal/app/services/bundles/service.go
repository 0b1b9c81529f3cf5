package bundles

import (
	"context"
	"strings"

	"github.com/athledger/platform/internal/app/domain/bundle"
	"github.com/athledger/platform/internal/app/storage"
	"github.com/athledger/platform/internal/errors"
	"github.com/athledger/platform/pkg/logger"
)

// Service manages grouped performances: the set of records sold under one
// transaction.
type Service struct {
	store        storage.BundleStore
	performances storage.PerformanceStore
	log          *logger.Logger
}

// New constructs a bundle service.
func New(store storage.BundleStore, performances storage.PerformanceStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("bundles")
	}
	return &Service{store: store, performances: performances, log: log}
}

// Create groups performance records under a transaction. At most one bundle
// exists per transaction; every referenced record must exist.
func (s *Service) Create(ctx context.Context, transactionID, dataName string, performanceIDs []string) (bundle.Bundle, error) {
	transactionID = strings.TrimSpace(transactionID)
	dataName = strings.TrimSpace(dataName)

	if transactionID == "" {
		return bundle.Bundle{}, errors.Validation("transaction_id is required")
	}
	if dataName == "" {
		return bundle.Bundle{}, errors.Validation("data_name is required")
	}

	ids := make([]string, 0, len(performanceIDs))
	for _, id := range performanceIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, err := s.performances.GetPerformance(ctx, id); err != nil {
			return bundle.Bundle{}, err
		}
		ids = append(ids, id)
	}

	created, err := s.store.CreateBundle(ctx, bundle.Bundle{
		TransactionID:  transactionID,
		DataName:       dataName,
		PerformanceIDs: ids,
	})
	if err != nil {
		return bundle.Bundle{}, err
	}
	s.log.WithField("transaction_id", transactionID).
		WithField("count", len(ids)).
		Info("bundle created")
	return created, nil
}

// GetByTransaction retrieves the bundle sold under a transaction.
func (s *Service) GetByTransaction(ctx context.Context, transactionID string) (bundle.Bundle, error) {
	return s.store.GetBundleByTransaction(ctx, transactionID)
}

// AddPerformance appends a record to a bundle. Adding a record that is already
// grouped is a conflict.
func (s *Service) AddPerformance(ctx context.Context, transactionID, performanceID string) (bundle.Bundle, error) {
	performanceID = strings.TrimSpace(performanceID)
	if performanceID == "" {
		return bundle.Bundle{}, errors.Validation("performance_id is required")
	}

	b, err := s.store.GetBundleByTransaction(ctx, transactionID)
	if err != nil {
		return bundle.Bundle{}, err
	}
	if b.HasPerformance(performanceID) {
		return bundle.Bundle{}, errors.Conflict("performance %s is already in bundle %s", performanceID, transactionID)
	}
	if _, err := s.performances.GetPerformance(ctx, performanceID); err != nil {
		return bundle.Bundle{}, err
	}

	b.PerformanceIDs = append(b.PerformanceIDs, performanceID)
	updated, err := s.store.UpdateBundle(ctx, b)
	if err != nil {
		return bundle.Bundle{}, err
	}
	s.log.WithField("transaction_id", transactionID).
		WithField("performance_id", performanceID).
		Info("performance added to bundle")
	return updated, nil
}

// RemovePerformance drops a record from a bundle. Removing an id that is not
// grouped is a no-op.
func (s *Service) RemovePerformance(ctx context.Context, transactionID, performanceID string) (bundle.Bundle, error) {
	b, err := s.store.GetBundleByTransaction(ctx, transactionID)
	if err != nil {
		return bundle.Bundle{}, err
	}
	if !b.HasPerformance(performanceID) {
		return b, nil
	}

	kept := make([]string, 0, len(b.PerformanceIDs)-1)
	for _, id := range b.PerformanceIDs {
		if id != performanceID {
			kept = append(kept, id)
		}
	}
	b.PerformanceIDs = kept

	updated, err := s.store.UpdateBundle(ctx, b)
	if err != nil {
		return bundle.Bundle{}, err
	}
	s.log.WithField("transaction_id", transactionID).
		WithField("performance_id", performanceID).
		Info("performance removed from bundle")
	return updated, nil
}

// DeleteByTransaction removes a transaction's bundle.
func (s *Service) DeleteByTransaction(ctx context.Context, transactionID string) error {
	if err := s.store.DeleteBundleByTransaction(ctx, transactionID); err != nil {
		return err
	}
	s.log.WithField("transaction_id", transactionID).Info("bundle deleted")
	return nil
}
