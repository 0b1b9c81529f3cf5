package sharing

import (
	"context"

	"github.com/athledger/platform/internal/app/domain/bundle"
	"github.com/athledger/platform/internal/app/domain/transaction"
	"github.com/athledger/platform/internal/app/services/bundles"
	"github.com/athledger/platform/internal/app/services/transactions"
	"github.com/athledger/platform/internal/app/services/users"
	"github.com/athledger/platform/internal/errors"
	"github.com/athledger/platform/pkg/logger"
)

// Recorder counts workflow outcomes. Implementations must be safe for
// concurrent use; a nil Recorder disables counting.
type Recorder interface {
	ShareInitiated()
	ShareApproved(amount float64)
	ShareRevoked()
}

// Service orchestrates the share → approve/revoke workflow across users,
// transactions and bundles. Each multi-step flow compensates on partial
// failure so no step leaves orphaned state behind.
type Service struct {
	users        *users.Service
	transactions *transactions.Service
	bundles      *bundles.Service
	recorder     Recorder
	log          *logger.Logger
}

// New constructs the orchestrator. recorder may be nil.
func New(users *users.Service, transactions *transactions.Service, bundles *bundles.Service, recorder Recorder, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("sharing")
	}
	return &Service{
		users:        users,
		transactions: transactions,
		bundles:      bundles,
		recorder:     recorder,
		log:          log,
	}
}

// SharedData pairs a transaction with its bundle. Bundle is nil when the
// transaction has none, such as after a revoke.
type SharedData struct {
	Transaction transaction.Transaction `json:"transaction"`
	Bundle      *bundle.Bundle          `json:"bundle,omitempty"`
}

// ShareData opens a sharing agreement: it resolves both parties by username,
// creates a pending transaction and groups the named performances under it.
// If the bundle cannot be created, the freshly created transaction is deleted
// before the error is returned.
func (s *Service) ShareData(ctx context.Context, senderUsername, clientUsername, dataName string, amount float64, performanceIDs []string) (transaction.Transaction, bundle.Bundle, error) {
	sender, err := s.users.GetByUsername(ctx, senderUsername)
	if err != nil {
		return transaction.Transaction{}, bundle.Bundle{}, err
	}
	client, err := s.users.GetByUsername(ctx, clientUsername)
	if err != nil {
		return transaction.Transaction{}, bundle.Bundle{}, err
	}

	tx, err := s.transactions.Create(ctx, sender.UUID, client.UUID, dataName, amount)
	if err != nil {
		return transaction.Transaction{}, bundle.Bundle{}, err
	}

	b, err := s.bundles.Create(ctx, tx.ID, dataName, performanceIDs)
	if err != nil {
		if delErr := s.transactions.Delete(ctx, tx.ID); delErr != nil {
			s.log.WithError(delErr).
				WithField("transaction_id", tx.ID).
				Error("failed to delete transaction after bundle failure")
		}
		return transaction.Transaction{}, bundle.Bundle{}, err
	}

	if s.recorder != nil {
		s.recorder.ShareInitiated()
	}
	s.log.WithField("transaction_id", tx.ID).
		WithField("sender_uuid", sender.UUID).
		WithField("client_uuid", client.UUID).
		Info("share initiated")
	return tx, b, nil
}

// ApproveSharing approves a pending agreement and credits the sender's
// revenue. If the credit fails, the transaction is reverted to pending and the
// credit error returned.
func (s *Service) ApproveSharing(ctx context.Context, transactionID string) (transaction.Transaction, error) {
	tx, err := s.transactions.UpdateStatus(ctx, transactionID, transaction.StatusApproved)
	if err != nil {
		return transaction.Transaction{}, err
	}

	if _, err := s.users.AddRevenue(ctx, tx.SenderUUID, tx.Amount); err != nil {
		if _, revErr := s.transactions.Reopen(ctx, transactionID); revErr != nil {
			s.log.WithError(revErr).
				WithField("transaction_id", transactionID).
				Error("failed to reopen transaction after credit failure")
		}
		return transaction.Transaction{}, err
	}

	if s.recorder != nil {
		s.recorder.ShareApproved(tx.Amount)
	}
	s.log.WithField("transaction_id", transactionID).
		WithField("sender_uuid", tx.SenderUUID).
		WithField("amount", tx.Amount).
		Info("share approved")
	return tx, nil
}

// RevokeSharing revokes a pending agreement and deletes its bundle. A missing
// bundle is tolerated; any other deletion failure reverts the transaction to
// pending.
func (s *Service) RevokeSharing(ctx context.Context, transactionID string) (transaction.Transaction, error) {
	tx, err := s.transactions.UpdateStatus(ctx, transactionID, transaction.StatusRevoked)
	if err != nil {
		return transaction.Transaction{}, err
	}

	if err := s.bundles.DeleteByTransaction(ctx, transactionID); err != nil && !errors.IsNotFound(err) {
		if _, revErr := s.transactions.Reopen(ctx, transactionID); revErr != nil {
			s.log.WithError(revErr).
				WithField("transaction_id", transactionID).
				Error("failed to reopen transaction after bundle deletion failure")
		}
		return transaction.Transaction{}, err
	}

	if s.recorder != nil {
		s.recorder.ShareRevoked()
	}
	s.log.WithField("transaction_id", transactionID).Info("share revoked")
	return tx, nil
}

// GetUserSharedData returns every agreement involving the user, each paired
// with its bundle when one exists.
func (s *Service) GetUserSharedData(ctx context.Context, userUUID string) ([]SharedData, error) {
	if _, err := s.users.Get(ctx, userUUID); err != nil {
		return nil, err
	}

	txs, err := s.transactions.ListForUser(ctx, userUUID)
	if err != nil {
		return nil, err
	}

	result := make([]SharedData, 0, len(txs))
	for _, tx := range txs {
		entry := SharedData{Transaction: tx}
		b, err := s.bundles.GetByTransaction(ctx, tx.ID)
		switch {
		case err == nil:
			entry.Bundle = &b
		case errors.IsNotFound(err):
			// revoked agreements keep their transaction but lose the bundle
		default:
			return nil, err
		}
		result = append(result, entry)
	}
	return result, nil
}
