package transactions

import (
	"context"
	"strings"

	"github.com/athledger/platform/internal/app/domain/transaction"
	"github.com/athledger/platform/internal/app/storage"
	"github.com/athledger/platform/internal/errors"
	"github.com/athledger/platform/pkg/logger"
)

// Service manages sharing agreements between athletes and clients.
type Service struct {
	users storage.UserStore
	store storage.TransactionStore
	log   *logger.Logger
}

// New constructs a transaction service.
func New(users storage.UserStore, store storage.TransactionStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("transactions")
	}
	return &Service{users: users, store: store, log: log}
}

// Create opens a pending agreement between a sender (athlete) and a client.
func (s *Service) Create(ctx context.Context, senderUUID, clientUUID, dataName string, amount float64) (transaction.Transaction, error) {
	senderUUID = strings.TrimSpace(senderUUID)
	clientUUID = strings.TrimSpace(clientUUID)
	dataName = strings.TrimSpace(dataName)

	if senderUUID == "" || clientUUID == "" {
		return transaction.Transaction{}, errors.Validation("sender_uuid and client_uuid are required")
	}
	if dataName == "" {
		return transaction.Transaction{}, errors.Validation("data_name is required")
	}
	if amount <= 0 {
		return transaction.Transaction{}, errors.Validation("amount must be positive")
	}

	if _, err := s.users.GetUser(ctx, senderUUID); err != nil {
		return transaction.Transaction{}, err
	}
	if _, err := s.users.GetUser(ctx, clientUUID); err != nil {
		return transaction.Transaction{}, err
	}

	tx := transaction.Transaction{
		SenderUUID: senderUUID,
		ClientUUID: clientUUID,
		Status:     transaction.StatusPending,
		Amount:     amount,
		DataName:   dataName,
	}
	created, err := s.store.CreateTransaction(ctx, tx)
	if err != nil {
		return transaction.Transaction{}, err
	}
	s.log.WithField("transaction_id", created.ID).
		WithField("sender_uuid", senderUUID).
		WithField("client_uuid", clientUUID).
		WithField("amount", amount).
		Info("transaction created")
	return created, nil
}

// UpdateStatus advances an agreement. Only pending transactions may move, and
// only to approved or revoked; approved and revoked are terminal.
func (s *Service) UpdateStatus(ctx context.Context, id string, next transaction.Status) (transaction.Transaction, error) {
	if !next.Valid() {
		return transaction.Transaction{}, errors.Validation("unknown status %q", next)
	}
	if next == transaction.StatusPending {
		return transaction.Transaction{}, errors.Validation("cannot transition back to pending")
	}

	tx, err := s.store.GetTransaction(ctx, id)
	if err != nil {
		return transaction.Transaction{}, err
	}
	if !tx.CanUpdate() {
		return transaction.Transaction{}, errors.Conflict("transaction %s is %s and can no longer change", id, tx.Status)
	}

	tx.Status = next
	updated, err := s.store.UpdateTransaction(ctx, tx)
	if err != nil {
		return transaction.Transaction{}, err
	}
	s.log.WithField("transaction_id", id).
		WithField("status", string(next)).
		Info("transaction status changed")
	return updated, nil
}

// Reopen forces an agreement back to pending. It bypasses the state machine
// and exists only as the compensation path for the sharing workflow.
func (s *Service) Reopen(ctx context.Context, id string) (transaction.Transaction, error) {
	tx, err := s.store.GetTransaction(ctx, id)
	if err != nil {
		return transaction.Transaction{}, err
	}
	if tx.Status == transaction.StatusPending {
		return tx, nil
	}

	tx.Status = transaction.StatusPending
	updated, err := s.store.UpdateTransaction(ctx, tx)
	if err != nil {
		return transaction.Transaction{}, err
	}
	s.log.WithField("transaction_id", id).Warn("transaction reopened by compensation")
	return updated, nil
}

// Get retrieves an agreement by id.
func (s *Service) Get(ctx context.Context, id string) (transaction.Transaction, error) {
	return s.store.GetTransaction(ctx, id)
}

// ListForUser returns agreements where the user is sender or client.
func (s *Service) ListForUser(ctx context.Context, userUUID string) ([]transaction.Transaction, error) {
	return s.store.ListTransactionsForUser(ctx, userUUID)
}

// ListPending returns all open agreements.
func (s *Service) ListPending(ctx context.Context) ([]transaction.Transaction, error) {
	return s.store.ListPendingTransactions(ctx)
}

// Delete removes an agreement outright.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteTransaction(ctx, id); err != nil {
		return err
	}
	s.log.WithField("transaction_id", id).Info("transaction deleted")
	return nil
}
