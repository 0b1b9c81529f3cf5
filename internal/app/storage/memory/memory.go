package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/athledger/platform/internal/app/domain/bundle"
	"github.com/athledger/platform/internal/app/domain/performance"
	"github.com/athledger/platform/internal/app/domain/transaction"
	"github.com/athledger/platform/internal/app/domain/user"
	"github.com/athledger/platform/internal/app/storage"
	"github.com/athledger/platform/internal/errors"
	"github.com/google/uuid"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local development.
type Store struct {
	mu           sync.RWMutex
	users        map[string]user.User
	usersByEmail map[string]string
	performances map[string]performance.Performance
	transactions map[string]transaction.Transaction
	bundles      map[string]bundle.Bundle
}

var _ storage.UserStore = (*Store)(nil)
var _ storage.PerformanceStore = (*Store)(nil)
var _ storage.TransactionStore = (*Store)(nil)
var _ storage.BundleStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		users:        make(map[string]user.User),
		usersByEmail: make(map[string]string),
		performances: make(map[string]performance.Performance),
		transactions: make(map[string]transaction.Transaction),
		bundles:      make(map[string]bundle.Bundle),
	}
}

// UserStore implementation -----------------------------------------------------

func (s *Store) CreateUser(_ context.Context, u user.User) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u.UUID == "" {
		u.UUID = uuid.NewString()
	} else if _, exists := s.users[u.UUID]; exists {
		return user.User{}, errors.Conflict("user %s already exists", u.UUID)
	}

	emailKey := strings.ToLower(strings.TrimSpace(u.Email))
	if existing, exists := s.usersByEmail[emailKey]; exists {
		return user.User{}, errors.Conflict("email %s already registered to user %s", u.Email, existing)
	}
	for _, other := range s.users {
		if other.Username == u.Username {
			return user.User{}, errors.Conflict("username %s already taken", u.Username)
		}
	}

	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now
	u.PublicMetrics = append([]string(nil), u.PublicMetrics...)

	s.users[u.UUID] = u
	s.usersByEmail[emailKey] = u.UUID
	return cloneUser(u), nil
}

func (s *Store) UpdateUser(_ context.Context, u user.User) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.users[u.UUID]
	if !ok {
		return user.User{}, errors.NotFound("user %s not found", u.UUID)
	}

	oldKey := strings.ToLower(strings.TrimSpace(original.Email))
	newKey := strings.ToLower(strings.TrimSpace(u.Email))
	if newKey != oldKey {
		if existing, exists := s.usersByEmail[newKey]; exists && existing != u.UUID {
			return user.User{}, errors.Conflict("email %s already registered to user %s", u.Email, existing)
		}
	}
	if u.Username != original.Username {
		for _, other := range s.users {
			if other.UUID != u.UUID && other.Username == u.Username {
				return user.User{}, errors.Conflict("username %s already taken", u.Username)
			}
		}
	}

	u.CreatedAt = original.CreatedAt
	u.UpdatedAt = time.Now().UTC()
	u.PublicMetrics = append([]string(nil), u.PublicMetrics...)

	s.users[u.UUID] = u
	if newKey != oldKey {
		delete(s.usersByEmail, oldKey)
		s.usersByEmail[newKey] = u.UUID
	}
	return cloneUser(u), nil
}

func (s *Store) GetUser(_ context.Context, id string) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return user.User{}, errors.NotFound("user %s not found", id)
	}
	return cloneUser(u), nil
}

func (s *Store) GetUserByUsername(_ context.Context, username string) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if u.Username == username {
			return cloneUser(u), nil
		}
	}
	return user.User{}, errors.NotFound("user %q not found", username)
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.usersByEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return user.User{}, errors.NotFound("user with email %s not found", email)
	}
	return cloneUser(s.users[id]), nil
}

func (s *Store) ListUsers(_ context.Context) ([]user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]user.User, 0, len(s.users))
	for _, u := range s.users {
		result = append(result, cloneUser(u))
	}
	return result, nil
}

func (s *Store) DeleteUser(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return errors.NotFound("user %s not found", id)
	}
	delete(s.users, id)
	delete(s.usersByEmail, strings.ToLower(strings.TrimSpace(u.Email)))
	return nil
}

// PerformanceStore implementation ----------------------------------------------

func (s *Store) CreatePerformance(_ context.Context, p performance.Performance) (performance.Performance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == "" {
		p.ID = uuid.NewString()
	} else if _, exists := s.performances[p.ID]; exists {
		return performance.Performance{}, errors.Conflict("performance %s already exists", p.ID)
	}

	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	s.performances[p.ID] = p
	return p, nil
}

func (s *Store) UpdatePerformance(_ context.Context, p performance.Performance) (performance.Performance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.performances[p.ID]
	if !ok {
		return performance.Performance{}, errors.NotFound("performance %s not found", p.ID)
	}

	p.CreatedAt = original.CreatedAt
	p.UpdatedAt = time.Now().UTC()

	s.performances[p.ID] = p
	return p, nil
}

func (s *Store) GetPerformance(_ context.Context, id string) (performance.Performance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.performances[id]
	if !ok {
		return performance.Performance{}, errors.NotFound("performance %s not found", id)
	}
	return p, nil
}

func (s *Store) ListPerformances(_ context.Context, athleteUUID string) ([]performance.Performance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]performance.Performance, 0)
	for _, p := range s.performances {
		if athleteUUID == "" || p.AthleteUUID == athleteUUID {
			result = append(result, p)
		}
	}
	return result, nil
}

func (s *Store) ListPublicPerformances(_ context.Context) ([]performance.Performance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]performance.Performance, 0)
	for _, p := range s.performances {
		if !p.IsPrivate {
			result = append(result, p)
		}
	}
	return result, nil
}

func (s *Store) DeletePerformance(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.performances[id]; !ok {
		return errors.NotFound("performance %s not found", id)
	}
	delete(s.performances, id)
	return nil
}

// TransactionStore implementation ----------------------------------------------

func (s *Store) CreateTransaction(_ context.Context, tx transaction.Transaction) (transaction.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.ID == "" {
		tx.ID = "TXN-" + uuid.NewString()
	} else if _, exists := s.transactions[tx.ID]; exists {
		return transaction.Transaction{}, errors.Conflict("transaction %s already exists", tx.ID)
	}

	now := time.Now().UTC()
	tx.CreatedAt = now
	tx.UpdatedAt = now

	s.transactions[tx.ID] = tx
	return tx, nil
}

func (s *Store) UpdateTransaction(_ context.Context, tx transaction.Transaction) (transaction.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.transactions[tx.ID]
	if !ok {
		return transaction.Transaction{}, errors.NotFound("transaction %s not found", tx.ID)
	}

	tx.CreatedAt = original.CreatedAt
	tx.UpdatedAt = time.Now().UTC()

	s.transactions[tx.ID] = tx
	return tx, nil
}

func (s *Store) GetTransaction(_ context.Context, id string) (transaction.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.transactions[id]
	if !ok {
		return transaction.Transaction{}, errors.NotFound("transaction %s not found", id)
	}
	return tx, nil
}

func (s *Store) ListTransactionsForUser(_ context.Context, userUUID string) ([]transaction.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]transaction.Transaction, 0)
	for _, tx := range s.transactions {
		if tx.SenderUUID == userUUID || tx.ClientUUID == userUUID {
			result = append(result, tx)
		}
	}
	return result, nil
}

func (s *Store) ListPendingTransactions(_ context.Context) ([]transaction.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]transaction.Transaction, 0)
	for _, tx := range s.transactions {
		if tx.Status == transaction.StatusPending {
			result = append(result, tx)
		}
	}
	return result, nil
}

func (s *Store) DeleteTransaction(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.transactions[id]; !ok {
		return errors.NotFound("transaction %s not found", id)
	}
	delete(s.transactions, id)
	return nil
}

// BundleStore implementation ---------------------------------------------------

func (s *Store) CreateBundle(_ context.Context, b bundle.Bundle) (bundle.Bundle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b.TransactionID == "" {
		return bundle.Bundle{}, errors.Validation("transaction_id is required")
	}
	if _, exists := s.bundles[b.TransactionID]; exists {
		return bundle.Bundle{}, errors.Conflict("bundle for transaction %s already exists", b.TransactionID)
	}

	now := time.Now().UTC()
	b.CreatedAt = now
	b.UpdatedAt = now
	b.PerformanceIDs = append([]string(nil), b.PerformanceIDs...)

	s.bundles[b.TransactionID] = b
	return cloneBundle(b), nil
}

func (s *Store) UpdateBundle(_ context.Context, b bundle.Bundle) (bundle.Bundle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.bundles[b.TransactionID]
	if !ok {
		return bundle.Bundle{}, errors.NotFound("bundle for transaction %s not found", b.TransactionID)
	}

	b.CreatedAt = original.CreatedAt
	b.UpdatedAt = time.Now().UTC()
	b.PerformanceIDs = append([]string(nil), b.PerformanceIDs...)

	s.bundles[b.TransactionID] = b
	return cloneBundle(b), nil
}

func (s *Store) GetBundleByTransaction(_ context.Context, transactionID string) (bundle.Bundle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.bundles[transactionID]
	if !ok {
		return bundle.Bundle{}, errors.NotFound("bundle for transaction %s not found", transactionID)
	}
	return cloneBundle(b), nil
}

func (s *Store) DeleteBundleByTransaction(_ context.Context, transactionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.bundles[transactionID]; !ok {
		return errors.NotFound("bundle for transaction %s not found", transactionID)
	}
	delete(s.bundles, transactionID)
	return nil
}

// Helpers ----------------------------------------------------------------------

func cloneUser(u user.User) user.User {
	u.PublicMetrics = append([]string(nil), u.PublicMetrics...)
	return u
}

func cloneBundle(b bundle.Bundle) bundle.Bundle {
	b.PerformanceIDs = append([]string(nil), b.PerformanceIDs...)
	return b
}
