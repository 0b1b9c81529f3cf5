package storage

import (
	"context"

	"github.com/athledger/platform/internal/app/domain/bundle"
	"github.com/athledger/platform/internal/app/domain/performance"
	"github.com/athledger/platform/internal/app/domain/transaction"
	"github.com/athledger/platform/internal/app/domain/user"
)

// UserStore persists directory entries.
type UserStore interface {
	CreateUser(ctx context.Context, u user.User) (user.User, error)
	UpdateUser(ctx context.Context, u user.User) (user.User, error)
	GetUser(ctx context.Context, uuid string) (user.User, error)
	GetUserByUsername(ctx context.Context, username string) (user.User, error)
	GetUserByEmail(ctx context.Context, email string) (user.User, error)
	ListUsers(ctx context.Context) ([]user.User, error)
	DeleteUser(ctx context.Context, uuid string) error
}

// PerformanceStore persists athlete metric records.
type PerformanceStore interface {
	CreatePerformance(ctx context.Context, p performance.Performance) (performance.Performance, error)
	UpdatePerformance(ctx context.Context, p performance.Performance) (performance.Performance, error)
	GetPerformance(ctx context.Context, id string) (performance.Performance, error)
	ListPerformances(ctx context.Context, athleteUUID string) ([]performance.Performance, error)
	ListPublicPerformances(ctx context.Context) ([]performance.Performance, error)
	DeletePerformance(ctx context.Context, id string) error
}

// TransactionStore persists sharing agreements.
type TransactionStore interface {
	CreateTransaction(ctx context.Context, tx transaction.Transaction) (transaction.Transaction, error)
	UpdateTransaction(ctx context.Context, tx transaction.Transaction) (transaction.Transaction, error)
	GetTransaction(ctx context.Context, id string) (transaction.Transaction, error)
	ListTransactionsForUser(ctx context.Context, userUUID string) ([]transaction.Transaction, error)
	ListPendingTransactions(ctx context.Context) ([]transaction.Transaction, error)
	DeleteTransaction(ctx context.Context, id string) error
}

// BundleStore persists grouped performances, keyed by transaction id.
type BundleStore interface {
	CreateBundle(ctx context.Context, b bundle.Bundle) (bundle.Bundle, error)
	UpdateBundle(ctx context.Context, b bundle.Bundle) (bundle.Bundle, error)
	GetBundleByTransaction(ctx context.Context, transactionID string) (bundle.Bundle, error)
	DeleteBundleByTransaction(ctx context.Context, transactionID string) error
}
