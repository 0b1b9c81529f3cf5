package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/athledger/platform/internal/app/domain/bundle"
	"github.com/athledger/platform/internal/app/domain/performance"
	"github.com/athledger/platform/internal/app/domain/transaction"
	"github.com/athledger/platform/internal/app/domain/user"
	"github.com/athledger/platform/internal/app/storage"
	"github.com/athledger/platform/internal/errors"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ storage.UserStore = (*Store)(nil)
var _ storage.PerformanceStore = (*Store)(nil)
var _ storage.TransactionStore = (*Store)(nil)
var _ storage.BundleStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// translate maps driver errors to the shared taxonomy. Postgres error codes
// replace the message-substring checks the service previously relied on.
func translate(err error, notFound string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, sql.ErrNoRows) {
		return errors.NotFound(notFound, args...)
	}
	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505": // unique_violation
			return errors.Conflict("duplicate key: %s", pqErr.Constraint)
		case "23514": // check_violation
			return errors.Validation("constraint violated: %s", pqErr.Constraint)
		}
	}
	return errors.Internal("database error", err)
}

// --- UserStore ---------------------------------------------------------------

func (s *Store) CreateUser(ctx context.Context, u user.User) (user.User, error) {
	if u.UUID == "" {
		u.UUID = uuid.NewString()
	}
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	metricsJSON, err := json.Marshal(u.PublicMetrics)
	if err != nil {
		return user.User{}, errors.Internal("marshal public metrics", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO athledger_users (uuid, username, email, wallet_id, is_athlete, revenue_earned, public_metrics, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, u.UUID, u.Username, u.Email, u.WalletID, u.IsAthlete, u.RevenueEarned, metricsJSON, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return user.User{}, translate(err, "user %s not found", u.UUID)
	}
	return u, nil
}

func (s *Store) UpdateUser(ctx context.Context, u user.User) (user.User, error) {
	existing, err := s.GetUser(ctx, u.UUID)
	if err != nil {
		return user.User{}, err
	}

	u.CreatedAt = existing.CreatedAt
	u.UpdatedAt = time.Now().UTC()

	metricsJSON, err := json.Marshal(u.PublicMetrics)
	if err != nil {
		return user.User{}, errors.Internal("marshal public metrics", err)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE athledger_users
		SET username = $2, email = $3, wallet_id = $4, is_athlete = $5, revenue_earned = $6, public_metrics = $7, updated_at = $8
		WHERE uuid = $1
	`, u.UUID, u.Username, u.Email, u.WalletID, u.IsAthlete, u.RevenueEarned, metricsJSON, u.UpdatedAt)
	if err != nil {
		return user.User{}, translate(err, "user %s not found", u.UUID)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return user.User{}, errors.NotFound("user %s not found", u.UUID)
	}
	return u, nil
}

const userColumns = `uuid, username, email, wallet_id, is_athlete, revenue_earned, public_metrics, created_at, updated_at`

func (s *Store) scanUser(row interface{ Scan(...interface{}) error }) (user.User, error) {
	var (
		u          user.User
		metricsRaw []byte
	)
	if err := row.Scan(&u.UUID, &u.Username, &u.Email, &u.WalletID, &u.IsAthlete, &u.RevenueEarned, &metricsRaw, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return user.User{}, err
	}
	if len(metricsRaw) > 0 {
		_ = json.Unmarshal(metricsRaw, &u.PublicMetrics)
	}
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (user.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM athledger_users
		WHERE uuid = $1
	`, id)

	u, err := s.scanUser(row)
	if err != nil {
		return user.User{}, translate(err, "user %s not found", id)
	}
	return u, nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (user.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM athledger_users
		WHERE username = $1
	`, username)

	u, err := s.scanUser(row)
	if err != nil {
		return user.User{}, translate(err, "user %q not found", username)
	}
	return u, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (user.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM athledger_users
		WHERE email = lower($1)
	`, email)

	u, err := s.scanUser(row)
	if err != nil {
		return user.User{}, translate(err, "user with email %s not found", email)
	}
	return u, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]user.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+userColumns+`
		FROM athledger_users
		ORDER BY created_at
	`)
	if err != nil {
		return nil, translate(err, "users not found")
	}
	defer rows.Close()

	var result []user.User
	for rows.Next() {
		u, err := s.scanUser(rows)
		if err != nil {
			return nil, errors.Internal("scan user", err)
		}
		result = append(result, u)
	}
	return result, rows.Err()
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM athledger_users WHERE uuid = $1
	`, id)
	if err != nil {
		return translate(err, "user %s not found", id)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return errors.NotFound("user %s not found", id)
	}
	return nil
}

// --- PerformanceStore --------------------------------------------------------

func (s *Store) CreatePerformance(ctx context.Context, p performance.Performance) (performance.Performance, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO athledger_performances (id, athlete_uuid, metric_name, is_private, blockchain_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, p.ID, p.AthleteUUID, p.MetricName, p.IsPrivate, p.BlockchainHash, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return performance.Performance{}, translate(err, "performance %s not found", p.ID)
	}
	return p, nil
}

func (s *Store) UpdatePerformance(ctx context.Context, p performance.Performance) (performance.Performance, error) {
	existing, err := s.GetPerformance(ctx, p.ID)
	if err != nil {
		return performance.Performance{}, err
	}

	p.AthleteUUID = existing.AthleteUUID
	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE athledger_performances
		SET metric_name = $2, is_private = $3, blockchain_hash = $4, updated_at = $5
		WHERE id = $1
	`, p.ID, p.MetricName, p.IsPrivate, p.BlockchainHash, p.UpdatedAt)
	if err != nil {
		return performance.Performance{}, translate(err, "performance %s not found", p.ID)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return performance.Performance{}, errors.NotFound("performance %s not found", p.ID)
	}
	return p, nil
}

const performanceColumns = `id, athlete_uuid, metric_name, is_private, blockchain_hash, created_at, updated_at`

func scanPerformance(row interface{ Scan(...interface{}) error }) (performance.Performance, error) {
	var p performance.Performance
	err := row.Scan(&p.ID, &p.AthleteUUID, &p.MetricName, &p.IsPrivate, &p.BlockchainHash, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (s *Store) GetPerformance(ctx context.Context, id string) (performance.Performance, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+performanceColumns+`
		FROM athledger_performances
		WHERE id = $1
	`, id)

	p, err := scanPerformance(row)
	if err != nil {
		return performance.Performance{}, translate(err, "performance %s not found", id)
	}
	return p, nil
}

func (s *Store) ListPerformances(ctx context.Context, athleteUUID string) ([]performance.Performance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+performanceColumns+`
		FROM athledger_performances
		WHERE $1 = '' OR athlete_uuid = $1
		ORDER BY created_at
	`, athleteUUID)
	if err != nil {
		return nil, translate(err, "performances not found")
	}
	defer rows.Close()

	var result []performance.Performance
	for rows.Next() {
		p, err := scanPerformance(rows)
		if err != nil {
			return nil, errors.Internal("scan performance", err)
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func (s *Store) ListPublicPerformances(ctx context.Context) ([]performance.Performance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+performanceColumns+`
		FROM athledger_performances
		WHERE NOT is_private
		ORDER BY created_at
	`)
	if err != nil {
		return nil, translate(err, "performances not found")
	}
	defer rows.Close()

	var result []performance.Performance
	for rows.Next() {
		p, err := scanPerformance(rows)
		if err != nil {
			return nil, errors.Internal("scan performance", err)
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func (s *Store) DeletePerformance(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM athledger_performances WHERE id = $1
	`, id)
	if err != nil {
		return translate(err, "performance %s not found", id)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return errors.NotFound("performance %s not found", id)
	}
	return nil
}

// --- TransactionStore --------------------------------------------------------

func (s *Store) CreateTransaction(ctx context.Context, tx transaction.Transaction) (transaction.Transaction, error) {
	if tx.ID == "" {
		tx.ID = "TXN-" + uuid.NewString()
	}
	now := time.Now().UTC()
	tx.CreatedAt = now
	tx.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO athledger_transactions (id, sender_uuid, client_uuid, status, amount, data_name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, tx.ID, tx.SenderUUID, tx.ClientUUID, string(tx.Status), tx.Amount, tx.DataName, tx.CreatedAt, tx.UpdatedAt)
	if err != nil {
		return transaction.Transaction{}, translate(err, "transaction %s not found", tx.ID)
	}
	return tx, nil
}

func (s *Store) UpdateTransaction(ctx context.Context, tx transaction.Transaction) (transaction.Transaction, error) {
	existing, err := s.GetTransaction(ctx, tx.ID)
	if err != nil {
		return transaction.Transaction{}, err
	}

	tx.CreatedAt = existing.CreatedAt
	tx.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE athledger_transactions
		SET sender_uuid = $2, client_uuid = $3, status = $4, amount = $5, data_name = $6, updated_at = $7
		WHERE id = $1
	`, tx.ID, tx.SenderUUID, tx.ClientUUID, string(tx.Status), tx.Amount, tx.DataName, tx.UpdatedAt)
	if err != nil {
		return transaction.Transaction{}, translate(err, "transaction %s not found", tx.ID)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return transaction.Transaction{}, errors.NotFound("transaction %s not found", tx.ID)
	}
	return tx, nil
}

const transactionColumns = `id, sender_uuid, client_uuid, status, amount, data_name, created_at, updated_at`

func scanTransaction(row interface{ Scan(...interface{}) error }) (transaction.Transaction, error) {
	var (
		tx     transaction.Transaction
		status string
	)
	if err := row.Scan(&tx.ID, &tx.SenderUUID, &tx.ClientUUID, &status, &tx.Amount, &tx.DataName, &tx.CreatedAt, &tx.UpdatedAt); err != nil {
		return transaction.Transaction{}, err
	}
	tx.Status = transaction.Status(status)
	return tx, nil
}

func (s *Store) GetTransaction(ctx context.Context, id string) (transaction.Transaction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+transactionColumns+`
		FROM athledger_transactions
		WHERE id = $1
	`, id)

	tx, err := scanTransaction(row)
	if err != nil {
		return transaction.Transaction{}, translate(err, "transaction %s not found", id)
	}
	return tx, nil
}

func (s *Store) ListTransactionsForUser(ctx context.Context, userUUID string) ([]transaction.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM athledger_transactions
		WHERE sender_uuid = $1 OR client_uuid = $1
		ORDER BY created_at
	`, userUUID)
	if err != nil {
		return nil, translate(err, "transactions not found")
	}
	defer rows.Close()

	var result []transaction.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, errors.Internal("scan transaction", err)
		}
		result = append(result, tx)
	}
	return result, rows.Err()
}

func (s *Store) ListPendingTransactions(ctx context.Context) ([]transaction.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM athledger_transactions
		WHERE status = $1
		ORDER BY created_at
	`, string(transaction.StatusPending))
	if err != nil {
		return nil, translate(err, "transactions not found")
	}
	defer rows.Close()

	var result []transaction.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, errors.Internal("scan transaction", err)
		}
		result = append(result, tx)
	}
	return result, rows.Err()
}

func (s *Store) DeleteTransaction(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM athledger_transactions WHERE id = $1
	`, id)
	if err != nil {
		return translate(err, "transaction %s not found", id)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return errors.NotFound("transaction %s not found", id)
	}
	return nil
}

// --- BundleStore -------------------------------------------------------------

func (s *Store) CreateBundle(ctx context.Context, b bundle.Bundle) (bundle.Bundle, error) {
	if b.TransactionID == "" {
		return bundle.Bundle{}, errors.Validation("transaction_id is required")
	}
	now := time.Now().UTC()
	b.CreatedAt = now
	b.UpdatedAt = now

	idsJSON, err := json.Marshal(b.PerformanceIDs)
	if err != nil {
		return bundle.Bundle{}, errors.Internal("marshal performance ids", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO athledger_bundles (transaction_id, data_name, performance_ids, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`, b.TransactionID, b.DataName, idsJSON, b.CreatedAt, b.UpdatedAt)
	if err != nil {
		return bundle.Bundle{}, translate(err, "bundle for transaction %s not found", b.TransactionID)
	}
	return b, nil
}

func (s *Store) UpdateBundle(ctx context.Context, b bundle.Bundle) (bundle.Bundle, error) {
	existing, err := s.GetBundleByTransaction(ctx, b.TransactionID)
	if err != nil {
		return bundle.Bundle{}, err
	}

	b.CreatedAt = existing.CreatedAt
	b.UpdatedAt = time.Now().UTC()

	idsJSON, err := json.Marshal(b.PerformanceIDs)
	if err != nil {
		return bundle.Bundle{}, errors.Internal("marshal performance ids", err)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE athledger_bundles
		SET data_name = $2, performance_ids = $3, updated_at = $4
		WHERE transaction_id = $1
	`, b.TransactionID, b.DataName, idsJSON, b.UpdatedAt)
	if err != nil {
		return bundle.Bundle{}, translate(err, "bundle for transaction %s not found", b.TransactionID)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return bundle.Bundle{}, errors.NotFound("bundle for transaction %s not found", b.TransactionID)
	}
	return b, nil
}

func (s *Store) GetBundleByTransaction(ctx context.Context, transactionID string) (bundle.Bundle, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT transaction_id, data_name, performance_ids, created_at, updated_at
		FROM athledger_bundles
		WHERE transaction_id = $1
	`, transactionID)

	var (
		b      bundle.Bundle
		idsRaw []byte
	)
	if err := row.Scan(&b.TransactionID, &b.DataName, &idsRaw, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return bundle.Bundle{}, translate(err, "bundle for transaction %s not found", transactionID)
	}
	if len(idsRaw) > 0 {
		_ = json.Unmarshal(idsRaw, &b.PerformanceIDs)
	}
	return b, nil
}

func (s *Store) DeleteBundleByTransaction(ctx context.Context, transactionID string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM athledger_bundles WHERE transaction_id = $1
	`, transactionID)
	if err != nil {
		return translate(err, "bundle for transaction %s not found", transactionID)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return errors.NotFound("bundle for transaction %s not found", transactionID)
	}
	return nil
}
