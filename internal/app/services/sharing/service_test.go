package sharing

import (
	"context"
	"testing"

	"github.com/athledger/platform/internal/app/domain/performance"
	"github.com/athledger/platform/internal/app/domain/transaction"
	"github.com/athledger/platform/internal/app/domain/user"
	"github.com/athledger/platform/internal/app/services/bundles"
	"github.com/athledger/platform/internal/app/services/transactions"
	"github.com/athledger/platform/internal/app/services/users"
	"github.com/athledger/platform/internal/app/storage/memory"
	"github.com/athledger/platform/internal/errors"
)

type countingRecorder struct {
	initiated int
	approved  int
	revoked   int
	revenue   float64
}

func (r *countingRecorder) ShareInitiated()              { r.initiated++ }
func (r *countingRecorder) ShareApproved(amount float64) { r.approved++; r.revenue += amount }
func (r *countingRecorder) ShareRevoked()                { r.revoked++ }

type fixture struct {
	store    *memory.Store
	users    *users.Service
	txs      *transactions.Service
	bundles  *bundles.Service
	recorder *countingRecorder
	svc      *Service
	sender   user.User
	client   user.User
	perfIDs  []string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()

	userSvc := users.New(store, nil)
	txSvc := transactions.New(store, store, nil)
	bundleSvc := bundles.New(store, store, nil)
	recorder := &countingRecorder{}

	sender, err := store.CreateUser(context.Background(), user.User{Username: "athlete1", Email: "a@example.com", IsAthlete: true})
	if err != nil {
		t.Fatalf("create sender: %v", err)
	}
	client, err := store.CreateUser(context.Background(), user.User{Username: "client1", Email: "c@example.com"})
	if err != nil {
		t.Fatalf("create client: %v", err)
	}

	var perfIDs []string
	for i := 0; i < 2; i++ {
		p, err := store.CreatePerformance(context.Background(), performance.Performance{
			AthleteUUID: sender.UUID,
			MetricName:  "metric",
			IsPrivate:   true,
		})
		if err != nil {
			t.Fatalf("create performance: %v", err)
		}
		perfIDs = append(perfIDs, p.ID)
	}

	return &fixture{
		store:    store,
		users:    userSvc,
		txs:      txSvc,
		bundles:  bundleSvc,
		recorder: recorder,
		svc:      New(userSvc, txSvc, bundleSvc, recorder, nil),
		sender:   sender,
		client:   client,
		perfIDs:  perfIDs,
	}
}

func TestService_ShareData(t *testing.T) {
	f := newFixture(t)

	tx, b, err := f.svc.ShareData(context.Background(), "athlete1", "client1", "season stats", 25, f.perfIDs)
	if err != nil {
		t.Fatalf("share data: %v", err)
	}
	if tx.Status != transaction.StatusPending {
		t.Fatalf("expected pending transaction, got %s", tx.Status)
	}
	if b.TransactionID != tx.ID || len(b.PerformanceIDs) != 2 {
		t.Fatalf("unexpected bundle: %#v", b)
	}
	if f.recorder.initiated != 1 {
		t.Fatalf("expected 1 initiated share, got %d", f.recorder.initiated)
	}
}

func TestService_ShareDataUnknownParty(t *testing.T) {
	f := newFixture(t)

	if _, _, err := f.svc.ShareData(context.Background(), "ghost", "client1", "stats", 25, f.perfIDs); !errors.IsNotFound(err) {
		t.Fatalf("expected not found for unknown sender, got %v", err)
	}
	if _, _, err := f.svc.ShareData(context.Background(), "athlete1", "ghost", "stats", 25, f.perfIDs); !errors.IsNotFound(err) {
		t.Fatalf("expected not found for unknown client, got %v", err)
	}

	// nothing may be created when resolution fails
	txs, err := f.txs.ListForUser(context.Background(), f.sender.UUID)
	if err != nil {
		t.Fatalf("list transactions: %v", err)
	}
	if len(txs) != 0 {
		t.Fatalf("expected no transactions, got %d", len(txs))
	}
}

func TestService_ShareDataCompensatesBundleFailure(t *testing.T) {
	f := newFixture(t)

	// an unknown performance id makes the bundle step fail after the
	// transaction was created
	_, _, err := f.svc.ShareData(context.Background(), "athlete1", "client1", "stats", 25, []string{"missing"})
	if !errors.IsNotFound(err) {
		t.Fatalf("expected not found from bundle step, got %v", err)
	}

	txs, err := f.txs.ListForUser(context.Background(), f.sender.UUID)
	if err != nil {
		t.Fatalf("list transactions: %v", err)
	}
	if len(txs) != 0 {
		t.Fatalf("expected orphaned transaction deleted, got %d left", len(txs))
	}
	if f.recorder.initiated != 0 {
		t.Fatalf("failed share must not count as initiated")
	}
}

func TestService_ApproveSharing(t *testing.T) {
	f := newFixture(t)

	tx, _, err := f.svc.ShareData(context.Background(), "athlete1", "client1", "stats", 25, f.perfIDs)
	if err != nil {
		t.Fatalf("share data: %v", err)
	}

	approved, err := f.svc.ApproveSharing(context.Background(), tx.ID)
	if err != nil {
		t.Fatalf("approve sharing: %v", err)
	}
	if approved.Status != transaction.StatusApproved {
		t.Fatalf("expected approved, got %s", approved.Status)
	}

	sender, err := f.users.Get(context.Background(), f.sender.UUID)
	if err != nil {
		t.Fatalf("get sender: %v", err)
	}
	if sender.RevenueEarned != 25 {
		t.Fatalf("expected revenue 25, got %v", sender.RevenueEarned)
	}
	if f.recorder.approved != 1 || f.recorder.revenue != 25 {
		t.Fatalf("unexpected recorder state: %+v", f.recorder)
	}

	// terminal states stay frozen
	if _, err := f.svc.ApproveSharing(context.Background(), tx.ID); !errors.IsConflict(err) {
		t.Fatalf("expected conflict on double approval, got %v", err)
	}
}

func TestService_ApproveSharingCompensatesCreditFailure(t *testing.T) {
	f := newFixture(t)

	tx, _, err := f.svc.ShareData(context.Background(), "athlete1", "client1", "stats", 25, f.perfIDs)
	if err != nil {
		t.Fatalf("share data: %v", err)
	}

	// deleting the sender makes the revenue credit fail after approval
	if err := f.store.DeleteUser(context.Background(), f.sender.UUID); err != nil {
		t.Fatalf("delete sender: %v", err)
	}

	if _, err := f.svc.ApproveSharing(context.Background(), tx.ID); !errors.IsNotFound(err) {
		t.Fatalf("expected not found from credit step, got %v", err)
	}

	reverted, err := f.txs.Get(context.Background(), tx.ID)
	if err != nil {
		t.Fatalf("get transaction: %v", err)
	}
	if reverted.Status != transaction.StatusPending {
		t.Fatalf("expected transaction reverted to pending, got %s", reverted.Status)
	}
	if f.recorder.approved != 0 {
		t.Fatalf("failed approval must not count")
	}
}

func TestService_RevokeSharing(t *testing.T) {
	f := newFixture(t)

	tx, _, err := f.svc.ShareData(context.Background(), "athlete1", "client1", "stats", 25, f.perfIDs)
	if err != nil {
		t.Fatalf("share data: %v", err)
	}

	revoked, err := f.svc.RevokeSharing(context.Background(), tx.ID)
	if err != nil {
		t.Fatalf("revoke sharing: %v", err)
	}
	if revoked.Status != transaction.StatusRevoked {
		t.Fatalf("expected revoked, got %s", revoked.Status)
	}
	if _, err := f.bundles.GetByTransaction(context.Background(), tx.ID); !errors.IsNotFound(err) {
		t.Fatalf("expected bundle deleted, got %v", err)
	}
	if f.recorder.revoked != 1 {
		t.Fatalf("expected 1 revoked share, got %d", f.recorder.revoked)
	}

	if _, err := f.svc.RevokeSharing(context.Background(), tx.ID); !errors.IsConflict(err) {
		t.Fatalf("expected conflict on double revoke, got %v", err)
	}
}

func TestService_GetUserSharedData(t *testing.T) {
	f := newFixture(t)

	first, _, err := f.svc.ShareData(context.Background(), "athlete1", "client1", "sprints", 10, f.perfIDs[:1])
	if err != nil {
		t.Fatalf("share first: %v", err)
	}
	second, _, err := f.svc.ShareData(context.Background(), "athlete1", "client1", "jumps", 15, f.perfIDs[1:])
	if err != nil {
		t.Fatalf("share second: %v", err)
	}
	if _, err := f.svc.RevokeSharing(context.Background(), second.ID); err != nil {
		t.Fatalf("revoke second: %v", err)
	}

	shared, err := f.svc.GetUserSharedData(context.Background(), f.sender.UUID)
	if err != nil {
		t.Fatalf("get shared data: %v", err)
	}
	if len(shared) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(shared))
	}
	byID := map[string]SharedData{}
	for _, entry := range shared {
		byID[entry.Transaction.ID] = entry
	}
	if byID[first.ID].Bundle == nil {
		t.Fatalf("expected bundle for active share")
	}
	if byID[second.ID].Bundle != nil {
		t.Fatalf("expected no bundle for revoked share")
	}

	if _, err := f.svc.GetUserSharedData(context.Background(), "missing"); !errors.IsNotFound(err) {
		t.Fatalf("expected not found for unknown user, got %v", err)
	}
}
