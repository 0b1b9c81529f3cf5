package users

import (
	"context"
	"strings"

	"github.com/athledger/platform/internal/app/domain/user"
	"github.com/athledger/platform/internal/app/storage"
	"github.com/athledger/platform/internal/errors"
	"github.com/athledger/platform/pkg/logger"
)

// Service manages the user directory: athletes and data-buying clients.
type Service struct {
	store storage.UserStore
	log   *logger.Logger
}

// New constructs a user service.
func New(store storage.UserStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("users")
	}
	return &Service{store: store, log: log}
}

// Create registers a directory entry. The UUID may be supplied by an external
// identity provider; when empty the store generates one.
func (s *Service) Create(ctx context.Context, u user.User) (user.User, error) {
	if err := normalize(&u); err != nil {
		return user.User{}, err
	}
	if u.RevenueEarned < 0 {
		return user.User{}, errors.Validation("revenue_earned cannot be negative")
	}

	created, err := s.store.CreateUser(ctx, u)
	if err != nil {
		return user.User{}, err
	}
	s.log.WithField("user_uuid", created.UUID).
		WithField("username", created.Username).
		WithField("is_athlete", created.IsAthlete).
		Info("user created")
	return created, nil
}

// Update replaces mutable fields. The UUID is immutable and revenue can never
// go negative.
func (s *Service) Update(ctx context.Context, u user.User) (user.User, error) {
	if strings.TrimSpace(u.UUID) == "" {
		return user.User{}, errors.Validation("uuid is required")
	}
	if err := normalize(&u); err != nil {
		return user.User{}, err
	}
	if u.RevenueEarned < 0 {
		return user.User{}, errors.Validation("revenue_earned cannot be negative")
	}

	updated, err := s.store.UpdateUser(ctx, u)
	if err != nil {
		return user.User{}, err
	}
	s.log.WithField("user_uuid", updated.UUID).Info("user updated")
	return updated, nil
}

// Get retrieves a user by UUID.
func (s *Service) Get(ctx context.Context, uuid string) (user.User, error) {
	return s.store.GetUser(ctx, uuid)
}

// GetByUsername retrieves a user by exact username.
func (s *Service) GetByUsername(ctx context.Context, username string) (user.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return user.User{}, errors.Validation("username is required")
	}
	return s.store.GetUserByUsername(ctx, username)
}

// GetByEmail retrieves a user by email, case-insensitively.
func (s *Service) GetByEmail(ctx context.Context, email string) (user.User, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return user.User{}, errors.Validation("email is required")
	}
	return s.store.GetUserByEmail(ctx, email)
}

// List returns all directory entries.
func (s *Service) List(ctx context.Context) ([]user.User, error) {
	return s.store.ListUsers(ctx)
}

// Delete removes a user.
func (s *Service) Delete(ctx context.Context, uuid string) error {
	if err := s.store.DeleteUser(ctx, uuid); err != nil {
		return err
	}
	s.log.WithField("user_uuid", uuid).Info("user deleted")
	return nil
}

// AddRevenue credits earnings onto a user's running total.
func (s *Service) AddRevenue(ctx context.Context, uuid string, amount float64) (user.User, error) {
	if amount <= 0 {
		return user.User{}, errors.Validation("amount must be positive")
	}

	u, err := s.store.GetUser(ctx, uuid)
	if err != nil {
		return user.User{}, err
	}
	u.RevenueEarned += amount

	updated, err := s.store.UpdateUser(ctx, u)
	if err != nil {
		return user.User{}, err
	}
	s.log.WithField("user_uuid", uuid).
		WithField("amount", amount).
		WithField("revenue_earned", updated.RevenueEarned).
		Info("revenue credited")
	return updated, nil
}

// AddPublicMetric publishes a performance id on the user's public profile.
func (s *Service) AddPublicMetric(ctx context.Context, uuid, performanceID string) (user.User, error) {
	performanceID = strings.TrimSpace(performanceID)
	if performanceID == "" {
		return user.User{}, errors.Validation("performance_id is required")
	}

	u, err := s.store.GetUser(ctx, uuid)
	if err != nil {
		return user.User{}, err
	}
	if u.HasPublicMetric(performanceID) {
		return user.User{}, errors.Conflict("performance %s is already public for user %s", performanceID, uuid)
	}
	u.PublicMetrics = append(u.PublicMetrics, performanceID)

	updated, err := s.store.UpdateUser(ctx, u)
	if err != nil {
		return user.User{}, err
	}
	s.log.WithField("user_uuid", uuid).
		WithField("performance_id", performanceID).
		Info("public metric added")
	return updated, nil
}

// RemovePublicMetric unpublishes a performance id. Removing an id that is not
// present is a no-op.
func (s *Service) RemovePublicMetric(ctx context.Context, uuid, performanceID string) (user.User, error) {
	u, err := s.store.GetUser(ctx, uuid)
	if err != nil {
		return user.User{}, err
	}
	if !u.HasPublicMetric(performanceID) {
		return u, nil
	}

	kept := make([]string, 0, len(u.PublicMetrics)-1)
	for _, id := range u.PublicMetrics {
		if id != performanceID {
			kept = append(kept, id)
		}
	}
	u.PublicMetrics = kept

	updated, err := s.store.UpdateUser(ctx, u)
	if err != nil {
		return user.User{}, err
	}
	s.log.WithField("user_uuid", uuid).
		WithField("performance_id", performanceID).
		Info("public metric removed")
	return updated, nil
}

func normalize(u *user.User) error {
	u.UUID = strings.TrimSpace(u.UUID)
	u.Username = strings.TrimSpace(u.Username)
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	u.WalletID = strings.TrimSpace(u.WalletID)

	if len(u.Username) < 3 {
		return errors.Validation("username must be at least 3 characters")
	}
	if u.Email == "" || !strings.Contains(u.Email, "@") {
		return errors.Validation("a valid email is required")
	}
	return nil
}
