package app

import (
	"context"
	"fmt"

	"github.com/athledger/platform/internal/app/services/bundles"
	"github.com/athledger/platform/internal/app/services/performances"
	"github.com/athledger/platform/internal/app/services/sharing"
	"github.com/athledger/platform/internal/app/services/transactions"
	"github.com/athledger/platform/internal/app/services/users"
	"github.com/athledger/platform/internal/app/storage"
	"github.com/athledger/platform/internal/app/storage/memory"
	"github.com/athledger/platform/internal/app/system"
	"github.com/athledger/platform/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Users        storage.UserStore
	Performances storage.PerformanceStore
	Transactions storage.TransactionStore
	Bundles      storage.BundleStore
}

// Options carries optional collaborators.
type Options struct {
	// Anchorer records metric payloads externally; nil disables anchoring.
	Anchorer performances.Anchorer
	// Recorder counts sharing workflow outcomes; nil disables counting.
	Recorder sharing.Recorder
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Users        *users.Service
	Performances *performances.Service
	Transactions *transactions.Service
	Bundles      *bundles.Service
	Sharing      *sharing.Service
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Users == nil {
		stores.Users = mem
	}
	if stores.Performances == nil {
		stores.Performances = mem
	}
	if stores.Transactions == nil {
		stores.Transactions = mem
	}
	if stores.Bundles == nil {
		stores.Bundles = mem
	}

	manager := system.NewManager()

	userService := users.New(stores.Users, log)
	perfService := performances.New(stores.Users, stores.Performances, opts.Anchorer, log)
	txService := transactions.New(stores.Users, stores.Transactions, log)
	bundleService := bundles.New(stores.Bundles, stores.Performances, log)
	sharingService := sharing.New(userService, txService, bundleService, opts.Recorder, log)

	for _, name := range []string{"users", "performances", "transactions", "bundles", "sharing"} {
		if err := manager.Register(system.NoopService{ServiceName: name}); err != nil {
			return nil, fmt.Errorf("register %s service: %w", name, err)
		}
	}

	return &Application{
		manager:      manager,
		log:          log,
		Users:        userService,
		Performances: perfService,
		Transactions: txService,
		Bundles:      bundleService,
		Sharing:      sharingService,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
