package main

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"finsync/internal/domain/account"
	"finsync/internal/domain/openfinance"
	"finsync/internal/domain/transaction"
	"finsync/internal/infrastructure/aggregator"
	"finsync/internal/infrastructure/crypto"
	"finsync/internal/infrastructure/firebase"
	"finsync/internal/infrastructure/postgres"
	"finsync/internal/infrastructure/vault"
	httphandlers "finsync/internal/interfaces/http"
	"finsync/internal/interfaces/scheduler"
	"finsync/internal/shared/auth"
	"finsync/internal/shared/config"
)

// Dependencies holds all initialized application components.
type Dependencies struct {
	DB *postgres.DB

	// Handlers
	SyncHandler        *httphandlers.SyncHandler
	InstitutionHandler *httphandlers.InstitutionHandler
	AccountHandler     *httphandlers.AccountHandler
	TransactionHandler *httphandlers.TransactionHandler

	JWT          *auth.JWT
	Orchestrator *openfinance.Orchestrator
	Scheduler    *scheduler.Scheduler
}

// NewDependencies initializes all application dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*Dependencies, error) {
	db, err := postgres.New(cfg.Database.ConnectionString())
	if err != nil {
		return nil, err
	}
	logger.Info("connected to database")

	encryptor, err := crypto.NewEncryptor(cfg.Encryption.Key)
	if err != nil {
		db.Close()
		return nil, err
	}

	sign, err := openfinance.ParseSignConvention(cfg.Aggregator.SignConvention)
	if err != nil {
		db.Close()
		return nil, err
	}

	// Repositories
	institutionRepo := postgres.NewInstitutionRepository(db)
	accountRepo := postgres.NewAccountRepository(db)
	transactionRepo := postgres.NewTransactionRepository(db)
	credentials := vault.New(postgres.NewCredentialStore(db), encryptor, cfg.Sync.CredentialCacheTTL)

	client := aggregator.NewClient(aggregator.Config{
		BaseURL:           cfg.Aggregator.BaseURL,
		ClientID:          cfg.Aggregator.ClientID,
		Secret:            cfg.Aggregator.Secret,
		Timeout:           cfg.Aggregator.Timeout,
		RequestsPerSecond: cfg.Aggregator.RequestsPerSecond,
		Burst:             cfg.Aggregator.Burst,
		PageSize:          cfg.Aggregator.PageSize,
	})

	opts := openfinance.Options{
		Concurrency:     cfg.Sync.Concurrency,
		MaxPagesPerPass: cfg.Sync.MaxPagesPerPass,
		SignConvention:  sign,
		Logger:          logger,
	}
	if cfg.Firebase.CredentialsFile != "" {
		notifier, err := firebase.NewClient(ctx, cfg.Firebase.CredentialsFile, logger)
		if err != nil {
			db.Close()
			return nil, err
		}
		opts.Notifier = notifier
	} else {
		logger.Warn("FIREBASE_CREDENTIALS_FILE not set, relink notifications disabled")
	}

	orchestrator := openfinance.NewOrchestrator(openfinance.Deps{
		Client:       client,
		Institutions: institutionRepo,
		Accounts:     accountRepo,
		Transactions: transactionRepo,
		Cursors:      institutionRepo,
		UnitOfWork:   postgres.NewUnitOfWork(db),
		Vault:        credentials,
	}, opts)

	sched, err := scheduler.New(orchestrator, scheduler.Config{
		ScheduleTimes: cfg.Scheduler.ScheduleTimes,
		RunOnStartup:  cfg.Scheduler.RunOnStartup,
		PassTimeout:   cfg.Scheduler.PassTimeout,
		Logger:        logger,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	// Domain services
	accountService := account.NewService(accountRepo)
	transactionService := transaction.NewService(transactionRepo)

	return &Dependencies{
		DB:                 db,
		SyncHandler:        httphandlers.NewSyncHandler(sched, orchestrator),
		InstitutionHandler: httphandlers.NewInstitutionHandler(openfinance.NewLinkService(orchestrator), logger),
		AccountHandler:     httphandlers.NewAccountHandler(accountService, transactionService, logger),
		TransactionHandler: httphandlers.NewTransactionHandler(transactionService, accountService, logger),
		JWT:                auth.NewJWT(cfg.JWT.Secret),
		Orchestrator:       orchestrator,
		Scheduler:          sched,
	}, nil
}

// Close releases all resources held by dependencies.
func (d *Dependencies) Close() {
	if d.DB != nil {
		d.DB.Close()
	}
}
