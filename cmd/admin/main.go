package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"

	"finsync/internal/domain/institution"
	"finsync/internal/domain/openfinance"
	"finsync/internal/infrastructure/aggregator"
	"finsync/internal/infrastructure/crypto"
	"finsync/internal/infrastructure/postgres"
	"finsync/internal/infrastructure/vault"
	"finsync/internal/shared/config"
	"finsync/internal/shared/logging"
)

const usage = `finsync admin - maintenance commands for the sync engine

Usage:
  admin <command> [options]

Commands:
  sync           Run a full sync pass now, or sync one institution
  reset-cursor   Forget an institution's cursor so the next pass re-pulls its history
  status         Show the sync status of linked institutions

Examples:
  # Run a full pass with a one hour limit
  admin sync --timeout=1h

  # Sync a single institution
  admin sync --institution=3f0c...

  # Replay an institution's history on the next pass
  admin reset-cursor --institution=3f0c...

  # Show every institution of a user, disconnected ones included
  admin status --user-id=auth0|123
`

func main() {
	if len(os.Args) < 2 {
		fmt.Print(usage, "\n")
		os.Exit(1)
	}

	command := os.Args[1]

	var err error
	switch command {
	case "sync":
		err = runSync(os.Args[2:])
	case "reset-cursor":
		err = runResetCursor(os.Args[2:])
	case "status":
		err = runStatus(os.Args[2:])
	case "help", "-h", "--help":
		fmt.Print(usage, "\n")
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		fmt.Print(usage, "\n")
		os.Exit(1)
	}

	if err != nil {
		logrus.WithError(err).WithField("command", command).Fatal("command failed")
	}
}

// engine is the sync engine wired against Postgres.
type engine struct {
	db           *postgres.DB
	institutions *postgres.InstitutionRepository
	orchestrator *openfinance.Orchestrator
	log          *logrus.Logger
}

func newEngine(ctx context.Context) (*engine, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger := logging.Setup(cfg.Log.Level, cfg.Log.Format)

	db, err := postgres.New(cfg.Database.ConnectionString())
	if err != nil {
		return nil, err
	}

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

	institutions := postgres.NewInstitutionRepository(db)
	orchestrator := openfinance.NewOrchestrator(openfinance.Deps{
		Client: aggregator.NewClient(aggregator.Config{
			BaseURL:           cfg.Aggregator.BaseURL,
			ClientID:          cfg.Aggregator.ClientID,
			Secret:            cfg.Aggregator.Secret,
			Timeout:           cfg.Aggregator.Timeout,
			RequestsPerSecond: cfg.Aggregator.RequestsPerSecond,
			Burst:             cfg.Aggregator.Burst,
			PageSize:          cfg.Aggregator.PageSize,
		}),
		Institutions: institutions,
		Accounts:     postgres.NewAccountRepository(db),
		Transactions: postgres.NewTransactionRepository(db),
		Cursors:      institutions,
		UnitOfWork:   postgres.NewUnitOfWork(db),
		// One-shot process: nothing to gain from caching credentials.
		Vault: vault.New(postgres.NewCredentialStore(db), encryptor, 0),
	}, openfinance.Options{
		Concurrency:     cfg.Sync.Concurrency,
		MaxPagesPerPass: cfg.Sync.MaxPagesPerPass,
		SignConvention:  sign,
		Logger:          logger,
	})

	return &engine{db: db, institutions: institutions, orchestrator: orchestrator, log: logger}, nil
}

func (e *engine) Close() {
	e.db.Close()
}

func runSync(args []string) error {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	institutionID := fs.String("institution", "", "Sync only this institution")
	timeout := fs.Duration("timeout", time.Hour, "Timeout for the pass (e.g., 5m, 1h)")
	fs.Parse(args)

	// Ctrl-C finishes the page in flight and stops.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	e, err := newEngine(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	var results []*openfinance.InstitutionResult
	start := time.Now()

	if *institutionID != "" {
		res, err := e.orchestrator.SyncOne(ctx, *institutionID)
		if err != nil {
			return err
		}
		results = append(results, res)
	} else {
		pass, err := e.orchestrator.RunFullSync(ctx)
		if err != nil {
			return err
		}
		results = pass.Institutions
	}

	printResults(results)
	e.log.WithField("elapsed", time.Since(start).String()).Info("sync finished")

	for _, res := range results {
		if res.Status == string(institution.StatusError) {
			return errors.New("one or more institutions failed")
		}
	}
	return nil
}

func runResetCursor(args []string) error {
	fs := flag.NewFlagSet("reset-cursor", flag.ExitOnError)
	institutionID := fs.String("institution", "", "Institution whose cursor is cleared (required)")
	fs.Parse(args)

	if *institutionID == "" {
		fs.Usage()
		return errors.New("--institution is required")
	}

	ctx := context.Background()
	e, err := newEngine(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	if err := openfinance.NewLinkService(e.orchestrator).ResetCursor(ctx, *institutionID); err != nil {
		return err
	}

	fmt.Printf("Cursor cleared for %s; the next pass re-pulls its full history.\n", *institutionID)
	return nil
}

func runStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	userID := fs.String("user-id", "", "Show all institutions of this user instead of every linked one")
	fs.Parse(args)

	ctx := context.Background()
	e, err := newEngine(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	var insts []*institution.LinkedInstitution
	if *userID != "" {
		insts, err = e.institutions.ListByUserID(ctx, *userID)
	} else {
		insts, err = e.institutions.ListLinked(ctx)
	}
	if err != nil {
		return err
	}

	printStatus(insts)
	return nil
}

func printResults(results []*openfinance.InstitutionResult) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "INSTITUTION\tRESULT\tPAGES\tCREATED\tUPDATED\tDELETED\tERROR")
	for _, res := range results {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			res.InstitutionID, res.Status, res.Pages,
			res.Transactions.Created, res.Transactions.Updated, res.Transactions.Deleted,
			res.Error)
	}
}

func printStatus(insts []*institution.LinkedInstitution) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "ID\tNAME\tSTATUS\tRELINK\tLAST SYNCED\tERROR")
	for _, inst := range insts {
		lastSynced := "never"
		if inst.LastSyncedAt != nil {
			lastSynced = inst.LastSyncedAt.Format(time.RFC3339)
		}
		status := string(inst.Status)
		if !inst.IsLinked() {
			status = "disconnected"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\t%s\n",
			inst.ID, inst.InstitutionName, status, inst.RelinkRequired(), lastSynced, inst.LastError)
	}
}
