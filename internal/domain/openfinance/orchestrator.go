package openfinance

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"finsync/internal/domain/account"
	"finsync/internal/domain/credential"
	"finsync/internal/domain/institution"
	"finsync/internal/domain/transaction"
	"finsync/internal/infrastructure/aggregator"
	"finsync/internal/shared/worker"
)

var (
	syncTracer          = otel.Tracer("finsync/sync")
	syncMeter           = otel.Meter("finsync/sync")
	passDuration, _     = syncMeter.Float64Histogram("sync.pass.duration", metric.WithDescription("Full sync pass duration in seconds"), metric.WithUnit("s"))
	institutionTotal, _ = syncMeter.Int64Counter("sync.institution.total", metric.WithDescription("Institutions processed by outcome"))
	pagesTotal, _       = syncMeter.Int64Counter("sync.pages.total", metric.WithDescription("Transaction pages committed"))
)

// ErrSyncInProgress is returned by RunFullSync when a pass is already running.
// Callers treat it as a no-op.
var ErrSyncInProgress = errors.New("sync already in progress")

// Outcomes reported in InstitutionResult.Status besides the institution statuses.
const (
	ResultSkipped   = "skipped"
	ResultCancelled = "cancelled"
)

// RelinkNotifier is told when an institution's credential stops working.
type RelinkNotifier interface {
	NotifyRelinkRequired(ctx context.Context, inst *institution.LinkedInstitution) error
}

// Deps are the collaborators of the sync engine.
type Deps struct {
	Client       aggregator.ClientInterface
	Institutions institution.Repository
	Accounts     account.Repository
	Transactions transaction.Repository
	Cursors      CursorStore
	UnitOfWork   UnitOfWork
	Vault        credential.Vault
}

// Options tune the sync engine.
type Options struct {
	// Concurrency is the number of institutions synced at once. Defaults to 1.
	Concurrency     int
	MaxPagesPerPass int
	SignConvention  SignConvention
	Notifier        RelinkNotifier
	Logger          logrus.FieldLogger
}

// InstitutionResult is the outcome of syncing one institution.
type InstitutionResult struct {
	InstitutionID string          `json:"institutionId"`
	Status        string          `json:"status"`
	ErrorKind     aggregator.Kind `json:"errorKind,omitempty"`
	Error         string          `json:"error,omitempty"`
	Balances      *BalanceResult  `json:"balances,omitempty"`
	Pages         int             `json:"pages"`
	Transactions  PageResult      `json:"transactions"`
	Duration      time.Duration   `json:"duration"`

	err error
}

// Err returns the failure that ended the institution's sync, if any.
func (r *InstitutionResult) Err() error {
	return r.err
}

// PassResult is the outcome of a full pass.
type PassResult struct {
	StartedAt    time.Time            `json:"startedAt"`
	FinishedAt   time.Time            `json:"finishedAt"`
	Institutions []*InstitutionResult `json:"institutions"`
	Succeeded    int                  `json:"succeeded"`
	Failed       int                  `json:"failed"`
	Skipped      int                  `json:"skipped"`
}

// Orchestrator runs sync passes over every linked institution.
// Only one pass runs at a time; one institution is never synced twice at once.
type Orchestrator struct {
	deps        Deps
	balances    *AccountReconciler
	loop        *pageLoop
	notifier    RelinkNotifier
	concurrency int
	log         logrus.FieldLogger
	now         func() time.Time

	passMu    sync.Mutex
	running   atomic.Bool
	lastPass  atomic.Pointer[time.Time]
	instLocks *keyedMutex
}

// NewOrchestrator wires the reconcilers and page loop around deps.
func NewOrchestrator(deps Deps, opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	logger = logger.WithField("component", "sync")

	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	maxPages := opts.MaxPagesPerPass
	if maxPages <= 0 {
		maxPages = DefaultMaxPagesPerPass
	}
	sign := opts.SignConvention
	if sign == "" {
		sign = OutflowPositive
	}

	return &Orchestrator{
		deps:     deps,
		balances: NewAccountReconciler(deps.Client, deps.Accounts, logger),
		loop: &pageLoop{
			client:   deps.Client,
			txns:     NewTransactionReconciler(deps.UnitOfWork, sign, logger),
			cursors:  deps.Cursors,
			maxPages: maxPages,
			log:      logger,
		},
		notifier:    opts.Notifier,
		concurrency: concurrency,
		log:         logger,
		now:         time.Now,
		instLocks:   newKeyedMutex(),
	}
}

// IsRunning reports whether a pass is in progress.
func (o *Orchestrator) IsRunning() bool {
	return o.running.Load()
}

// LastPassAt returns when the last pass finished, nil before the first one.
func (o *Orchestrator) LastPassAt() *time.Time {
	return o.lastPass.Load()
}

// RunFullSync syncs every linked institution. A failing institution is
// recorded in its own result and status and never stops the others.
func (o *Orchestrator) RunFullSync(ctx context.Context) (*PassResult, error) {
	if !o.passMu.TryLock() {
		o.log.Debug("sync pass already running, ignoring trigger")
		return nil, ErrSyncInProgress
	}
	defer o.passMu.Unlock()

	o.running.Store(true)
	defer o.running.Store(false)

	ctx, span := syncTracer.Start(ctx, "sync.pass")
	defer span.End()

	pass := &PassResult{StartedAt: o.now()}

	insts, err := o.deps.Institutions.ListLinked(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to list institutions: %w", err)
	}

	o.log.WithField("institutions", len(insts)).Info("starting sync pass")

	results := make([]*InstitutionResult, len(insts))
	pool := worker.NewPool(ctx, worker.Options{
		Workers:   o.concurrency,
		QueueSize: len(insts),
		Logger:    o.log,
	})
	for i, inst := range insts {
		job := worker.Func{
			ID:   inst.ID,
			Desc: "sync institution",
			Fn: func(ctx context.Context) error {
				res := o.syncGuarded(ctx, inst)
				results[i] = res
				return res.err
			},
		}
		if err := pool.Submit(job); err != nil {
			o.log.WithError(err).WithField("institution_id", inst.ID).Error("failed to queue institution")
		}
	}
	pool.Start()
	pool.Shutdown()

	for i, res := range results {
		if res == nil {
			res = &InstitutionResult{InstitutionID: insts[i].ID, Status: ResultCancelled, Error: "pass cancelled before institution started"}
			results[i] = res
		}
		switch {
		case res.Status == ResultSkipped || res.Status == ResultCancelled:
			pass.Skipped++
		case res.err != nil:
			pass.Failed++
		default:
			pass.Succeeded++
		}
	}
	pass.Institutions = results

	finished := o.now()
	pass.FinishedAt = finished
	o.lastPass.Store(&finished)

	passDuration.Record(ctx, finished.Sub(pass.StartedAt).Seconds())
	span.SetAttributes(
		attribute.Int("sync.succeeded", pass.Succeeded),
		attribute.Int("sync.failed", pass.Failed),
		attribute.Int("sync.skipped", pass.Skipped),
	)
	o.log.WithFields(logrus.Fields{
		"succeeded": pass.Succeeded,
		"failed":    pass.Failed,
		"skipped":   pass.Skipped,
		"duration":  finished.Sub(pass.StartedAt),
	}).Info("sync pass complete")

	return pass, nil
}

// SyncOne syncs a single institution outside of a full pass.
func (o *Orchestrator) SyncOne(ctx context.Context, institutionID string) (*InstitutionResult, error) {
	inst, err := o.deps.Institutions.GetByID(ctx, institutionID)
	if err != nil {
		return nil, err
	}
	if !inst.IsLinked() {
		return nil, institution.ErrAlreadyDisconnected
	}

	res := o.syncGuarded(ctx, inst)
	return res, res.err
}

// syncGuarded is the failure boundary around one institution.
func (o *Orchestrator) syncGuarded(ctx context.Context, snapshot *institution.LinkedInstitution) (res *InstitutionResult) {
	res = &InstitutionResult{InstitutionID: snapshot.ID}
	entry := o.log.WithFields(logrus.Fields{"institution_id": snapshot.ID, "item_id": snapshot.ItemID})

	unlock := o.instLocks.lock(snapshot.ID)
	defer unlock()

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic during institution sync: %v", r)
			entry.WithField("stack", string(debug.Stack())).Error(err.Error())
			o.setStatus(ctx, entry, snapshot.ID, institution.StatusUpdate{
				Status:    institution.StatusError,
				ErrorKind: string(aggregator.KindUnknown),
				Error:     err.Error(),
			})
			res.Status = string(institution.StatusError)
			res.ErrorKind = aggregator.KindUnknown
			res.Error = err.Error()
			res.err = err
		}
		institutionTotal.Add(context.WithoutCancel(ctx), 1, metric.WithAttributes(attribute.String("status", res.Status)))
	}()

	if err := ctx.Err(); err != nil {
		res.Status = ResultCancelled
		res.Error = err.Error()
		return res
	}

	// The pass snapshot may be stale by the time this institution's turn comes.
	inst, err := o.deps.Institutions.GetByID(ctx, snapshot.ID)
	if err != nil {
		res.Status = string(institution.StatusError)
		res.ErrorKind = aggregator.KindOf(err)
		res.Error = err.Error()
		res.err = fmt.Errorf("failed to load institution: %w", err)
		entry.WithError(err).Error("failed to load institution")
		return res
	}
	if !inst.IsLinked() {
		res.Status = ResultSkipped
		res.Error = "institution disconnected"
		return res
	}
	if inst.RelinkRequired() {
		res.Status = ResultSkipped
		res.ErrorKind = aggregator.KindInvalidCredential
		res.Error = "waiting for the user to link the institution again"
		return res
	}

	o.syncOne(ctx, entry, inst, res)
	return res
}

func (o *Orchestrator) syncOne(ctx context.Context, entry logrus.FieldLogger, inst *institution.LinkedInstitution, res *InstitutionResult) {
	ctx, span := syncTracer.Start(ctx, "sync.institution", trace.WithAttributes(attribute.String("institution.id", inst.ID)))
	defer span.End()

	start := o.now()
	defer func() { res.Duration = o.now().Sub(start) }()

	prior := institution.StatusUpdate{Status: inst.Status, ErrorKind: inst.LastErrorKind, Error: inst.LastError}

	secret, err := o.deps.Vault.Get(ctx, inst.CredentialRef)
	if err != nil {
		if errors.Is(err, credential.ErrNotFound) {
			err = &aggregator.Error{Kind: aggregator.KindInvalidCredential, Op: "load_credential", Message: "no credential stored for institution", Err: err}
		} else {
			err = fmt.Errorf("failed to load credential: %w", err)
		}
		o.fail(ctx, span, entry, inst, prior, res, err)
		return
	}
	accessToken := string(secret)

	if err := o.deps.Cursors.SetStatus(ctx, inst.ID, institution.StatusUpdate{
		Status:    institution.StatusSyncing,
		ErrorKind: prior.ErrorKind,
		Error:     prior.Error,
	}); err != nil {
		o.fail(ctx, span, entry, inst, prior, res, fmt.Errorf("failed to mark institution syncing: %w", err))
		return
	}

	balances, err := o.balances.RefreshBalances(ctx, inst, accessToken)
	res.Balances = balances
	if err != nil {
		o.fail(ctx, span, entry, inst, prior, res, fmt.Errorf("failed to refresh balances: %w", err))
		return
	}

	loopResult, err := o.loop.run(ctx, inst, accessToken)
	if loopResult != nil {
		res.Pages = loopResult.Pages
		res.Transactions = loopResult.Transactions
	}
	if err != nil {
		o.fail(ctx, span, entry, inst, prior, res, err)
		return
	}

	syncedAt := o.now().UTC()
	o.setStatus(ctx, entry, inst.ID, institution.StatusUpdate{Status: institution.StatusIdle, SyncedAt: &syncedAt})
	res.Status = string(institution.StatusIdle)

	entry.WithFields(logrus.Fields{
		"pages":   res.Pages,
		"created": res.Transactions.Created,
		"updated": res.Transactions.Updated,
		"deleted": res.Transactions.Deleted,
		"gaps":    len(res.Transactions.Gaps),
	}).Info("institution synced")
}

// fail records err on the institution according to its kind.
func (o *Orchestrator) fail(ctx context.Context, span trace.Span, entry logrus.FieldLogger, inst *institution.LinkedInstitution, prior institution.StatusUpdate, res *InstitutionResult, err error) {
	kind := aggregator.KindOf(err)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	res.ErrorKind = kind
	res.Error = err.Error()
	res.err = err

	entry = entry.WithError(err).WithField("kind", kind)

	var update institution.StatusUpdate
	switch {
	case ctx.Err() != nil && kind != aggregator.KindInvalidCredential:
		// Interrupted; nothing was learned about the institution.
		update = institution.StatusUpdate{Status: settledStatus(prior.Status), ErrorKind: prior.ErrorKind, Error: prior.Error}
		res.Status = ResultCancelled
		entry.Info("institution sync cancelled")
		o.setStatus(ctx, entry, inst.ID, update)
		return

	case kind == aggregator.KindInvalidCredential:
		update = institution.StatusUpdate{Status: institution.StatusError, ErrorKind: string(kind), Error: err.Error()}
		entry.Warn("institution credential rejected, relink required")

	case kind == aggregator.KindTransientNetwork, kind == aggregator.KindRateLimited:
		update = institution.StatusUpdate{Status: settledStatus(prior.Status), ErrorKind: string(kind), Error: err.Error()}
		entry.Warn("institution sync interrupted, will resume next pass")

	case kind == aggregator.KindDecodeError:
		update = institution.StatusUpdate{Status: settledStatus(prior.Status), ErrorKind: string(kind), Error: err.Error()}
		entry.Error("aggregator response did not match the expected schema")

	default:
		update = institution.StatusUpdate{Status: institution.StatusError, ErrorKind: string(aggregator.KindUnknown), Error: err.Error()}
		entry.Error("institution sync failed")
	}

	o.setStatus(ctx, entry, inst.ID, update)
	res.Status = string(update.Status)

	if kind == aggregator.KindInvalidCredential && o.notifier != nil {
		failed := *inst
		failed.Status = update.Status
		failed.LastErrorKind = update.ErrorKind
		failed.LastError = update.Error
		if err := o.notifier.NotifyRelinkRequired(context.WithoutCancel(ctx), &failed); err != nil {
			entry.WithError(err).Warn("failed to send relink notification")
		}
	}
}

// setStatus writes even when ctx is cancelled so the record never stays "syncing".
func (o *Orchestrator) setStatus(ctx context.Context, entry logrus.FieldLogger, institutionID string, update institution.StatusUpdate) {
	if err := o.deps.Cursors.SetStatus(context.WithoutCancel(ctx), institutionID, update); err != nil {
		entry.WithError(err).Error("failed to record institution status")
	}
}

// settledStatus is the status to fall back to when a failure does not change it.
func settledStatus(s institution.Status) institution.Status {
	if s == institution.StatusError {
		return s
	}
	return institution.StatusIdle
}
