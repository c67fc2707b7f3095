package openfinance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"finsync/internal/domain/credential"
	"finsync/internal/domain/institution"
	"finsync/internal/infrastructure/aggregator"
)

// ErrForbidden is returned when a user acts on another user's institution.
var ErrForbidden = errors.New("institution belongs to another user")

// LinkService manages the lifecycle of institution links.
// It shares the per-institution locks of the orchestrator so it never races a sync.
type LinkService struct {
	deps     Deps
	balances *AccountReconciler
	notifier RelinkNotifier
	locks    *keyedMutex
	log      logrus.FieldLogger
	now      func() time.Time
}

// NewLinkService creates a link service bound to the orchestrator's state.
func NewLinkService(o *Orchestrator) *LinkService {
	return &LinkService{
		deps:     o.deps,
		balances: o.balances,
		notifier: o.notifier,
		locks:    o.instLocks,
		log:      o.log.WithField("component", "link"),
		now:      o.now,
	}
}

// ConnectResult is returned by Connect.
type ConnectResult struct {
	Institution *institution.LinkedInstitution `json:"institution"`
	Accounts    *BalanceResult                 `json:"accounts"`
}

// CreateLinkToken starts a link flow for userID.
func (s *LinkService) CreateLinkToken(ctx context.Context, userID string) (*aggregator.LinkToken, error) {
	if userID == "" {
		return nil, institution.ErrInvalidInput
	}
	return s.deps.Client.CreateLinkToken(ctx, userID)
}

// Connect finishes a link flow: the public token is exchanged for an access
// credential, the credential goes to the vault and the item's accounts are
// discovered. Linking an item that was disconnected before re-activates it.
func (s *LinkService) Connect(ctx context.Context, userID, publicToken string) (*ConnectResult, error) {
	if userID == "" || publicToken == "" {
		return nil, institution.ErrInvalidInput
	}

	exchange, err := s.deps.Client.ExchangePublicToken(ctx, publicToken)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange public token: %w", err)
	}

	entry := s.log.WithFields(logrus.Fields{"user_id": userID, "item_id": exchange.ItemID})

	accountsResp, err := s.deps.Client.GetAccounts(ctx, exchange.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch accounts: %w", err)
	}

	existing, err := s.deps.Institutions.FindByItemID(ctx, exchange.ItemID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up institution: %w", err)
	}
	// Checked before the vault write so another user's credential is never replaced.
	if existing != nil && existing.UserID != userID {
		return nil, ErrForbidden
	}

	ref := institution.CredentialRefForItem(exchange.ItemID)

	// A re-link shares the vault key with the live link; keep its secret to put back on failure.
	var previous []byte
	if existing != nil {
		previous, err = s.deps.Vault.Get(ctx, ref)
		if err != nil && !errors.Is(err, credential.ErrNotFound) {
			return nil, fmt.Errorf("failed to load credential: %w", err)
		}
	}

	if err := s.deps.Vault.Set(ctx, ref, []byte(exchange.AccessToken)); err != nil {
		return nil, fmt.Errorf("failed to store credential: %w", err)
	}

	inst, err := s.upsertInstitution(ctx, existing, userID, exchange.ItemID, ref, accountsResp.Item.InstitutionName)
	if err != nil {
		s.rollbackCredential(context.WithoutCancel(ctx), entry, ref, previous)
		return nil, err
	}

	unlock := s.locks.lock(inst.ID)
	defer unlock()

	accounts, err := s.balances.Reconcile(ctx, inst, accountsResp.Accounts)
	if err != nil {
		return nil, fmt.Errorf("failed to store accounts: %w", err)
	}

	entry.WithFields(logrus.Fields{
		"institution_id": inst.ID,
		"accounts":       accounts.AccountsFound,
	}).Info("institution connected")

	return &ConnectResult{Institution: inst, Accounts: accounts}, nil
}

// rollbackCredential restores previous under ref, or removes the new secret
// when there was nothing stored before.
func (s *LinkService) rollbackCredential(ctx context.Context, entry logrus.FieldLogger, ref string, previous []byte) {
	if len(previous) > 0 {
		if err := s.deps.Vault.Set(ctx, ref, previous); err != nil {
			entry.WithError(err).Error("failed to restore previous credential")
		}
		return
	}
	if err := s.deps.Vault.Delete(ctx, ref); err != nil && !errors.Is(err, credential.ErrNotFound) {
		entry.WithError(err).Warn("failed to remove orphaned credential")
	}
}

func (s *LinkService) upsertInstitution(ctx context.Context, existing *institution.LinkedInstitution, userID, itemID, ref, name string) (*institution.LinkedInstitution, error) {
	if existing == nil {
		inst, err := s.deps.Institutions.Create(ctx, institution.CreateParams{
			ID:              uuid.NewString(),
			ItemID:          itemID,
			UserID:          userID,
			InstitutionName: name,
			CredentialRef:   ref,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create institution: %w", err)
		}
		return inst, nil
	}

	unlock := s.locks.lock(existing.ID)
	defer unlock()

	inst, err := s.deps.Institutions.Reactivate(ctx, existing.ID, ref)
	if err != nil {
		return nil, fmt.Errorf("failed to re-activate institution: %w", err)
	}
	return inst, nil
}

// List returns a user's institutions, disconnected ones included.
func (s *LinkService) List(ctx context.Context, userID string) ([]*institution.LinkedInstitution, error) {
	return s.deps.Institutions.ListByUserID(ctx, userID)
}

// Get returns one of a user's institutions.
func (s *LinkService) Get(ctx context.Context, userID, id string) (*institution.LinkedInstitution, error) {
	inst, err := s.deps.Institutions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if inst.UserID != userID {
		return nil, ErrForbidden
	}
	return inst, nil
}

// Disconnect unlinks an institution. The item is removed at the aggregator on a
// best-effort basis, the credential is deleted, and the institution's accounts
// and transactions are kept but detached so that no sync touches them again.
func (s *LinkService) Disconnect(ctx context.Context, userID, id string) error {
	inst, err := s.Get(ctx, userID, id)
	if err != nil {
		return err
	}

	unlock := s.locks.lock(inst.ID)
	defer unlock()

	// Re-read under the lock; a concurrent disconnect may have won.
	inst, err = s.deps.Institutions.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !inst.IsLinked() {
		return institution.ErrAlreadyDisconnected
	}

	entry := s.log.WithFields(logrus.Fields{"institution_id": inst.ID, "item_id": inst.ItemID})

	secret, err := s.deps.Vault.Get(ctx, inst.CredentialRef)
	switch {
	case err == nil:
		if err := s.deps.Client.RemoveItem(ctx, string(secret)); err != nil {
			entry.WithError(err).Warn("failed to remove item at aggregator, continuing")
		}
	case errors.Is(err, credential.ErrNotFound):
		entry.Warn("no credential stored, skipping item removal")
	default:
		return fmt.Errorf("failed to load credential: %w", err)
	}

	if err := s.deps.Vault.Delete(ctx, inst.CredentialRef); err != nil && !errors.Is(err, credential.ErrNotFound) {
		return fmt.Errorf("failed to delete credential: %w", err)
	}

	var detached int
	err = s.deps.UnitOfWork.Do(ctx, func(ctx context.Context, repos Repositories) error {
		ids, err := repos.Accounts.DetachInstitution(ctx, inst.ID)
		if err != nil {
			return fmt.Errorf("failed to detach accounts: %w", err)
		}
		detached = len(ids)
		if len(ids) == 0 {
			return nil
		}
		if err := repos.Transactions.DetachAccounts(ctx, ids); err != nil {
			return fmt.Errorf("failed to detach transactions: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := s.deps.Cursors.Reset(ctx, inst.ID); err != nil {
		return fmt.Errorf("failed to reset cursor: %w", err)
	}
	if err := s.deps.Institutions.MarkDisconnected(ctx, inst.ID, s.now().UTC()); err != nil {
		return fmt.Errorf("failed to mark institution disconnected: %w", err)
	}

	entry.WithField("accounts_detached", detached).Info("institution disconnected")
	return nil
}

// Check asks the aggregator about the item's health and updates the status.
// An item that needs a new login is marked as requiring a relink; a healthy
// item that was waiting for a relink goes back to idle.
func (s *LinkService) Check(ctx context.Context, userID, id string) (*institution.LinkedInstitution, error) {
	inst, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if !inst.IsLinked() {
		return nil, institution.ErrAlreadyDisconnected
	}

	unlock := s.locks.lock(inst.ID)
	defer unlock()

	entry := s.log.WithFields(logrus.Fields{"institution_id": inst.ID, "item_id": inst.ItemID})

	var update *institution.StatusUpdate

	secret, err := s.deps.Vault.Get(ctx, inst.CredentialRef)
	switch {
	case errors.Is(err, credential.ErrNotFound):
		update = &institution.StatusUpdate{
			Status:    institution.StatusError,
			ErrorKind: institution.ErrorKindInvalidCredential,
			Error:     "no credential stored for institution",
		}
	case err != nil:
		return nil, fmt.Errorf("failed to load credential: %w", err)
	default:
		item, err := s.deps.Client.GetItemStatus(ctx, string(secret))
		switch {
		case aggregator.KindOf(err) == aggregator.KindInvalidCredential:
			update = &institution.StatusUpdate{Status: institution.StatusError, ErrorKind: institution.ErrorKindInvalidCredential, Error: err.Error()}
		case err != nil:
			return nil, fmt.Errorf("failed to check item: %w", err)
		case item.LoginRequired():
			update = &institution.StatusUpdate{Status: institution.StatusError, ErrorKind: institution.ErrorKindInvalidCredential, Error: item.Error.ErrorMessage}
		case inst.Status == institution.StatusError:
			update = &institution.StatusUpdate{Status: institution.StatusIdle}
		}
	}

	if update == nil {
		return inst, nil
	}

	wasRelink := inst.RelinkRequired()
	if err := s.deps.Cursors.SetStatus(ctx, inst.ID, *update); err != nil {
		return nil, fmt.Errorf("failed to update status: %w", err)
	}
	inst.Status = update.Status
	inst.LastErrorKind = update.ErrorKind
	inst.LastError = update.Error

	entry.WithFields(logrus.Fields{"status": inst.Status, "kind": inst.LastErrorKind}).Info("institution checked")

	if inst.RelinkRequired() && !wasRelink && s.notifier != nil {
		if err := s.notifier.NotifyRelinkRequired(ctx, inst); err != nil {
			entry.WithError(err).Warn("failed to send relink notification")
		}
	}
	return inst, nil
}

// ResetCursor makes the next sync of the institution start over from the
// beginning of history. Reconciliation is idempotent so nothing is duplicated.
func (s *LinkService) ResetCursor(ctx context.Context, id string) error {
	inst, err := s.deps.Institutions.GetByID(ctx, id)
	if err != nil {
		return err
	}

	unlock := s.locks.lock(inst.ID)
	defer unlock()

	if err := s.deps.Cursors.Reset(ctx, inst.ID); err != nil {
		return fmt.Errorf("failed to reset cursor: %w", err)
	}
	s.log.WithField("institution_id", inst.ID).Info("cursor reset")
	return nil
}
