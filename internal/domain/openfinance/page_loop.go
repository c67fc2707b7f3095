package openfinance

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"finsync/internal/domain/institution"
	"finsync/internal/infrastructure/aggregator"
)

// DefaultMaxPagesPerPass caps how many pages one institution may pull in a pass.
const DefaultMaxPagesPerPass = 500

// ErrPageLimitExceeded is returned when the aggregator keeps reporting more pages.
var ErrPageLimitExceeded = errors.New("page limit exceeded")

type pageState int

const (
	statePending pageState = iota
	stateFetchingPage
	stateApplyingPage
	stateCommitted
	stateDone
	stateFailed
)

func (s pageState) String() string {
	switch s {
	case statePending:
		return "pending"
	case stateFetchingPage:
		return "fetching_page"
	case stateApplyingPage:
		return "applying_page"
	case stateCommitted:
		return "committed"
	case stateDone:
		return "done"
	case stateFailed:
		return "failed"
	}
	return fmt.Sprintf("pageState(%d)", int(s))
}

// LoopResult summarizes one institution's page loop.
type LoopResult struct {
	Pages        int        `json:"pages"`
	Transactions PageResult `json:"transactions"`
	// Cursor is the last committed cursor.
	Cursor *string `json:"-"`
}

// pageLoop pulls and applies pages for one institution, strictly in order.
type pageLoop struct {
	client   aggregator.ClientInterface
	txns     *TransactionReconciler
	cursors  CursorStore
	maxPages int
	log      logrus.FieldLogger
}

// run resumes from the last committed cursor and stops when the aggregator
// reports no more pages. A page that was fetched is applied and committed even
// if ctx is cancelled meanwhile; cancellation is honoured before the next fetch.
func (l *pageLoop) run(ctx context.Context, inst *institution.LinkedInstitution, accessToken string) (*LoopResult, error) {
	entry := l.log.WithField("institution_id", inst.ID)
	result := &LoopResult{}

	state := statePending
	transition := func(next pageState) {
		entry.WithFields(logrus.Fields{"from": state, "to": next, "page": result.Pages}).Debug("page loop transition")
		state = next
	}

	cursor, err := l.cursors.Cursor(ctx, inst.ID)
	if err != nil {
		transition(stateFailed)
		return result, fmt.Errorf("failed to load cursor: %w", err)
	}
	result.Cursor = cursor

	for {
		if result.Pages >= l.maxPages {
			transition(stateFailed)
			return result, fmt.Errorf("%w: %d pages", ErrPageLimitExceeded, result.Pages)
		}
		if err := ctx.Err(); err != nil {
			transition(stateFailed)
			return result, err
		}

		transition(stateFetchingPage)
		page, err := l.client.SyncTransactions(ctx, accessToken, cursor)
		if err != nil {
			transition(stateFailed)
			return result, err
		}

		transition(stateApplyingPage)
		applyCtx := context.WithoutCancel(ctx)
		pageResult, err := l.txns.ApplyPage(applyCtx, inst, page)
		if err != nil {
			transition(stateFailed)
			return result, fmt.Errorf("failed to apply page: %w", err)
		}
		if err := l.cursors.Commit(applyCtx, inst.ID, page.NextCursor); err != nil {
			transition(stateFailed)
			return result, fmt.Errorf("failed to commit cursor: %w", err)
		}

		next := page.NextCursor
		cursor = &next
		result.Cursor = cursor
		result.Pages++
		result.Transactions.Add(pageResult)
		pagesTotal.Add(applyCtx, 1)
		transition(stateCommitted)

		entry.WithFields(logrus.Fields{
			"page":     result.Pages,
			"records":  page.Size(),
			"writes":   pageResult.Writes(),
			"has_more": page.HasMore,
		}).Debug("page committed")

		if !page.HasMore {
			transition(stateDone)
			return result, nil
		}
	}
}
