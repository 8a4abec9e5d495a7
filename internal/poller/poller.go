// Package poller drives the periodic snapshot fetch cycles against the
// upstream REST API and feeds the results through the position normalizer
// into the store.
package poller

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"futures_watch/internal/gateway"
	"futures_watch/internal/models"
	"futures_watch/internal/normalize"
	"futures_watch/internal/store"
)

// Poller owns the fetch schedule for the selected account. One cycle issues
// three independent sub-requests (positions, pending orders, previous
// orders); each slice succeeds or fails on its own.
type Poller struct {
	provider gateway.Provider
	store    *store.Store

	interval  time.Duration
	threshold int // consecutive total failures before cycles are skipped

	mu         sync.Mutex
	account    string
	generation uint64 // bumped on account switch; stale results are discarded
	inFlight   map[string]bool
	failures   int
}

// New wires a poller. interval is the natural tick (15s in production);
// threshold is the consecutive-failure count that triggers skipping.
func New(provider gateway.Provider, st *store.Store, interval time.Duration, threshold int) *Poller {
	return &Poller{
		provider:  provider,
		store:     st,
		interval:  interval,
		threshold: threshold,
		inFlight:  make(map[string]bool),
	}
}

// SelectAccount switches the polled account. The store's scope for the old
// account is cleared immediately and any in-flight cycle for it becomes
// stale: its results are discarded on arrival rather than applied.
func (p *Poller) SelectAccount(accountID string) {
	p.mu.Lock()
	if p.account == accountID {
		p.mu.Unlock()
		return
	}
	p.account = accountID
	p.generation++
	p.mu.Unlock()

	p.store.SelectAccount(accountID)
	p.Refresh(accountID)
}

// Refresh forces an out-of-cycle fetch, subject to the same in-flight and
// backoff rules as the scheduled ticks. It never blocks the caller.
func (p *Poller) Refresh(accountID string) {
	if accountID == "" {
		p.mu.Lock()
		accountID = p.account
		p.mu.Unlock()
	}
	if accountID == "" {
		return
	}
	go p.runCycle(context.Background(), accountID)
}

// Run seeds the store from the dashboard endpoint, performs one immediate
// cycle, then ticks at the configured interval until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	p.seed(ctx)

	p.mu.Lock()
	account := p.account
	p.mu.Unlock()
	if account != "" {
		p.runCycle(ctx, account)
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("🛑 Poller stopping...")
			return
		case <-ticker.C:
			p.mu.Lock()
			account = p.account
			p.mu.Unlock()
			if account != "" {
				p.runCycle(ctx, account)
			}
		}
	}
}

// seed fetches the one-shot dashboard payload: contract metadata, account
// aggregates, and the initial position set.
func (p *Poller) seed(ctx context.Context) {
	dash, err := p.provider.DashboardState(ctx)
	if err != nil {
		log.Printf("Startup Warning: dashboard state unavailable: %v", err)
		return
	}

	var contracts []models.Contract
	for _, raw := range dash.Contracts {
		if c, ok := normalize.Contract(raw); ok {
			contracts = append(contracts, c)
		}
	}
	p.store.RegisterContracts(contracts)

	for _, raw := range dash.Accounts {
		if snap, ok := normalize.Account(raw); ok {
			p.store.ApplyAccountMetrics(snap)
		}
	}

	if len(dash.Positions) > 0 {
		fetchedAt := time.Now()
		byAccount := make(map[string][]models.Position)
		for _, raw := range dash.Positions {
			if pos, ok := normalize.Position(raw, ""); ok {
				byAccount[pos.AccountID] = append(byAccount[pos.AccountID], pos)
			}
		}
		for accountID, positions := range byAccount {
			p.store.ApplySnapshot(accountID, positions, nil, fetchedAt)
		}
	}
}

// runCycle executes one fetch cycle for an account. Overlapping requests for
// the same account are dropped, never queued.
func (p *Poller) runCycle(ctx context.Context, accountID string) {
	p.mu.Lock()
	if p.failures >= p.threshold {
		// Relieve a struggling backend: swallow this tick entirely. The
		// counter resets so the next natural tick probes again.
		p.failures = 0
		p.mu.Unlock()
		log.Printf("⚠️ Skipping fetch cycle for %s after repeated failures", accountID)
		return
	}
	if p.inFlight[accountID] {
		p.mu.Unlock()
		return
	}
	p.inFlight[accountID] = true
	gen := p.generation
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		delete(p.inFlight, accountID)
		p.mu.Unlock()
	}()

	fetchedAt := time.Now()

	var (
		rawPositions []map[string]any
		openOrders   []models.Order
		recentOrders []models.Order
		posErr       error
		openErr      error
		recentErr    error
	)

	var wg conc.WaitGroup
	wg.Go(func() { rawPositions, posErr = p.provider.Positions(ctx, accountID) })
	wg.Go(func() { openOrders, openErr = p.provider.PendingOrders(ctx, accountID) })
	wg.Go(func() { recentOrders, recentErr = p.provider.PreviousOrders(ctx, accountID) })
	wg.Wait()

	p.mu.Lock()
	stale := gen != p.generation
	p.mu.Unlock()
	if stale {
		log.Printf("Discarding fetch results for %s: account selection changed mid-flight", accountID)
		return
	}

	if posErr == nil {
		positions := make([]models.Position, 0, len(rawPositions))
		for _, raw := range rawPositions {
			if pos, ok := normalize.Position(raw, accountID); ok {
				positions = append(positions, pos)
			}
		}
		p.store.ApplySnapshot(accountID, positions, nil, fetchedAt)
	} else {
		log.Printf("Fetch warning: positions for %s: %v", accountID, posErr)
	}

	// A failed order sub-request leaves its slice stale-but-present.
	var open, recent []models.Order
	if openErr == nil {
		open = openOrders
		if open == nil {
			open = []models.Order{}
		}
	} else {
		log.Printf("Fetch warning: pending orders for %s: %v", accountID, openErr)
	}
	if recentErr == nil {
		recent = recentOrders
		if recent == nil {
			recent = []models.Order{}
		}
	} else {
		log.Printf("Fetch warning: previous orders for %s: %v", accountID, recentErr)
	}
	if open != nil || recent != nil {
		p.store.SetOrders(open, recent)
	}

	if posErr != nil && openErr != nil && recentErr != nil {
		p.mu.Lock()
		p.failures++
		failures := p.failures
		p.mu.Unlock()

		kind := models.FetchUnavailable
		if errors.Is(posErr, gateway.ErrUpstreamTimeout) ||
			errors.Is(openErr, gateway.ErrUpstreamTimeout) ||
			errors.Is(recentErr, gateway.ErrUpstreamTimeout) {
			kind = models.FetchTimeout
		}
		p.store.SetFetchError(kind)
		log.Printf("⚠️ Fetch cycle failed for %s (%d consecutive, %s)", accountID, failures, kind)
		return
	}

	// Any sub-request success counts as backend contact.
	p.mu.Lock()
	p.failures = 0
	p.mu.Unlock()
	p.store.SetFetchError(models.FetchOK)
}

// Failures reports the current consecutive-failure count.
func (p *Poller) Failures() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failures
}
