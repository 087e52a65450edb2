package executor

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbcore/internal/domain"
	"github.com/alanyoungcy/arbcore/internal/ledger"
)

// fakeVenue is a scriptable venue executor. Behavior per order is driven by
// the venue-level script fields: fill everything after a delay, reject at
// placement, or accept and then go silent.
type fakeVenue struct {
	id      string
	updates chan domain.OrderUpdate

	fillDelay   time.Duration
	rejectPlace bool
	// rejectAfter rejects every placement past the first N accepted ones.
	rejectAfter int
	silent      bool
	feeUSD      float64

	mu        sync.Mutex
	placed    []domain.Order
	cancelled []string
	last      map[string]domain.OrderUpdate
}

func newFakeVenue(id string) *fakeVenue {
	return &fakeVenue{
		id:      id,
		updates: make(chan domain.OrderUpdate, 64),
		last:    make(map[string]domain.OrderUpdate),
	}
}

func (f *fakeVenue) VenueID() string { return f.id }

func (f *fakeVenue) Place(_ context.Context, o domain.Order) (domain.OrderAck, error) {
	f.mu.Lock()
	f.placed = append(f.placed, o)
	n := len(f.placed)
	f.mu.Unlock()

	if f.rejectPlace || (f.rejectAfter > 0 && n > f.rejectAfter) {
		return domain.OrderAck{OrderID: o.ID, Accepted: false, Message: "insufficient margin"}, nil
	}
	ack := domain.OrderAck{OrderID: o.ID, Accepted: true}
	if f.silent {
		f.record(domain.OrderUpdate{
			OrderID:   o.ID,
			Status:    domain.OrderStatusAcknowledged,
			Timestamp: time.Now().UTC(),
		})
		return ack, nil
	}
	u := domain.OrderUpdate{
		OrderID:    o.ID,
		Status:     domain.OrderStatusFilled,
		FilledSize: o.Size(),
		FillPrice:  o.Price(),
		FeeUSD:     f.feeUSD,
		Timestamp:  time.Now().UTC(),
	}
	go func() {
		if f.fillDelay > 0 {
			time.Sleep(f.fillDelay)
		}
		f.record(u)
		f.updates <- u
	}()
	return ack, nil
}

func (f *fakeVenue) Cancel(_ context.Context, orderID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, orderID)
	return true, nil
}

func (f *fakeVenue) Status(_ context.Context, orderID string) (domain.OrderUpdate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.last[orderID]; ok {
		return u, nil
	}
	return domain.OrderUpdate{}, domain.ErrNotFound
}

func (f *fakeVenue) Updates() <-chan domain.OrderUpdate { return f.updates }

func (f *fakeVenue) record(u domain.OrderUpdate) {
	f.mu.Lock()
	f.last[u.OrderID] = u
	f.mu.Unlock()
}

func (f *fakeVenue) placedOrders() []domain.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Order(nil), f.placed...)
}

var _ domain.VenueExecutor = (*fakeVenue)(nil)

func testOpportunity() domain.Opportunity {
	now := time.Now().UTC()
	return domain.Opportunity{
		ID:             "opp-1",
		Instrument:     "BTC-USD",
		BuyVenue:       "alpha",
		SellVenue:      "beta",
		BuyPrice:       100.0,
		SellPrice:      101.0,
		Size:           2.0,
		ExpectedPnLUSD: 2.0,
		DetectedAt:     now,
		ExpiresAt:      now.Add(time.Second),
	}
}

type harness struct {
	coord   *Coordinator
	led     *ledger.Ledger
	store   *ledger.MemoryStore
	buy     *fakeVenue
	sell    *fakeVenue
	cancel  context.CancelFunc
	release func()
	freed   *bool
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	store := ledger.NewMemoryStore()
	led := ledger.New(store, ledger.NopBus{}, slog.New(slog.DiscardHandler))
	buy := newFakeVenue("alpha")
	sell := newFakeVenue("beta")
	coord := New(map[string]domain.VenueExecutor{
		"alpha": buy,
		"beta":  sell,
	}, led, cfg, slog.New(slog.DiscardHandler))

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = coord.Run(ctx) }()
	t.Cleanup(cancel)

	freed := false
	return &harness{
		coord:   coord,
		led:     led,
		store:   store,
		buy:     buy,
		sell:    sell,
		cancel:  cancel,
		release: func() { freed = true },
		freed:   &freed,
	}
}

func TestExecuteBothLegsFill(t *testing.T) {
	h := newHarness(t, Config{AttemptTimeout: 2 * time.Second})
	h.buy.feeUSD = 0.5
	h.sell.feeUSD = 0.5

	att, err := h.coord.Execute(context.Background(), testOpportunity(), h.release)
	require.NoError(t, err)

	require.Equal(t, domain.AttemptStateCompleted, att.State)
	require.NotNil(t, att.Outcome)
	// (101 - 100) * 2 - 0.5 - 0.5
	require.InDelta(t, 1.0, att.Outcome.RealizedPnLUSD, 1e-9)
	require.False(t, att.Outcome.Escalated)
	require.True(t, *h.freed, "lease must be released on completion")

	// Fills landed in inventory: long on the buy venue, short on the sell.
	require.InDelta(t, 2.0, h.led.Position("alpha", "BTC-USD"), 1e-9)
	require.InDelta(t, -2.0, h.led.Position("beta", "BTC-USD"), 1e-9)
}

func TestExecuteSellRejectedUnwinds(t *testing.T) {
	h := newHarness(t, Config{AttemptTimeout: 2 * time.Second})
	h.sell.rejectPlace = true

	att, err := h.coord.Execute(context.Background(), testOpportunity(), h.release)
	require.NoError(t, err)

	require.Equal(t, domain.AttemptStatePartiallyUnwound, att.State)
	require.NotNil(t, att.Outcome)
	require.InDelta(t, 2.0, att.Outcome.UnwoundSize, 1e-9)
	require.False(t, att.Outcome.Escalated)
	require.True(t, *h.freed)

	// Third order is the unwind: a sell on the buy venue, flagged.
	require.Len(t, att.Orders, 3)
	uo := att.Orders[2]
	require.True(t, uo.Unwind)
	require.Equal(t, "alpha", uo.VenueID)
	require.Equal(t, domain.OrderSideSell, uo.Side)

	// Buy fill then unwind sell nets the inventory back to flat.
	require.InDelta(t, 0, h.led.Position("alpha", "BTC-USD"), 1e-9)
	require.InDelta(t, 0, h.led.Position("beta", "BTC-USD"), 1e-9)
}

func TestExecuteUnwindFailureEscalates(t *testing.T) {
	h := newHarness(t, Config{AttemptTimeout: 2 * time.Second})
	h.sell.rejectPlace = true
	// The unwind goes back to the buy venue; accept only the original buy
	// leg so the unwind placement bounces.
	h.buy.rejectAfter = 1

	att, err := h.coord.Execute(context.Background(), testOpportunity(), h.release)
	require.NoError(t, err)

	require.Equal(t, domain.AttemptStateFailed, att.State)
	require.NotNil(t, att.Outcome)
	require.True(t, att.Outcome.Escalated)
	require.Equal(t, "unwind placement failed", att.Outcome.Detail)
	require.False(t, *h.freed, "lease must stay held until an operator resolves the exposure")

	// Exposure from the filled buy leg is still on the book.
	require.InDelta(t, 2.0, h.led.Position("alpha", "BTC-USD"), 1e-9)
}

func TestExecuteBothLegsRejected(t *testing.T) {
	h := newHarness(t, Config{AttemptTimeout: 2 * time.Second})
	h.buy.rejectPlace = true
	h.sell.rejectPlace = true

	att, err := h.coord.Execute(context.Background(), testOpportunity(), h.release)
	require.NoError(t, err)

	require.Equal(t, domain.AttemptStateFailed, att.State)
	require.NotNil(t, att.Outcome)
	require.False(t, att.Outcome.Escalated, "nothing at risk, no escalation")
	require.Equal(t, "aborted: no leg filled", att.Outcome.Detail)
	require.True(t, *h.freed, "lease released when no money moved")
	require.Zero(t, h.led.Position("alpha", "BTC-USD"))
}

func TestExecuteSilentVenueEscalates(t *testing.T) {
	h := newHarness(t, Config{AttemptTimeout: 150 * time.Millisecond})
	h.sell.silent = true

	att, err := h.coord.Execute(context.Background(), testOpportunity(), h.release)
	require.NoError(t, err)

	require.Equal(t, domain.AttemptStateFailed, att.State)
	require.NotNil(t, att.Outcome)
	require.True(t, att.Outcome.Escalated)
	require.Contains(t, att.Outcome.Detail, "beta")
	require.False(t, *h.freed, "lease kept on escalated failure")

	// Cancel was attempted on the stuck leg.
	require.NotEmpty(t, h.sell.cancelled)
}

func TestExecuteTransitionHistoryIsForwardOnly(t *testing.T) {
	h := newHarness(t, Config{AttemptTimeout: 2 * time.Second})

	att, err := h.coord.Execute(context.Background(), testOpportunity(), h.release)
	require.NoError(t, err)

	entries, err := h.store.EntriesByAttempt(context.Background(), att.ID)
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	want := []domain.AttemptState{
		domain.AttemptStatePlanning,
		domain.AttemptStatePlacing,
		domain.AttemptStateAwaitingFills,
		domain.AttemptStateSettling,
		domain.AttemptStateCompleted,
	}
	require.Len(t, entries, len(want))
	for i, e := range entries {
		require.Equal(t, want[i], e.ToState)
		if i > 0 {
			require.Equal(t, entries[i-1].ToState, e.FromState)
		}
	}
}

// ctxStore fails writes once the request context is cancelled, the way a
// networked store does.
type ctxStore struct {
	*ledger.MemoryStore
}

func (s ctxStore) AppendEntry(ctx context.Context, e domain.LedgerEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.MemoryStore.AppendEntry(ctx, e)
}

func (s ctxStore) SaveAttempt(ctx context.Context, att domain.ExecutionAttempt) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.MemoryStore.SaveAttempt(ctx, att)
}

func TestExecuteRecordsTerminalStateAfterShutdown(t *testing.T) {
	store := ledger.NewMemoryStore()
	led := ledger.New(ctxStore{store}, ledger.NopBus{}, slog.New(slog.DiscardHandler))
	buy := newFakeVenue("alpha")
	sell := newFakeVenue("beta")
	sell.silent = true
	coord := New(map[string]domain.VenueExecutor{
		"alpha": buy,
		"beta":  sell,
	}, led, Config{AttemptTimeout: 2 * time.Second}, slog.New(slog.DiscardHandler))

	runCtx, stop := context.WithCancel(context.Background())
	defer stop()
	go func() { _ = coord.Run(runCtx) }()

	// Cancel the attempt context while the sell leg is still pending, as a
	// graceful drain does.
	execCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	freed := false
	att, err := coord.Execute(execCtx, testOpportunity(), func() { freed = true })
	require.NoError(t, err, "shutdown must not abort settlement bookkeeping")

	require.True(t, att.State.Terminal())
	require.NotNil(t, att.Outcome)
	require.True(t, att.Outcome.Escalated)
	require.False(t, freed)

	// The settling and terminal transitions landed despite the cancelled
	// context.
	entries, err := store.EntriesByAttempt(context.Background(), att.ID)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	require.Equal(t, domain.AttemptStateSettling, entries[len(entries)-2].ToState)
	require.Equal(t, att.State, entries[len(entries)-1].ToState)
}

func TestRealizedPnLUsesModeledFees(t *testing.T) {
	h := newHarness(t, Config{
		AttemptTimeout: 2 * time.Second,
		VenueFeeBps:    map[string]float64{"alpha": 10, "beta": 10},
	})

	att, err := h.coord.Execute(context.Background(), testOpportunity(), h.release)
	require.NoError(t, err)
	require.Equal(t, domain.AttemptStateCompleted, att.State)

	// Gross 2.0; fees 10bps on 200 notional + 10bps on 202 notional.
	wantFees := 0.001*200 + 0.001*202
	require.InDelta(t, 2.0-wantFees, att.Outcome.RealizedPnLUSD, 1e-9)
}
