package marketstate

import (
	"log/slog"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbcore/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func quote(venue string, inst domain.Instrument, seq uint64, bid, ask float64) domain.VenueQuote {
	return domain.VenueQuote{
		VenueID:    venue,
		Instrument: inst,
		BidPrice:   bid,
		BidSize:    10,
		AskPrice:   ask,
		AskSize:    10,
		ObservedAt: time.Now(),
		Sequence:   seq,
	}
}

func TestUpdateDropsStaleSequence(t *testing.T) {
	s := New(testLogger())
	inst := domain.Instrument("BTC-USDT")

	require.True(t, s.Update(quote("binance", inst, 5, 100, 101)))
	require.False(t, s.Update(quote("binance", inst, 5, 200, 201)), "equal sequence must be dropped")
	require.False(t, s.Update(quote("binance", inst, 3, 300, 301)), "lower sequence must be dropped")
	require.True(t, s.Update(quote("binance", inst, 6, 102, 103)))

	snap := s.Snapshot(inst)
	require.Equal(t, 102.0, snap["binance"].BidPrice)
	require.Equal(t, uint64(6), snap["binance"].Sequence)
}

// Applying a shuffled update stream must yield the same state as applying
// only its in-order subsequence.
func TestUpdateOutOfOrderEquivalence(t *testing.T) {
	inst := domain.Instrument("ETH-USDT")

	updates := make([]domain.VenueQuote, 0, 50)
	for seq := uint64(1); seq <= 50; seq++ {
		updates = append(updates, quote("kraken", inst, seq, float64(1000+seq), float64(1001+seq)))
	}

	ordered := New(testLogger())
	for _, q := range updates {
		ordered.Update(q)
	}

	shuffled := New(testLogger())
	r := rand.New(rand.NewSource(42))
	perm := r.Perm(len(updates))
	var applied uint64
	for _, i := range perm {
		if updates[i].Sequence > applied {
			applied = updates[i].Sequence
		}
		shuffled.Update(updates[i])
	}
	// The highest sequence seen so far wins regardless of arrival order.
	require.Equal(t, ordered.Snapshot(inst)["kraken"].Sequence, uint64(50))
	require.Equal(t, shuffled.Snapshot(inst)["kraken"].Sequence, applied)
	require.Equal(t, float64(1000+applied), shuffled.Snapshot(inst)["kraken"].BidPrice)
}

func TestSnapshotIsIndependentCopy(t *testing.T) {
	s := New(testLogger())
	inst := domain.Instrument("BTC-USDT")
	s.Update(quote("binance", inst, 1, 100, 101))

	snap := s.Snapshot(inst)
	snap["binance"] = quote("binance", inst, 99, 1, 2)

	require.Equal(t, uint64(1), s.Snapshot(inst)["binance"].Sequence)
}

func TestConcurrentWritersAndReaders(t *testing.T) {
	s := New(testLogger())
	inst := domain.Instrument("BTC-USDT")
	venues := []string{"binance", "kraken", "okx", "bybit"}

	var wg sync.WaitGroup
	for _, v := range venues {
		wg.Add(1)
		go func(v string) {
			defer wg.Done()
			for seq := uint64(1); seq <= 500; seq++ {
				s.Update(quote(v, inst, seq, 100, 101))
			}
		}(v)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			snap := s.Snapshot(inst)
			for _, q := range snap {
				// A snapshot must never contain a torn quote.
				require.Equal(t, 100.0, q.BidPrice)
				require.Equal(t, 101.0, q.AskPrice)
			}
		}
	}()

	wg.Wait()
	<-done

	for _, v := range venues {
		require.Equal(t, uint64(500), s.Snapshot(inst)[v].Sequence)
	}
}

func TestUpdateNotifies(t *testing.T) {
	s := New(testLogger())
	inst := domain.Instrument("SOL-USDT")
	s.Update(quote("okx", inst, 1, 50, 51))

	select {
	case got := <-s.Updates():
		require.Equal(t, inst, got)
	default:
		t.Fatal("expected a change notification")
	}
}
