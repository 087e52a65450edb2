package restexec

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbcore/internal/crypto"
	"github.com/alanyoungcy/arbcore/internal/domain"
)

// fakeVenueAPI is an httptest-backed order API that fills orders on the
// second status query.
type fakeVenueAPI struct {
	mu      sync.Mutex
	orders  map[string]orderRequest
	queries map[string]int
	headers http.Header
}

func newFakeVenueAPI() *fakeVenueAPI {
	return &fakeVenueAPI{
		orders:  make(map[string]orderRequest),
		queries: make(map[string]int),
	}
}

func (f *fakeVenueAPI) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /orders", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.headers = r.Header.Clone()
		f.mu.Unlock()

		var req orderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.orders[req.OrderID] = req
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(orderResponse{OrderID: req.OrderID, Accepted: true})
	})
	mux.HandleFunc("GET /orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		f.mu.Lock()
		req, ok := f.orders[id]
		f.queries[id]++
		n := f.queries[id]
		f.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		status := string(domain.OrderStatusAcknowledged)
		var filled float64
		if n >= 2 {
			status = string(domain.OrderStatusFilled)
			filled = req.Size
		}
		_ = json.NewEncoder(w).Encode(statusResponse{
			OrderID:    id,
			Status:     status,
			FilledSize: filled,
			FillPrice:  req.Price,
			TS:         time.Now().UnixMilli(),
		})
	})
	mux.HandleFunc("DELETE /orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(orderResponse{OrderID: r.PathValue("id"), Accepted: true})
	})
	return mux
}

func TestPlaceAndPollToFill(t *testing.T) {
	api := newFakeVenueAPI()
	srv := httptest.NewServer(api.handler())
	defer srv.Close()

	ex := New(Config{
		VenueID:      "alpha",
		BaseURL:      srv.URL,
		Auth:         &crypto.HMACAuth{Key: "k", Secret: "s"},
		PollInterval: 20 * time.Millisecond,
	}, slog.New(slog.DiscardHandler))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = ex.Start(ctx) }()

	ack, err := ex.Place(ctx, domain.Order{
		ID:         "ord-1",
		VenueID:    "alpha",
		Instrument: "BTC-USD",
		Side:       domain.OrderSideBuy,
		PriceTicks: domain.ToTicks(100),
		SizeUnits:  domain.ToTicks(2),
	})
	require.NoError(t, err)
	require.True(t, ack.Accepted)

	// Auth headers rode along with the placement.
	require.NotEmpty(t, api.headers.Get("X-API-KEY"))
	require.NotEmpty(t, api.headers.Get("X-API-SIGNATURE"))

	// The poller surfaces the fill without any explicit Status call.
	deadline := time.After(5 * time.Second)
	for {
		select {
		case u := <-ex.Updates():
			if u.Status == domain.OrderStatusFilled {
				require.InDelta(t, 2.0, u.FilledSize, 1e-9)
				require.InDelta(t, 100.0, u.FillPrice, 1e-9)
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for fill update")
		}
	}
}

func TestStatusUnknownOrder(t *testing.T) {
	api := newFakeVenueAPI()
	srv := httptest.NewServer(api.handler())
	defer srv.Close()

	ex := New(Config{VenueID: "alpha", BaseURL: srv.URL}, slog.New(slog.DiscardHandler))

	_, err := ex.Status(context.Background(), "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCancel(t *testing.T) {
	api := newFakeVenueAPI()
	srv := httptest.NewServer(api.handler())
	defer srv.Close()

	ex := New(Config{VenueID: "alpha", BaseURL: srv.URL}, slog.New(slog.DiscardHandler))

	ok, err := ex.Cancel(context.Background(), "ord-1")
	require.NoError(t, err)
	require.True(t, ok)
}
