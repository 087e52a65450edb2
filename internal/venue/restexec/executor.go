// Package restexec implements a venue order gateway over a signed REST
// API. Orders are placed and cancelled synchronously; fills are observed by
// polling order status, surfaced on the Updates channel.
package restexec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/alanyoungcy/arbcore/internal/crypto"
	"github.com/alanyoungcy/arbcore/internal/domain"
)

// Config holds the connection parameters for one venue gateway.
type Config struct {
	VenueID string
	BaseURL string
	Auth    *crypto.HMACAuth

	RequestTimeout time.Duration
	PollInterval   time.Duration
}

// orderRequest is the wire format for order placement.
type orderRequest struct {
	OrderID    string  `json:"order_id"`
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"`
	Price      float64 `json:"price"`
	Size       float64 `json:"size"`
	ReduceOnly bool    `json:"reduce_only"`
}

// orderResponse is the venue's acceptance response.
type orderResponse struct {
	OrderID  string `json:"order_id"`
	Accepted bool   `json:"accepted"`
	Message  string `json:"message"`
}

// statusResponse is the venue's order state snapshot.
type statusResponse struct {
	OrderID    string  `json:"order_id"`
	Status     string  `json:"status"`
	FilledSize float64 `json:"filled_size"`
	FillPrice  float64 `json:"fill_price"`
	FeeUSD     float64 `json:"fee_usd"`
	TS         int64   `json:"ts"` // unix milliseconds
}

// Executor is a polling REST order gateway for one venue.
type Executor struct {
	cfg     Config
	client  *http.Client
	updates chan domain.OrderUpdate
	logger  *slog.Logger

	mu   sync.Mutex
	open map[string]struct{}
}

// New creates an Executor. Start must be called before orders are placed so
// the status poller is running.
func New(cfg Config, logger *slog.Logger) *Executor {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 200 * time.Millisecond
	}
	return &Executor{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.RequestTimeout},
		updates: make(chan domain.OrderUpdate, 256),
		logger: logger.With(
			slog.String("component", "restexec"),
			slog.String("venue", cfg.VenueID),
		),
		open: make(map[string]struct{}),
	}
}

var _ domain.VenueExecutor = (*Executor)(nil)

func (e *Executor) VenueID() string { return e.cfg.VenueID }

// Start runs the status poller until ctx is cancelled.
func (e *Executor) Start(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.pollOpen(ctx)
		}
	}
}

// Place submits an order. The order is tracked by the poller until the
// venue reports a terminal status.
func (e *Executor) Place(ctx context.Context, o domain.Order) (domain.OrderAck, error) {
	body := orderRequest{
		OrderID:    o.ID,
		Symbol:     string(o.Instrument),
		Side:       string(o.Side),
		Price:      o.Price(),
		Size:       o.Size(),
		ReduceOnly: o.Unwind,
	}
	var resp orderResponse
	if err := e.do(ctx, http.MethodPost, "/orders", body, &resp); err != nil {
		return domain.OrderAck{}, fmt.Errorf("restexec: place %s: %w", o.ID, err)
	}
	if resp.Accepted {
		e.mu.Lock()
		e.open[o.ID] = struct{}{}
		e.mu.Unlock()
	}
	return domain.OrderAck{OrderID: o.ID, Accepted: resp.Accepted, Message: resp.Message}, nil
}

// Cancel requests cancellation. Cancelling an unknown or already terminal
// order is not an error.
func (e *Executor) Cancel(ctx context.Context, orderID string) (bool, error) {
	var resp orderResponse
	err := e.do(ctx, http.MethodDelete, "/orders/"+orderID, nil, &resp)
	if err != nil {
		return false, fmt.Errorf("restexec: cancel %s: %w", orderID, err)
	}
	return resp.Accepted, nil
}

// Status queries the venue for the current order state.
func (e *Executor) Status(ctx context.Context, orderID string) (domain.OrderUpdate, error) {
	var resp statusResponse
	if err := e.do(ctx, http.MethodGet, "/orders/"+orderID, nil, &resp); err != nil {
		return domain.OrderUpdate{}, fmt.Errorf("restexec: status %s: %w", orderID, err)
	}
	return toUpdate(resp), nil
}

// Updates returns the order notification stream fed by the poller.
func (e *Executor) Updates() <-chan domain.OrderUpdate {
	return e.updates
}

// pollOpen queries every tracked order once and emits its state. Terminal
// orders leave the tracked set.
func (e *Executor) pollOpen(ctx context.Context) {
	e.mu.Lock()
	ids := make([]string, 0, len(e.open))
	for id := range e.open {
		ids = append(ids, id)
	}
	e.mu.Unlock()

	for _, id := range ids {
		u, err := e.Status(ctx, id)
		if err != nil {
			e.logger.Warn("status poll failed",
				slog.String("order_id", id),
				slog.String("error", err.Error()),
			)
			continue
		}
		select {
		case e.updates <- u:
		default:
			// A full channel means nobody is draining; drop rather than
			// stall the poller. Status re-query covers the gap.
		}
		if u.Status.Terminal() {
			e.mu.Lock()
			delete(e.open, id)
			e.mu.Unlock()
		}
	}
}

func (e *Executor) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = b
	}

	req, err := http.NewRequestWithContext(ctx, method, e.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if e.cfg.Auth != nil {
		for k, v := range e.cfg.Auth.SignedHeaders(method, path, string(payload)) {
			req.Header.Set(k, v)
		}
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusNotFound {
		return domain.ErrNotFound
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("http %d: %s", resp.StatusCode, raw)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func toUpdate(r statusResponse) domain.OrderUpdate {
	return domain.OrderUpdate{
		OrderID:    r.OrderID,
		Status:     domain.OrderStatus(r.Status),
		FilledSize: r.FilledSize,
		FillPrice:  r.FillPrice,
		FeeUSD:     r.FeeUSD,
		Timestamp:  time.UnixMilli(r.TS).UTC(),
	}
}
