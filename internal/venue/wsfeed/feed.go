// Package wsfeed implements a websocket venue quote feed. It owns the
// connection lifecycle: dial, subscribe, read, and reconnect with jittered
// backoff. The core only ever sees a channel of quotes; a reconnect shows
// up downstream as a gap in sequence numbers.
package wsfeed

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"

	"github.com/alanyoungcy/arbcore/internal/crypto"
	"github.com/alanyoungcy/arbcore/internal/domain"
)

// Config holds the connection parameters for one venue feed.
type Config struct {
	VenueID string
	URL     string
	// Auth signs the subscribe request for venues that require it. Nil for
	// public market data.
	Auth *crypto.HMACAuth

	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
	PingInterval     time.Duration
}

// frame is the wire format for one top-of-book update.
type frame struct {
	Symbol   string  `json:"symbol"`
	Bid      float64 `json:"bid"`
	BidSize  float64 `json:"bid_size"`
	Ask      float64 `json:"ask"`
	AskSize  float64 `json:"ask_size"`
	Sequence uint64  `json:"seq"`
	TS       int64   `json:"ts"` // unix milliseconds
}

// subscribeMsg requests top-of-book streams for a set of symbols.
type subscribeMsg struct {
	Op      string   `json:"op"`
	Symbols []string `json:"symbols"`
}

// Feed is a reconnecting websocket quote feed for one venue.
type Feed struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a Feed. Defaults: 10s handshake, 60s read timeout, 30s pings.
func New(cfg Config, logger *slog.Logger) *Feed {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 60 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	return &Feed{
		cfg: cfg,
		logger: logger.With(
			slog.String("component", "wsfeed"),
			slog.String("venue", cfg.VenueID),
		),
	}
}

var _ domain.VenueFeed = (*Feed)(nil)

func (f *Feed) VenueID() string { return f.cfg.VenueID }

// Subscribe starts the connection loop and returns the quote channel. The
// channel closes when ctx is cancelled.
func (f *Feed) Subscribe(ctx context.Context, instruments []domain.Instrument) (<-chan domain.VenueQuote, error) {
	symbols := make([]string, len(instruments))
	for i, inst := range instruments {
		symbols[i] = string(inst)
	}

	out := make(chan domain.VenueQuote, 64)
	go f.runLoop(ctx, symbols, out)
	return out, nil
}

func (f *Feed) runLoop(ctx context.Context, symbols []string, out chan<- domain.VenueQuote) {
	defer close(out)

	bo := &backoff.Backoff{
		Min:    250 * time.Millisecond,
		Max:    30 * time.Second,
		Factor: 2,
		Jitter: true,
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, err := f.connect(ctx, symbols)
		if err != nil {
			delay := bo.Duration()
			f.logger.Warn("connect failed",
				slog.String("error", err.Error()),
				slog.Duration("retry_in", delay),
			)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
				continue
			}
		}

		bo.Reset()
		f.logger.Info("connected", slog.String("url", f.cfg.URL))
		f.readLoop(ctx, conn, out)
		_ = conn.Close()
	}
}

func (f *Feed) connect(ctx context.Context, symbols []string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: f.cfg.HandshakeTimeout}

	header := make(http.Header)
	if f.cfg.Auth != nil {
		for k, v := range f.cfg.Auth.SignedHeaders("GET", "/ws", "") {
			header.Set(k, v)
		}
	}

	conn, _, err := dialer.DialContext(ctx, f.cfg.URL, header)
	if err != nil {
		return nil, err
	}
	if err := conn.WriteJSON(subscribeMsg{Op: "subscribe", Symbols: symbols}); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

// readLoop pumps frames into out until the connection dies or ctx is
// cancelled. Malformed frames are logged and dropped; the stream continues.
func (f *Feed) readLoop(ctx context.Context, conn *websocket.Conn, out chan<- domain.VenueQuote) {
	stop := make(chan struct{})
	defer close(stop)
	go f.pingLoop(ctx, conn, stop)

	for {
		_ = conn.SetReadDeadline(time.Now().Add(f.cfg.ReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				f.logger.Warn("read failed, reconnecting", slog.String("error", err.Error()))
			}
			return
		}

		var fr frame
		if err := json.Unmarshal(msg, &fr); err != nil || fr.Symbol == "" {
			f.logger.Debug("dropping malformed frame", slog.Int("bytes", len(msg)))
			continue
		}

		q := domain.VenueQuote{
			VenueID:    f.cfg.VenueID,
			Instrument: domain.Instrument(fr.Symbol),
			BidPrice:   fr.Bid,
			BidSize:    fr.BidSize,
			AskPrice:   fr.Ask,
			AskSize:    fr.AskSize,
			Sequence:   fr.Sequence,
			ObservedAt: time.UnixMilli(fr.TS).UTC(),
		}
		select {
		case out <- q:
		case <-ctx.Done():
			return
		}
	}
}

func (f *Feed) pingLoop(ctx context.Context, conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(f.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			deadline := time.Now().Add(5 * time.Second)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}
