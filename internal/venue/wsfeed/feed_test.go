package wsfeed

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbcore/internal/domain"
)

var upgrader = websocket.Upgrader{}

func wsURL(s *httptest.Server) string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func TestSubscribeReceivesQuotes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		// Consume the subscribe message first.
		var sub subscribeMsg
		require.NoError(t, conn.ReadJSON(&sub))
		require.Equal(t, "subscribe", sub.Op)
		require.Equal(t, []string{"BTC-USD"}, sub.Symbols)

		frames := []frame{
			{Symbol: "BTC-USD", Bid: 99.5, BidSize: 3, Ask: 100.5, AskSize: 2, Sequence: 1, TS: 1700000000000},
			{Symbol: "BTC-USD", Bid: 99.6, BidSize: 3, Ask: 100.4, AskSize: 2, Sequence: 2, TS: 1700000000100},
		}
		for _, fr := range frames {
			require.NoError(t, conn.WriteJSON(fr))
		}
		// Hold the connection open until the client goes away.
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed := New(Config{VenueID: "alpha", URL: wsURL(srv)}, slog.New(slog.DiscardHandler))
	quotes, err := feed.Subscribe(ctx, []domain.Instrument{"BTC-USD"})
	require.NoError(t, err)

	q1 := recvQuote(t, quotes)
	require.Equal(t, "alpha", q1.VenueID)
	require.Equal(t, domain.Instrument("BTC-USD"), q1.Instrument)
	require.Equal(t, uint64(1), q1.Sequence)
	require.InDelta(t, 99.5, q1.BidPrice, 1e-9)

	q2 := recvQuote(t, quotes)
	require.Equal(t, uint64(2), q2.Sequence)
	require.InDelta(t, 100.4, q2.AskPrice, 1e-9)
}

func TestMalformedFramesAreDropped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		_, _, _ = conn.ReadMessage() // subscribe

		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"no_symbol":true}`)))

		good, _ := json.Marshal(frame{Symbol: "ETH-USD", Bid: 10, BidSize: 1, Ask: 11, AskSize: 1, Sequence: 7})
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, good))
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed := New(Config{VenueID: "beta", URL: wsURL(srv)}, slog.New(slog.DiscardHandler))
	quotes, err := feed.Subscribe(ctx, []domain.Instrument{"ETH-USD"})
	require.NoError(t, err)

	// The two garbage frames never surface; the good one does.
	q := recvQuote(t, quotes)
	require.Equal(t, uint64(7), q.Sequence)
}

func TestReconnectAfterDrop(t *testing.T) {
	var conns int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		_, _, _ = conn.ReadMessage() // subscribe

		conns++
		seq := uint64(conns * 100)
		require.NoError(t, conn.WriteJSON(frame{Symbol: "BTC-USD", Bid: 1, BidSize: 1, Ask: 2, AskSize: 1, Sequence: seq}))
		if conns == 1 {
			return // drop the first connection right away
		}
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed := New(Config{VenueID: "alpha", URL: wsURL(srv)}, slog.New(slog.DiscardHandler))
	quotes, err := feed.Subscribe(ctx, []domain.Instrument{"BTC-USD"})
	require.NoError(t, err)

	q1 := recvQuote(t, quotes)
	require.Equal(t, uint64(100), q1.Sequence)

	// After the server drops us, the feed reconnects on its own.
	q2 := recvQuote(t, quotes)
	require.Equal(t, uint64(200), q2.Sequence)
}

func recvQuote(t *testing.T, ch <-chan domain.VenueQuote) domain.VenueQuote {
	t.Helper()
	select {
	case q := <-ch:
		return q
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for quote")
		return domain.VenueQuote{}
	}
}
