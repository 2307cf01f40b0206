// Package feed streams live prices from the Polymarket CLOB market channel
// into a prices.Live store.
package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/polyagent/arb-engine/internal/catalog"
	"github.com/polyagent/arb-engine/internal/metrics"
	"github.com/polyagent/arb-engine/internal/prices"
)

// DefaultURL is the public market channel endpoint.
const DefaultURL = "wss://ws-subscriptions-clob.polymarket.com/ws/market"

const (
	// pingInterval is how often a text "PING" is sent; the server answers "PONG".
	pingInterval = 10 * time.Second

	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// reconnectDelay is the pause before reconnecting after a disconnect.
	reconnectDelay = 3 * time.Second

	// maxAssetsPerSubscription is the server's limit per subscribe message.
	maxAssetsPerSubscription = 500

	// tokenCheckInterval is how often the token set is compared with the
	// subscribed one; a change forces a resubscribe.
	tokenCheckInterval = 30 * time.Second
)

// Event types handled by the streamer.
const (
	EventPriceChange    = "price_change"
	EventLastTradePrice = "last_trade_price"
)

var (
	errNoTokens      = errors.New("feed: no tokens to subscribe")
	errTokensChanged = errors.New("feed: token set changed")
)

// TokenSource supplies the outcome tokens to subscribe to.
type TokenSource interface {
	Tokens() map[string]catalog.Token
}

// Streamer keeps a websocket subscription open and writes each token's best
// bid into the live price store. It reconnects until its context ends.
type Streamer struct {
	url    string
	tokens TokenSource
	live   prices.Live
	logger *slog.Logger
	dialer *websocket.Dialer
	now    func() time.Time

	// tokenCheck is how often the catalog tokens are re-read.
	tokenCheck time.Duration

	mu      sync.Mutex
	bestBid map[string]decimal.Decimal // token id -> best bid
	updates int
}

// New creates a streamer. An empty url means DefaultURL.
func New(url string, tokens TokenSource, live prices.Live, logger *slog.Logger) *Streamer {
	if url == "" {
		url = DefaultURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Streamer{
		url:     url,
		tokens:  tokens,
		live:    live,
		logger:  logger.With(slog.String("component", "price_feed")),
		dialer:  websocket.DefaultDialer,
		now:     func() time.Time { return time.Now().UTC() },
		bestBid: make(map[string]decimal.Decimal),

		tokenCheck: tokenCheckInterval,
	}
}

// Updates returns the number of price updates applied so far.
func (s *Streamer) Updates() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updates
}

// Run streams until ctx is cancelled. It returns nil on cancellation.
func (s *Streamer) Run(ctx context.Context) error {
	for {
		err := s.stream(ctx)
		if ctx.Err() != nil {
			s.logger.Info("price feed stopped", slog.Int("updates", s.Updates()))
			return nil
		}
		switch {
		case errors.Is(err, errTokensChanged):
			s.logger.Info("catalog tokens changed, resubscribing")
			continue
		case errors.Is(err, errNoTokens):
			s.logger.Debug("no tokens in catalog yet, waiting")
		default:
			metrics.FeedReconnects.Inc()
			s.logger.Warn("price feed disconnected, reconnecting", slog.Any("err", err))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(reconnectDelay):
		}
	}
}

type subscribeMessage struct {
	AssetsIDs []string `json:"assets_ids"`
	Type      string   `json:"type"`
}

func (s *Streamer) stream(ctx context.Context) error {
	tokens := s.tokens.Tokens()
	if len(tokens) == 0 {
		return errNoTokens
	}
	ids := make([]string, 0, len(tokens))
	for id := range tokens {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("feed: dial %s: %w", s.url, err)
	}
	defer conn.Close()
	s.logger.Info("price feed connected", slog.String("url", s.url))

	for i := 0; i < len(ids); i += maxAssetsPerSubscription {
		batch := ids[i:min(i+maxAssetsPerSubscription, len(ids))]
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(subscribeMessage{AssetsIDs: batch, Type: "market"}); err != nil {
			return fmt.Errorf("feed: subscribe: %w", err)
		}
		s.logger.Info("subscribed", slog.Int("assets", len(batch)), slog.Int("batch", i/maxAssetsPerSubscription+1))
	}

	var changed atomic.Bool
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		check := time.NewTicker(s.tokenCheck)
		defer check.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				// Unblock ReadMessage.
				conn.Close()
				return
			case <-check.C:
				if !sameTokens(tokens, s.tokens.Tokens()) {
					changed.Store(true)
					conn.Close()
					return
				}
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.TextMessage, []byte("PING")); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if changed.Load() {
				return errTokensChanged
			}
			return fmt.Errorf("feed: read: %w", err)
		}
		s.handleMessage(ctx, tokens, data)
	}
}

func sameTokens(a, b map[string]catalog.Token) bool {
	if len(a) != len(b) {
		return false
	}
	for id, tok := range a {
		if other, ok := b[id]; !ok || other != tok {
			return false
		}
	}
	return true
}

type message struct {
	EventType string          `json:"event_type"`
	AssetID   string          `json:"asset_id"`
	Price     json.RawMessage `json:"price"`
}

type priceLevels struct {
	BestBid *decimal.Decimal `json:"best_bid"`
	BestAsk *decimal.Decimal `json:"best_ask"`
}

// handleMessage applies one frame, which may hold a single event or an
// array of events. Non-JSON frames such as "PONG" are ignored. It returns
// the number of updates applied.
func (s *Streamer) handleMessage(ctx context.Context, tokens map[string]catalog.Token, raw []byte) int {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("PONG")) {
		return 0
	}

	var msgs []message
	if raw[0] == '[' {
		if err := json.Unmarshal(raw, &msgs); err != nil {
			return 0
		}
	} else {
		var m message
		if err := json.Unmarshal(raw, &m); err != nil {
			return 0
		}
		msgs = []message{m}
	}

	applied := 0
	for _, m := range msgs {
		tok, ok := tokens[m.AssetID]
		if !ok {
			continue
		}
		switch m.EventType {
		case EventPriceChange:
			bid, ok := parseBestBid(m.Price)
			if !ok {
				continue
			}
			if s.apply(ctx, m.EventType, m.AssetID, tok, bid, true) {
				applied++
			}
		case EventLastTradePrice:
			var p decimal.Decimal
			if len(m.Price) == 0 || bytes.Equal(m.Price, []byte("null")) || p.UnmarshalJSON(m.Price) != nil {
				continue
			}
			// A trade print only seeds the price until a bid arrives.
			if s.apply(ctx, m.EventType, m.AssetID, tok, p, false) {
				applied++
			}
		}
	}
	return applied
}

// parseBestBid reads the price field of a price_change event, which is
// either {"best_bid": .., "best_ask": ..} or a flat number.
func parseBestBid(raw json.RawMessage) (decimal.Decimal, bool) {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return decimal.Zero, false
	}
	if raw[0] == '{' {
		var lv priceLevels
		if err := json.Unmarshal(raw, &lv); err != nil || lv.BestBid == nil {
			return decimal.Zero, false
		}
		return *lv.BestBid, true
	}
	var p decimal.Decimal
	if err := p.UnmarshalJSON(raw); err != nil || p.IsZero() {
		return decimal.Zero, false
	}
	return p, true
}

func (s *Streamer) apply(ctx context.Context, event, assetID string, tok catalog.Token, bid decimal.Decimal, overwrite bool) bool {
	s.mu.Lock()
	if _, known := s.bestBid[assetID]; known && !overwrite {
		s.mu.Unlock()
		return false
	}
	s.bestBid[assetID] = bid
	s.updates++
	s.mu.Unlock()

	if err := s.live.Set(ctx, tok.MarketID, tok.Outcome, bid, s.now()); err != nil {
		s.logger.Warn("store streamed price", slog.String("market_id", tok.MarketID), slog.Any("err", err))
		return false
	}
	metrics.FeedUpdates.WithLabelValues(event).Inc()
	return true
}
