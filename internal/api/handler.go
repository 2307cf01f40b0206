// Package api provides the HTTP handlers for browsing pairs, checking
// arbitrage and paper trading against the simulated portfolio.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/polyagent/arb-engine/internal/arbitrage"
	"github.com/polyagent/arb-engine/internal/catalog"
	"github.com/polyagent/arb-engine/internal/ledger"
	"github.com/polyagent/arb-engine/internal/metrics"
	"github.com/polyagent/arb-engine/internal/model"
)

// PairCatalog is the catalog surface the handlers need.
type PairCatalog interface {
	catalog.Catalog
	All(ctx context.Context, keyword string) []model.Pair
	Len() int
	Loaded() bool
}

// Handler serves the REST API.
type Handler struct {
	catalog PairCatalog
	prices  catalog.PriceSource
	ledger  *ledger.Ledger
	hub     *WSHub // optional
}

// NewHandler creates the API handler. prices supplies live quotes for pair
// listings and arbitrage checks. Pass nil for hub if WebSocket broadcasting
// is not needed.
func NewHandler(c PairCatalog, prices catalog.PriceSource, l *ledger.Ledger, hub *WSHub) *Handler {
	return &Handler{catalog: c, prices: prices, ledger: l, hub: hub}
}

// Routes mounts every endpoint on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/health", h.Health)
	r.Route("/api", func(r chi.Router) {
		r.Get("/pairs", h.ListPairs)
		r.Get("/pairs/{pairID}", h.GetPair)
		r.Get("/pairs/{pairID}/arbitrage", h.GetArbitrage)
		r.Get("/keywords", h.Keywords)
		r.Get("/arbitrage", h.ListOpportunities)

		r.Get("/portfolio", h.GetPortfolio)
		r.Post("/portfolio/trade", h.ExecuteTrade)
		r.Post("/portfolio/reset", h.ResetPortfolio)

		if h.hub != nil {
			r.Get("/ws", h.hub.HandleWS)
		}
	})
}

// --- Request/Response types ---

// TradeRequest is the JSON body for POST /api/portfolio/trade.
type TradeRequest struct {
	PairID string          `json:"pair_id"`
	Amount decimal.Decimal `json:"amount"` // dollars per side
}

// PairResponse is a pair with live prices and its arbitrage verdict.
type PairResponse struct {
	model.Pair
	Arbitrage arbitrage.Report `json:"arbitrage"`
}

// PairsResponse is one page of pairs.
type PairsResponse struct {
	Pairs   []PairResponse `json:"pairs"`
	Total   int            `json:"total"`
	Limit   int            `json:"limit"`
	Offset  int            `json:"offset"`
	HasMore bool           `json:"has_more"`
	Filter  *PairFilter    `json:"filter,omitempty"`
}

// PairFilter echoes the keyword filter of a listing.
type PairFilter struct {
	Keyword string `json:"keyword"`
}

// --- HTTP Handlers ---

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if !h.catalog.Loaded() {
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "unhealthy",
			"error":  "pairs snapshot not loaded",
		})
		return
	}
	n := h.catalog.Len()
	metrics.PairsLoaded.Set(float64(n))
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "healthy",
		"pairs_loaded": n,
	})
}

// ListPairs handles GET /api/pairs?keyword=&limit=&offset=
func (h *Handler) ListPairs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"), catalog.DefaultLimit)
	if err != nil || limit < 1 {
		writeError(w, "limit must be a positive integer", http.StatusBadRequest)
		return
	}
	offset, err := intParam(q.Get("offset"), 0)
	if err != nil || offset < 0 {
		writeError(w, "offset must be a non-negative integer", http.StatusBadRequest)
		return
	}
	keyword := q.Get("keyword")

	ctx := r.Context()
	page, err := h.catalog.ListPairs(ctx, catalog.Filter{Keyword: keyword, Limit: limit, Offset: offset})
	if err != nil {
		writeError(w, "failed to list pairs", http.StatusInternalServerError)
		return
	}

	resp := PairsResponse{
		Pairs:   make([]PairResponse, 0, len(page.Pairs)),
		Total:   page.Total,
		Limit:   page.Limit,
		Offset:  page.Offset,
		HasMore: page.HasMore,
	}
	for _, p := range page.Pairs {
		resp.Pairs = append(resp.Pairs, h.pairResponse(ctx, p))
	}
	if keyword != "" {
		resp.Filter = &PairFilter{Keyword: keyword}
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetPair handles GET /api/pairs/{pairID}
func (h *Handler) GetPair(w http.ResponseWriter, r *http.Request) {
	pairID := chi.URLParam(r, "pairID")

	p, ok := h.lookupPair(w, r, pairID)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.pairResponse(r.Context(), p))
}

// GetArbitrage handles GET /api/pairs/{pairID}/arbitrage
func (h *Handler) GetArbitrage(w http.ResponseWriter, r *http.Request) {
	pairID := chi.URLParam(r, "pairID")

	p, ok := h.lookupPair(w, r, pairID)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, arbitrage.Flatten(arbitrage.EvaluatePair(h.withLivePrices(r.Context(), p))))
}

// Keywords handles GET /api/keywords
func (h *Handler) Keywords(w http.ResponseWriter, r *http.Request) {
	kws, err := h.catalog.Keywords(r.Context())
	if err != nil {
		writeError(w, "failed to load keywords", http.StatusInternalServerError)
		return
	}
	if kws == nil {
		kws = []catalog.KeywordCount{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"keywords":       kws,
		"total_keywords": len(kws),
	})
}

// ListOpportunities handles GET /api/arbitrage?keyword=
// Returns every strictly profitable pair, most profitable first.
func (h *Handler) ListOpportunities(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	keyword := r.URL.Query().Get("keyword")

	opps := arbitrage.Scan(h.catalog.All(ctx, keyword), func(p model.Pair) model.Pair {
		return h.withLivePrices(ctx, p)
	})
	if keyword == "" {
		metrics.Opportunities.Set(float64(len(opps)))
	}

	out := make([]PairResponse, 0, len(opps))
	for _, o := range opps {
		out = append(out, PairResponse{Pair: o.Pair, Arbitrage: arbitrage.Flatten(o.Verdict)})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"opportunities": out,
		"total":         len(out),
	})
}

// GetPortfolio handles GET /api/portfolio
// Returns the portfolio valued against current prices.
func (h *Handler) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	view, err := h.ledger.Value(r.Context())
	if err != nil {
		writeError(w, "failed to load portfolio", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// ExecuteTrade handles POST /api/portfolio/trade
func (h *Handler) ExecuteTrade(w http.ResponseWriter, r *http.Request) {
	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.PairID == "" {
		writeError(w, "pair_id is required", http.StatusBadRequest)
		return
	}

	result, err := h.ledger.ExecuteTrade(r.Context(), req.PairID, req.Amount)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ResetPortfolio handles POST /api/portfolio/reset
func (h *Handler) ResetPortfolio(w http.ResponseWriter, r *http.Request) {
	p, err := h.ledger.Reset(r.Context())
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// --- helpers ---

func (h *Handler) lookupPair(w http.ResponseWriter, r *http.Request, pairID string) (model.Pair, bool) {
	p, err := h.catalog.GetPair(r.Context(), pairID)
	if errors.Is(err, catalog.ErrPairNotFound) {
		writeError(w, "Pair not found: "+pairID, http.StatusNotFound)
		return model.Pair{}, false
	}
	if err != nil {
		writeError(w, "failed to load pair", http.StatusInternalServerError)
		return model.Pair{}, false
	}
	return p, true
}

// withLivePrices replaces the snapshot prices of both markets with the
// current quotes, keeping the snapshot value when a market is unknown.
func (h *Handler) withLivePrices(ctx context.Context, p model.Pair) model.Pair {
	if h.prices == nil {
		return p
	}
	for _, m := range []*model.Market{&p.Market1, &p.Market2} {
		q, err := h.prices.MarketPrices(ctx, m.ID)
		if err != nil {
			continue
		}
		m.YesPrice, m.NoPrice = q.Yes, q.No
	}
	return p
}

func (h *Handler) pairResponse(ctx context.Context, p model.Pair) PairResponse {
	live := h.withLivePrices(ctx, p)
	return PairResponse{Pair: live, Arbitrage: arbitrage.Flatten(arbitrage.EvaluatePair(live))}
}

func intParam(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}

// writeLedgerError maps ledger errors to HTTP statuses. Validation errors
// carry their kind; a missing pair is a 404.
func writeLedgerError(w http.ResponseWriter, err error) {
	if ve, ok := ledger.AsValidation(err); ok {
		status := http.StatusBadRequest
		if ve.Kind == ledger.KindPairNotFound {
			status = http.StatusNotFound
		}
		writeJSON(w, status, map[string]string{"error": ve.Message, "kind": string(ve.Kind)})
		return
	}
	if !errors.Is(err, ledger.ErrPersistence) {
		slog.Error("unexpected ledger error", "err", err)
	}
	writeError(w, "internal error", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
