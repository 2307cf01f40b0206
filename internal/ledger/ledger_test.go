package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/polyagent/arb-engine/internal/catalog"
	"github.com/polyagent/arb-engine/internal/ledger"
	"github.com/polyagent/arb-engine/internal/limits"
	"github.com/polyagent/arb-engine/internal/model"
	"github.com/polyagent/arb-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func nd(f float64) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.NewFromFloat(f))
}

// fakeCatalog serves pairs and mutable prices.
type fakeCatalog struct {
	mu      sync.Mutex
	pairs   map[string]model.Pair
	quotes  map[string]model.Quote
	lookups int
}

func newFakeCatalog(pairs ...model.Pair) *fakeCatalog {
	c := &fakeCatalog{pairs: map[string]model.Pair{}, quotes: map[string]model.Quote{}}
	for _, p := range pairs {
		c.pairs[p.ID] = p
		c.quotes[p.Market1.ID] = p.Market1.Quote()
		c.quotes[p.Market2.ID] = p.Market2.Quote()
	}
	return c
}

func (c *fakeCatalog) GetPair(_ context.Context, id string) (model.Pair, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pairs[id]
	if !ok {
		return model.Pair{}, catalog.ErrPairNotFound
	}
	return p, nil
}

func (c *fakeCatalog) MarketPrices(_ context.Context, id string) (model.Quote, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lookups++
	q, ok := c.quotes[id]
	if !ok {
		return model.Quote{}, catalog.ErrMarketNotFound
	}
	return q, nil
}

func (c *fakeCatalog) setQuote(id string, q model.Quote) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.quotes[id] = q
}

func (c *fakeCatalog) dropMarket(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.quotes, id)
}

func testPair(id, keyword string, m1No, m2Yes float64) model.Pair {
	return model.Pair{
		ID:      id,
		Keyword: keyword,
		Market1: model.Market{ID: id + "-child", Title: "Child " + id, YesPrice: nd(1 - m1No), NoPrice: nd(m1No)},
		Market2: model.Market{ID: id + "-parent", Title: "Parent " + id, YesPrice: nd(m2Yes), NoPrice: nd(1 - m2Yes)},
	}
}

type recorder struct {
	mu     sync.Mutex
	trades []*model.TradeResult
	resets int
}

func (r *recorder) TradeExecuted(res *model.TradeResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trades = append(r.trades, res)
}

func (r *recorder) PortfolioReset(*model.Portfolio) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resets++
}

type env struct {
	ledger *ledger.Ledger
	store  *store.MemoryStore
	cat    *fakeCatalog
	obs    *recorder
}

func newEnv(t *testing.T, maxKeyword float64, pairs ...model.Pair) *env {
	t.Helper()
	if len(pairs) == 0 {
		pairs = []model.Pair{testPair("Iran_0001", "Iran", 0.05, 0.90)}
	}
	e := &env{store: store.NewMemoryStore(), cat: newFakeCatalog(pairs...), obs: &recorder{}}
	e.ledger = ledger.New(ledger.Options{
		Store:      e.store,
		Pairs:      e.cat,
		Prices:     e.cat,
		Limiter:    limits.NewTradeLimiter(d(5000), d(maxKeyword)),
		Observer:   e.obs,
		Now:        func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) },
		NewTradeID: func() string { return "trade-1" },
	})
	return e
}

func (e *env) portfolio(t *testing.T) *model.Portfolio {
	t.Helper()
	p, err := e.ledger.Portfolio(context.Background())
	if err != nil {
		t.Fatalf("load portfolio: %v", err)
	}
	return p
}

func assertUnchanged(t *testing.T, before, after *model.Portfolio) {
	t.Helper()
	if !before.Cash.Equal(after.Cash) {
		t.Errorf("cash changed: %s -> %s", before.Cash, after.Cash)
	}
	if before.TradeCount != after.TradeCount {
		t.Errorf("trade_count changed: %d -> %d", before.TradeCount, after.TradeCount)
	}
	if len(before.Positions) != len(after.Positions) {
		t.Errorf("positions changed: %d -> %d", len(before.Positions), len(after.Positions))
	}
}

func expectKind(t *testing.T, err error, kind ledger.Kind) {
	t.Helper()
	ve, ok := ledger.AsValidation(err)
	if !ok {
		t.Fatalf("expected ValidationError %s, got %v", kind, err)
	}
	if ve.Kind != kind {
		t.Errorf("expected kind %s, got %s (%s)", kind, ve.Kind, ve.Message)
	}
}

// --- Trade execution ---

func TestExecuteTrade_Success(t *testing.T) {
	e := newEnv(t, 0)

	res, err := e.ledger.ExecuteTrade(context.Background(), "Iran_0001", d(100))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success {
		t.Error("expected success")
	}
	if res.Trade.TradeID != "trade-1" {
		t.Errorf("unexpected trade id %s", res.Trade.TradeID)
	}
	if !res.Trade.TotalCost.Equal(d(200)) {
		t.Errorf("expected total_cost=200, got %s", res.Trade.TotalCost)
	}
	if !res.Trade.Market1NoShares.Equal(d(2000)) {
		t.Errorf("expected 2000 NO shares, got %s", res.Trade.Market1NoShares)
	}
	if !res.Trade.Market2YesShares.Equal(d(111.111111)) {
		t.Errorf("expected 111.111111 YES shares, got %s", res.Trade.Market2YesShares)
	}

	p := e.portfolio(t)
	if !p.Cash.Equal(d(9800)) {
		t.Errorf("expected cash=9800, got %s", p.Cash)
	}
	if p.TradeCount != 1 {
		t.Errorf("expected trade_count=1, got %d", p.TradeCount)
	}
	if len(p.Positions) != 2 {
		t.Fatalf("expected 2 positions, got %d", len(p.Positions))
	}

	no, yes := p.Positions[0], p.Positions[1]
	if no.ID != "Iran_0001_m1_NO_1" || no.Outcome != model.OutcomeNo || no.MarketID != "Iran_0001-child" {
		t.Errorf("unexpected NO leg %+v", no)
	}
	if yes.ID != "Iran_0001_m2_YES_1" || yes.Outcome != model.OutcomeYes || yes.MarketID != "Iran_0001-parent" {
		t.Errorf("unexpected YES leg %+v", yes)
	}
	if !no.CostBasis.Equal(d(100)) || !yes.CostBasis.Equal(d(100)) {
		t.Errorf("each leg should cost 100, got %s / %s", no.CostBasis, yes.CostBasis)
	}
	if !no.AvgPrice.Equal(d(0.05)) || !yes.AvgPrice.Equal(d(0.90)) {
		t.Errorf("unexpected avg prices %s / %s", no.AvgPrice, yes.AvgPrice)
	}
	if no.MarketTitle != "Child Iran_0001" {
		t.Errorf("expected denormalized title, got %q", no.MarketTitle)
	}
	if no.CreatedAt.IsZero() {
		t.Error("expected created_at")
	}

	if len(e.obs.trades) != 1 {
		t.Errorf("observer should see 1 trade, got %d", len(e.obs.trades))
	}
}

func TestExecuteTrade_SequenceNumbers(t *testing.T) {
	e := newEnv(t, 0)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := e.ledger.ExecuteTrade(ctx, "Iran_0001", d(10)); err != nil {
			t.Fatalf("trade %d: %v", i, err)
		}
	}

	p := e.portfolio(t)
	if p.TradeCount != 3 || len(p.Positions) != 6 {
		t.Fatalf("expected 3 trades / 6 positions, got %d / %d", p.TradeCount, len(p.Positions))
	}
	if p.Positions[4].ID != "Iran_0001_m1_NO_3" {
		t.Errorf("unexpected id %s", p.Positions[4].ID)
	}
	if !p.Cash.Equal(d(9940)) {
		t.Errorf("expected cash=9940, got %s", p.Cash)
	}
}

func TestExecuteTrade_LosingTradeAllowed(t *testing.T) {
	e := newEnv(t, 0, testPair("Loss_0001", "", 0.10, 0.95))

	if _, err := e.ledger.ExecuteTrade(context.Background(), "Loss_0001", d(50)); err != nil {
		t.Fatalf("a losing trade is still a valid simulation: %v", err)
	}
}

func TestExecuteTrade_Rejections(t *testing.T) {
	unpriced := testPair("Unpriced_0001", "", 0.05, 0.90)
	unpriced.Market2.YesPrice = decimal.NullDecimal{}
	zero := testPair("Zero_0001", "", 0, 0.90)
	overOne := testPair("Over_0001", "", 0.05, 1.5)

	cases := []struct {
		name   string
		pairID string
		amount decimal.Decimal
		kind   ledger.Kind
	}{
		{"zero amount", "Iran_0001", decimal.Zero, ledger.KindInvalidAmount},
		{"negative amount", "Iran_0001", d(-5), ledger.KindInvalidAmount},
		{"over max", "Iran_0001", d(5000.01), ledger.KindMaxExceeded},
		{"unknown pair", "nope", d(10), ledger.KindPairNotFound},
		{"missing price", "Unpriced_0001", d(10), ledger.KindPricesUnavailable},
		{"zero price", "Zero_0001", d(10), ledger.KindPricesUnavailable},
		{"price above one", "Over_0001", d(10), ledger.KindPricesUnavailable},
		{"fractional cents", "Iran_0001", d(0.002), ledger.KindInvalidAmount},
		{"fractional cents above a dollar", "Iran_0001", d(10.005), ledger.KindInvalidAmount},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := newEnv(t, 0, testPair("Iran_0001", "Iran", 0.05, 0.90), unpriced, zero, overOne)
			before := e.portfolio(t)

			_, err := e.ledger.ExecuteTrade(context.Background(), tc.pairID, tc.amount)
			expectKind(t, err, tc.kind)
			assertUnchanged(t, before, e.portfolio(t))
			if e.store.Saves() != 0 {
				t.Errorf("rejected trade must not persist, saw %d saves", e.store.Saves())
			}
		})
	}
}

func TestExecuteTrade_CentAmountDebitsExactly(t *testing.T) {
	e := newEnv(t, 0)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := e.ledger.ExecuteTrade(ctx, "Iran_0001", d(0.01)); err != nil {
			t.Fatalf("trade %d: %v", i, err)
		}
	}

	p := e.portfolio(t)
	if !p.Cash.Equal(d(9999.94)) {
		t.Errorf("expected cash=9999.94, got %s", p.Cash)
	}
	if !p.Positions[0].CostBasis.Equal(d(0.01)) || !p.Positions[0].Shares.Equal(d(0.2)) {
		t.Errorf("unexpected first leg %+v", p.Positions[0])
	}
}

func TestExecuteTrade_MaxIsInclusive(t *testing.T) {
	e := newEnv(t, 0)
	if _, err := e.ledger.ExecuteTrade(context.Background(), "Iran_0001", d(5000)); err != nil {
		t.Fatalf("amount equal to the maximum should pass: %v", err)
	}
	if !e.portfolio(t).Cash.IsZero() {
		t.Errorf("expected cash=0, got %s", e.portfolio(t).Cash)
	}
}

func TestExecuteTrade_InsufficientCash(t *testing.T) {
	e := newEnv(t, 0)
	ctx := context.Background()

	// 2 x 4000 leaves 2000; the next 2 x 1500 needs 3000.
	if _, err := e.ledger.ExecuteTrade(ctx, "Iran_0001", d(4000)); err != nil {
		t.Fatal(err)
	}
	before := e.portfolio(t)

	_, err := e.ledger.ExecuteTrade(ctx, "Iran_0001", d(1500))
	expectKind(t, err, ledger.KindInsufficientCash)
	if err.Error() != "Insufficient cash. Need $3000.00 but only have $2000.00." {
		t.Errorf("unexpected message %q", err.Error())
	}
	assertUnchanged(t, before, e.portfolio(t))

	// Spending exactly the remaining cash is allowed.
	if _, err := e.ledger.ExecuteTrade(ctx, "Iran_0001", d(1000)); err != nil {
		t.Errorf("exact balance should be spendable: %v", err)
	}
}

func TestExecuteTrade_KeywordExposure(t *testing.T) {
	e := newEnv(t, 1000,
		testPair("Iran_0001", "Iran", 0.05, 0.90),
		testPair("Iran_0002", "Iran", 0.10, 0.85),
		testPair("Trump_0001", "Trump", 0.10, 0.85),
	)
	ctx := context.Background()

	if _, err := e.ledger.ExecuteTrade(ctx, "Iran_0001", d(300)); err != nil {
		t.Fatal(err)
	}
	// Exactly at the cap.
	if _, err := e.ledger.ExecuteTrade(ctx, "Iran_0002", d(200)); err != nil {
		t.Fatalf("trade at the keyword cap should pass: %v", err)
	}

	_, err := e.ledger.ExecuteTrade(ctx, "Iran_0001", d(1))
	expectKind(t, err, ledger.KindExposureLimit)

	if _, err := e.ledger.ExecuteTrade(ctx, "Trump_0001", d(500)); err != nil {
		t.Errorf("other keywords have their own budget: %v", err)
	}
}

func TestExecuteTrade_PersistenceFailure(t *testing.T) {
	e := newEnv(t, 0)
	ctx := context.Background()
	e.store.FailNextSave(errors.New("disk full"))

	_, err := e.ledger.ExecuteTrade(ctx, "Iran_0001", d(100))
	if !errors.Is(err, ledger.ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	if _, ok := ledger.AsValidation(err); ok {
		t.Error("persistence failure is not a validation error")
	}

	p := e.portfolio(t)
	if !p.Cash.Equal(d(10000)) || p.TradeCount != 0 || len(p.Positions) != 0 {
		t.Errorf("failed save must leave state unchanged, got %+v", p)
	}
	if len(e.obs.trades) != 0 {
		t.Error("observer must not see an unpersisted trade")
	}

	// The next trade after recovery starts from trade number 1.
	res, err := e.ledger.ExecuteTrade(ctx, "Iran_0001", d(100))
	if err != nil {
		t.Fatal(err)
	}
	if res.Portfolio.Positions[0].ID != "Iran_0001_m1_NO_1" {
		t.Errorf("unexpected id %s", res.Portfolio.Positions[0].ID)
	}
}

func TestExecuteTrade_ConcurrentCannotOverdraw(t *testing.T) {
	e := newEnv(t, 0)
	ctx := context.Background()

	// 20 trades of 2 x 400 would need 16000; only 12 fit in 10000.
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded, rejected := 0, 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.ledger.ExecuteTrade(ctx, "Iran_0001", d(400))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
			} else if _, ok := ledger.AsValidation(err); ok {
				rejected++
			}
		}()
	}
	wg.Wait()

	if succeeded != 12 || rejected != 8 {
		t.Errorf("expected 12 fills and 8 rejections, got %d / %d", succeeded, rejected)
	}
	p := e.portfolio(t)
	if p.Cash.IsNegative() {
		t.Fatalf("cash overdrawn: %s", p.Cash)
	}
	if !p.Cash.Equal(d(400)) || p.TradeCount != 12 || len(p.Positions) != 24 {
		t.Errorf("unexpected state: cash=%s trades=%d positions=%d", p.Cash, p.TradeCount, len(p.Positions))
	}
}

// --- Reset ---

func TestReset(t *testing.T) {
	e := newEnv(t, 0)
	ctx := context.Background()
	e.ledger.ExecuteTrade(ctx, "Iran_0001", d(100))

	for i := 0; i < 2; i++ {
		p, err := e.ledger.Reset(ctx)
		if err != nil {
			t.Fatalf("reset: %v", err)
		}
		if !p.Cash.Equal(d(10000)) || p.TradeCount != 0 || len(p.Positions) != 0 || p.Positions == nil {
			t.Errorf("unexpected reset state %+v", p)
		}
	}

	stored := e.portfolio(t)
	if !stored.Cash.Equal(stored.StartingBalance) || stored.TradeCount != 0 {
		t.Errorf("reset was not persisted: %+v", stored)
	}
	if e.obs.resets != 2 {
		t.Errorf("expected 2 reset notifications, got %d", e.obs.resets)
	}
}

func TestReset_PersistenceFailure(t *testing.T) {
	e := newEnv(t, 0)
	ctx := context.Background()
	e.ledger.ExecuteTrade(ctx, "Iran_0001", d(100))
	e.store.FailNextSave(errors.New("read-only filesystem"))

	if _, err := e.ledger.Reset(ctx); !errors.Is(err, ledger.ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	if e.portfolio(t).TradeCount != 1 {
		t.Error("failed reset must keep the previous state")
	}
}

func TestCustomStartingBalance(t *testing.T) {
	l := ledger.New(ledger.Options{
		Store:           store.NewMemoryStore(),
		Pairs:           newFakeCatalog(),
		Prices:          newFakeCatalog(),
		Limiter:         limits.NewTradeLimiter(d(5000), decimal.Zero),
		StartingBalance: d(250),
	})
	p, err := l.Portfolio(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !p.Cash.Equal(d(250)) || !p.StartingBalance.Equal(d(250)) {
		t.Errorf("unexpected fresh portfolio %+v", p)
	}
}
