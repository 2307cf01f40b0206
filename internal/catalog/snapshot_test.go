package catalog_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/polyagent/arb-engine/internal/catalog"
	"github.com/polyagent/arb-engine/internal/model"
)

func nd(f float64) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.NewFromFloat(f))
}

func market(id string, yes, no float64) model.Market {
	return model.Market{
		ID:         id,
		Title:      "Market " + id,
		URL:        "https://polymarket.com/event/" + id,
		YesPrice:   nd(yes),
		NoPrice:    nd(no),
		YesTokenID: id + "-yes",
		NoTokenID:  id + "-no",
	}
}

func samplePairs() []model.Pair {
	var pairs []model.Pair
	for i := 1; i <= 3; i++ {
		pairs = append(pairs, model.Pair{
			ID:      fmt.Sprintf("Iran_%04d", i),
			Keyword: "Iran",
			Market1: market(fmt.Sprintf("iran-child-%d", i), 0.1, 0.9),
			Market2: market("iran-parent", 0.3, 0.7),
		})
	}
	pairs = append(pairs, model.Pair{
		ID:      "Trump_0001",
		Keyword: "Trump",
		Market1: market("trump-child", 0.2, 0.8),
		// Same market as above with different snapshot prices; first wins.
		Market2: market("iran-parent", 0.5, 0.5),
	})
	return pairs
}

func writeCatalog(t *testing.T, pairs []model.Pair) (*catalog.SnapshotCatalog, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "market_pairs.json")
	if err := catalog.WriteSnapshot(path, pairs); err != nil {
		t.Fatalf("write snapshot: %v", err)
	}
	return catalog.NewSnapshotCatalog(path, 0), path
}

func TestGetPair(t *testing.T) {
	c, _ := writeCatalog(t, samplePairs())

	p, err := c.GetPair(context.Background(), "Iran_0002")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Market1.ID != "iran-child-2" {
		t.Errorf("unexpected market1 %s", p.Market1.ID)
	}

	_, err = c.GetPair(context.Background(), "nope")
	if !errors.Is(err, catalog.ErrPairNotFound) {
		t.Errorf("expected ErrPairNotFound, got %v", err)
	}
}

func TestListPairs_KeywordAndPagination(t *testing.T) {
	c, _ := writeCatalog(t, samplePairs())
	ctx := context.Background()

	page, err := c.ListPairs(ctx, catalog.Filter{Keyword: "Iran", Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 3 || len(page.Pairs) != 2 || !page.HasMore {
		t.Errorf("unexpected first page: total=%d len=%d has_more=%v", page.Total, len(page.Pairs), page.HasMore)
	}

	page, _ = c.ListPairs(ctx, catalog.Filter{Keyword: "Iran", Limit: 2, Offset: 2})
	if len(page.Pairs) != 1 || page.HasMore || page.Pairs[0].ID != "Iran_0003" {
		t.Errorf("unexpected second page: %+v", page)
	}

	page, _ = c.ListPairs(ctx, catalog.Filter{Offset: 10})
	if page.Total != 4 || len(page.Pairs) != 0 || page.Limit != catalog.DefaultLimit {
		t.Errorf("unexpected out-of-range page: %+v", page)
	}
	if page.Pairs == nil {
		t.Error("empty page should carry an empty slice")
	}
}

func TestListPairs_HugeLimit(t *testing.T) {
	c, _ := writeCatalog(t, samplePairs())

	page, err := c.ListPairs(context.Background(), catalog.Filter{Limit: math.MaxInt, Offset: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Pairs) != 3 || page.HasMore || page.Pairs[0].ID != "Iran_0002" {
		t.Errorf("unexpected page: len=%d has_more=%v", len(page.Pairs), page.HasMore)
	}

	page, _ = c.ListPairs(context.Background(), catalog.Filter{Limit: math.MaxInt, Offset: math.MaxInt})
	if len(page.Pairs) != 0 || page.HasMore {
		t.Errorf("unexpected page past the end: %+v", page)
	}
}

func TestKeywords_SortedByCount(t *testing.T) {
	c, _ := writeCatalog(t, samplePairs())

	kws, err := c.Keywords(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(kws) != 2 {
		t.Fatalf("expected 2 keywords, got %d", len(kws))
	}
	if kws[0].Keyword != "Iran" || kws[0].PairCount != 3 {
		t.Errorf("unexpected first keyword %+v", kws[0])
	}
	if kws[1].Keyword != "Trump" || kws[1].PairCount != 1 {
		t.Errorf("unexpected second keyword %+v", kws[1])
	}
}

func TestMarketPrices_FirstOccurrenceWins(t *testing.T) {
	c, _ := writeCatalog(t, samplePairs())
	ctx := context.Background()

	q, err := c.MarketPrices(ctx, "iran-parent")
	if err != nil {
		t.Fatal(err)
	}
	if !q.Yes.Decimal.Equal(decimal.NewFromFloat(0.3)) {
		t.Errorf("expected yes=0.3 from the first pair, got %s", q.Yes.Decimal)
	}

	_, err = c.MarketPrices(ctx, "unknown")
	if !errors.Is(err, catalog.ErrMarketNotFound) {
		t.Errorf("expected ErrMarketNotFound, got %v", err)
	}
}

func TestMarketPrices_UnquotedSide(t *testing.T) {
	pairs := samplePairs()
	pairs[0].Market1.NoPrice = decimal.NullDecimal{}
	c, _ := writeCatalog(t, pairs)

	q, err := c.MarketPrices(context.Background(), "iran-child-1")
	if err != nil {
		t.Fatal(err)
	}
	if q.No.Valid {
		t.Error("expected unquoted NO side")
	}
	if !q.Yes.Valid {
		t.Error("expected quoted YES side")
	}
}

func TestTokens(t *testing.T) {
	c, _ := writeCatalog(t, samplePairs())

	tokens := c.Tokens()
	tok, ok := tokens["trump-child-no"]
	if !ok {
		t.Fatal("expected token trump-child-no")
	}
	if tok.MarketID != "trump-child" || tok.Outcome != model.OutcomeNo {
		t.Errorf("unexpected token mapping %+v", tok)
	}
}

func TestRefresh_ReloadsOnModTimeChange(t *testing.T) {
	c, path := writeCatalog(t, samplePairs())
	ctx := context.Background()

	if c.Len() != 4 {
		t.Fatalf("expected 4 pairs, got %d", c.Len())
	}

	if err := catalog.WriteSnapshot(path, samplePairs()[:1]); err != nil {
		t.Fatal(err)
	}
	future := time.Now().Add(time.Hour)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatal(err)
	}

	if err := c.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if c.Len() != 1 {
		t.Errorf("expected 1 pair after reload, got %d", c.Len())
	}
}

func TestRefresh_MissingSnapshot(t *testing.T) {
	c := catalog.NewSnapshotCatalog(filepath.Join(t.TempDir(), "missing.json"), time.Minute)

	if err := c.Refresh(context.Background()); !errors.Is(err, catalog.ErrNoSnapshot) {
		t.Errorf("expected ErrNoSnapshot, got %v", err)
	}
	if c.Loaded() {
		t.Error("catalog should not report loaded")
	}
	if _, err := c.GetPair(context.Background(), "Iran_0001"); !errors.Is(err, catalog.ErrPairNotFound) {
		t.Errorf("expected ErrPairNotFound on empty catalog, got %v", err)
	}
}

func TestRefresh_CorruptSnapshotKeepsLastGood(t *testing.T) {
	c, path := writeCatalog(t, samplePairs())
	if c.Len() != 4 {
		t.Fatalf("expected 4 pairs, got %d", c.Len())
	}

	if err := os.WriteFile(path, []byte("{broken"), 0o644); err != nil {
		t.Fatal(err)
	}
	future := time.Now().Add(time.Hour)
	os.Chtimes(path, future, future)

	if err := c.Refresh(context.Background()); err == nil {
		t.Error("expected decode error")
	}
	if c.Len() != 4 {
		t.Errorf("last good snapshot should stay loaded, got %d pairs", c.Len())
	}
}
