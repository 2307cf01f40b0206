package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/polyagent/arb-engine/internal/model"
)

// DefaultLimit is the page size used when a Filter has no limit.
const DefaultLimit = 100

// snapshotFile is the on-disk layout of the pairs snapshot.
type snapshotFile struct {
	GeneratedAt time.Time    `json:"generated_at"`
	Pairs       []model.Pair `json:"pairs"`
}

// SnapshotCatalog serves pairs and prices from a JSON snapshot on disk. The
// file is reloaded when its modification time changes; the check runs at
// most once per refresh interval.
type SnapshotCatalog struct {
	path     string
	interval time.Duration
	now      func() time.Time

	mu        sync.RWMutex
	pairs     []model.Pair
	byID      map[string]int
	prices    map[string]model.Quote
	tokens    map[string]Token
	modTime   time.Time
	lastCheck time.Time
	loaded    bool
}

// NewSnapshotCatalog creates a catalog over the snapshot at path. The file
// is not read until the first lookup or Refresh.
func NewSnapshotCatalog(path string, refreshInterval time.Duration) *SnapshotCatalog {
	return &SnapshotCatalog{
		path:     path,
		interval: refreshInterval,
		now:      time.Now,
		byID:     map[string]int{},
		prices:   map[string]model.Quote{},
		tokens:   map[string]Token{},
	}
}

// Refresh reloads the snapshot if the file changed since the last load.
func (c *SnapshotCatalog) Refresh(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshLocked()
}

func (c *SnapshotCatalog) refreshLocked() error {
	c.lastCheck = c.now()

	info, err := os.Stat(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNoSnapshot, c.path)
		}
		return fmt.Errorf("stat snapshot: %w", err)
	}
	if c.loaded && info.ModTime().Equal(c.modTime) {
		return nil
	}

	data, err := os.ReadFile(c.path)
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}
	var snap snapshotFile
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("decode snapshot %s: %w", c.path, err)
	}

	c.index(snap.Pairs)
	c.modTime = info.ModTime()
	c.loaded = true

	slog.Info("pairs snapshot loaded",
		"path", c.path,
		"pairs", len(c.pairs),
		"markets", len(c.prices),
	)
	return nil
}

// index rebuilds the lookup tables. For markets that appear in several
// pairs the first occurrence supplies the price.
func (c *SnapshotCatalog) index(pairs []model.Pair) {
	c.pairs = pairs
	c.byID = make(map[string]int, len(pairs))
	c.prices = make(map[string]model.Quote)
	c.tokens = make(map[string]Token)

	for i, p := range pairs {
		if _, dup := c.byID[p.ID]; !dup {
			c.byID[p.ID] = i
		}
		for _, m := range []model.Market{p.Market1, p.Market2} {
			if m.ID == "" {
				continue
			}
			if _, seen := c.prices[m.ID]; !seen {
				c.prices[m.ID] = m.Quote()
			}
			if m.YesTokenID != "" {
				c.tokens[m.YesTokenID] = Token{MarketID: m.ID, Outcome: model.OutcomeYes}
			}
			if m.NoTokenID != "" {
				c.tokens[m.NoTokenID] = Token{MarketID: m.ID, Outcome: model.OutcomeNo}
			}
		}
	}
}

// maybeRefresh runs Refresh when the interval has elapsed. Reload errors
// keep the last good snapshot in place.
func (c *SnapshotCatalog) maybeRefresh() {
	c.mu.RLock()
	due := c.refreshDue()
	c.mu.RUnlock()
	if !due {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.refreshDue() {
		return
	}
	if err := c.refreshLocked(); err != nil {
		slog.Warn("pairs snapshot refresh failed", "err", err)
	}
}

func (c *SnapshotCatalog) refreshDue() bool {
	return c.lastCheck.IsZero() || c.now().Sub(c.lastCheck) >= c.interval
}

func (c *SnapshotCatalog) GetPair(_ context.Context, id string) (model.Pair, error) {
	c.maybeRefresh()
	c.mu.RLock()
	defer c.mu.RUnlock()

	i, ok := c.byID[id]
	if !ok {
		return model.Pair{}, fmt.Errorf("%w: %s", ErrPairNotFound, id)
	}
	return c.pairs[i], nil
}

func (c *SnapshotCatalog) ListPairs(_ context.Context, f Filter) (Page, error) {
	c.maybeRefresh()
	c.mu.RLock()
	defer c.mu.RUnlock()

	limit := f.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	matched := c.pairs
	if f.Keyword != "" {
		matched = nil
		for _, p := range c.pairs {
			if p.Keyword == f.Keyword {
				matched = append(matched, p)
			}
		}
	}

	total := len(matched)
	page := []model.Pair{}
	hasMore := false
	if offset < total {
		// Compare against the remainder so a huge limit cannot overflow.
		n := limit
		if rest := total - offset; n >= rest {
			n = rest
		} else {
			hasMore = true
		}
		page = append(page, matched[offset:offset+n]...)
	}

	return Page{
		Pairs:   page,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: hasMore,
	}, nil
}

// All returns every pair, optionally restricted to one keyword.
func (c *SnapshotCatalog) All(_ context.Context, keyword string) []model.Pair {
	c.maybeRefresh()
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]model.Pair, 0, len(c.pairs))
	for _, p := range c.pairs {
		if keyword == "" || p.Keyword == keyword {
			out = append(out, p)
		}
	}
	return out
}

// Keywords returns keyword counts, most pairs first. Untagged pairs are
// not counted.
func (c *SnapshotCatalog) Keywords(_ context.Context) ([]KeywordCount, error) {
	c.maybeRefresh()
	c.mu.RLock()
	defer c.mu.RUnlock()

	counts := map[string]int{}
	var order []string
	for _, p := range c.pairs {
		if p.Keyword == "" {
			continue
		}
		if counts[p.Keyword] == 0 {
			order = append(order, p.Keyword)
		}
		counts[p.Keyword]++
	}

	out := make([]KeywordCount, 0, len(order))
	for _, k := range order {
		out = append(out, KeywordCount{Keyword: k, PairCount: counts[k]})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].PairCount > out[j].PairCount })
	return out, nil
}

// MarketPrices implements PriceSource from the snapshot prices.
func (c *SnapshotCatalog) MarketPrices(_ context.Context, marketID string) (model.Quote, error) {
	c.maybeRefresh()
	c.mu.RLock()
	defer c.mu.RUnlock()

	q, ok := c.prices[marketID]
	if !ok {
		return model.Quote{}, fmt.Errorf("%w: %s", ErrMarketNotFound, marketID)
	}
	return q, nil
}

// Tokens returns the outcome-token mapping for every market in the snapshot.
func (c *SnapshotCatalog) Tokens() map[string]Token {
	c.maybeRefresh()
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]Token, len(c.tokens))
	for id, tok := range c.tokens {
		out[id] = tok
	}
	return out
}

// Len returns the number of loaded pairs.
func (c *SnapshotCatalog) Len() int {
	c.maybeRefresh()
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.pairs)
}

// Loaded reports whether a snapshot has been read successfully.
func (c *SnapshotCatalog) Loaded() bool {
	c.maybeRefresh()
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loaded
}

// WriteSnapshot writes pairs to path in the snapshot layout, replacing the
// file atomically.
func WriteSnapshot(path string, pairs []model.Pair) error {
	data, err := json.MarshalIndent(snapshotFile{GeneratedAt: time.Now().UTC(), Pairs: pairs}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return os.Rename(tmp, path)
}

var (
	_ Catalog     = (*SnapshotCatalog)(nil)
	_ PriceSource = (*SnapshotCatalog)(nil)
)
