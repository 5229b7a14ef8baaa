package pricing

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"itemprice/internal/models"
)

// memStore is an in-memory Store mirroring the selection rules of the SQL store.
type memStore struct {
	mu      sync.Mutex
	now     func() time.Time
	reports []models.PriceReport
	items   []models.CatalogItem
	prices  []models.TrustedPrice
	markers []models.ProcessingMarker

	findErr      map[string]error
	findErrImage map[string]error
	commits      int
}

func newMemStore(now func() time.Time) *memStore {
	return &memStore{now: now, findErr: map[string]error{}, findErrImage: map[string]error{}}
}

func (m *memStore) addItem(itemID *int64, name, imageID string) models.CatalogItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	it := models.CatalogItem{ID: uint(len(m.items) + 1), ItemID: itemID, Name: name, ImageID: imageID}
	m.items = append(m.items, it)
	return it
}

func (m *memStore) addReport(r models.PriceReport) models.PriceReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.ID = uint(len(m.reports) + 1)
	m.reports = append(m.reports, r)
	return r
}

func (m *memStore) addPrice(p models.TrustedPrice) models.TrustedPrice {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.ID = uint(len(m.prices) + 1)
	m.prices = append(m.prices, p)
	return p
}

func contains(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}

func (m *memStore) eligible(sel Selection) []GroupSummary {
	blocked := map[string]bool{}
	for _, mk := range m.markers {
		if !mk.CreatedAt.Before(sel.MarkersSince) {
			blocked[mk.Name] = true
		}
	}
	itemsByName := map[string]map[uint]bool{}
	for _, p := range m.prices {
		if itemsByName[p.Name] == nil {
			itemsByName[p.Name] = map[uint]bool{}
		}
		itemsByName[p.Name][p.ItemInternalID] = true
	}
	recentlyPriced := map[string]bool{}
	for _, p := range m.prices {
		if !p.AddedAt.Before(sel.RecentPriceSince) && len(itemsByName[p.Name]) <= 1 {
			recentlyPriced[p.Name] = true
		}
	}

	byName := map[string]*GroupSummary{}
	for _, r := range m.reports {
		if r.Processed || contains(sel.ExcludedSources, r.SourceType) || r.SubmittedAt.Before(sel.Since) {
			continue
		}
		if blocked[r.Name] || recentlyPriced[r.Name] {
			continue
		}
		g, ok := byName[r.Name]
		if !ok {
			g = &GroupSummary{Name: r.Name, OldestAt: r.SubmittedAt, LatestAt: r.SubmittedAt}
			byName[r.Name] = g
		}
		g.Count++
		if r.SubmittedAt.Before(g.OldestAt) {
			g.OldestAt = r.SubmittedAt
		}
		if r.SubmittedAt.After(g.LatestAt) {
			g.LatestAt = r.SubmittedAt
		}
	}

	var out []GroupSummary
	for _, g := range byName {
		if g.Count >= sel.MinCount || (g.Count >= sel.StaleMinCount && !g.OldestAt.After(sel.StaleBefore)) {
			out = append(out, *g)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LatestAt.Equal(out[j].LatestAt) {
			return out[i].LatestAt.Before(out[j].LatestAt)
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func (m *memStore) EligibleGroups(ctx context.Context, sel Selection) ([]GroupSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.eligible(sel)
	if sel.Limit > 0 {
		if sel.Offset >= len(out) {
			return nil, nil
		}
		out = out[sel.Offset:]
		if len(out) > sel.Limit {
			out = out[:sel.Limit]
		}
	}
	return out, nil
}

func (m *memStore) QueueStats(ctx context.Context, sel Selection) (QueueStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var st QueueStats
	for _, g := range m.eligible(sel) {
		st.Groups++
		if g.Count > st.LargestGroup {
			st.LargestGroup = g.Count
		}
	}
	return st, nil
}

func (m *memStore) PendingReports(ctx context.Context, names []string, excluded []string, since time.Time) ([]models.PriceReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.PriceReport
	for _, r := range m.reports {
		if r.Processed || !contains(names, r.Name) || contains(excluded, r.SourceType) || r.SubmittedAt.Before(since) {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].SubmittedAt.After(out[j].SubmittedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (m *memStore) FindItem(ctx context.Context, itemID *int64, name, imageID string) (*models.CatalogItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.findErr[name]; err != nil {
		return nil, err
	}
	if err := m.findErrImage[imageID]; err != nil {
		return nil, err
	}
	if itemID != nil {
		for _, it := range m.items {
			if it.ItemID != nil && *it.ItemID == *itemID {
				it := it
				return &it, nil
			}
		}
	}
	if name == "" || imageID == "" {
		return nil, nil
	}
	for _, it := range m.items {
		if it.Name == name && it.ImageID == imageID {
			it := it
			return &it, nil
		}
	}
	return nil, nil
}

func (m *memStore) LatestPrice(ctx context.Context, itemInternalID uint) (*models.TrustedPrice, error) {
	h, _ := m.PriceHistory(ctx, itemInternalID)
	if len(h) == 0 {
		return nil, nil
	}
	return &h[0], nil
}

func (m *memStore) PriceByID(ctx context.Context, id uint) (*models.TrustedPrice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.prices {
		if p.ID == id {
			p := p
			return &p, nil
		}
	}
	return nil, errors.New("price not found")
}

func (m *memStore) PriceHistory(ctx context.Context, itemInternalID uint) ([]models.TrustedPrice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.TrustedPrice
	for _, p := range m.prices {
		if p.ItemInternalID == itemInternalID {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].AddedAt.Equal(out[j].AddedAt) {
			return out[i].AddedAt.After(out[j].AddedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (m *memStore) CommitPrices(ctx context.Context, prices []models.TrustedPrice, processedIDs []uint) (CommitResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commits++
	var res CommitResult
	for _, p := range prices {
		p.ID = uint(len(m.prices) + 1)
		p.CreatedAt = m.now()
		m.prices = append(m.prices, p)
		res.Inserted++
	}
	ids := map[uint]bool{}
	for _, id := range processedIDs {
		ids[id] = true
	}
	for i := range m.reports {
		if ids[m.reports[i].ID] && !m.reports[i].Processed {
			m.reports[i].Processed = true
			res.Processed++
		}
	}
	return res, nil
}

func (m *memStore) MarkAttempted(ctx context.Context, names []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range names {
		m.markers = append(m.markers, models.ProcessingMarker{ID: uint(len(m.markers) + 1), Name: n, CreatedAt: m.now()})
	}
	return nil
}

func (m *memStore) ClearMarkers(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := int64(len(m.markers))
	m.markers = nil
	return n, nil
}

func (m *memStore) processedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.reports {
		if r.Processed {
			n++
		}
	}
	return n
}

func (m *memStore) priceCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prices)
}

func (m *memStore) marked(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mk := range m.markers {
		if mk.Name == name {
			return true
		}
	}
	return false
}
