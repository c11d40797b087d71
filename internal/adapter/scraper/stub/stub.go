// Package stub provides a deterministic scraper for development and tests.
// Production deployments inject the real site-specific scraper fleet.
package stub

import (
	"context"
	"hash/fnv"
	"strings"
	"time"

	"github.com/fairyhunter13/scan-orchestrator/internal/domain"
)

// Scraper returns synthetic product data derived from the URL. URLs
// containing "missing" report not_found, which exercises the business
// not-found path end to end.
type Scraper struct {
	// Delay simulates network latency per scrape.
	Delay time.Duration
}

var _ domain.Scraper = (*Scraper)(nil)

// Scrape implements domain.Scraper.
func (s *Scraper) Scrape(ctx context.Context, platform, url string) (domain.ScrapeResult, error) {
	if s.Delay > 0 {
		timer := time.NewTimer(s.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return domain.ScrapeResult{}, ctx.Err()
		case <-timer.C:
		}
	}
	if strings.Contains(url, "missing") {
		return domain.ScrapeResult{Status: domain.ScrapeNotFound}, nil
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(url))
	price := int64(1000 + h.Sum32()%100000)
	return domain.ScrapeResult{
		Status: domain.ScrapeOK,
		Product: &domain.Product{
			Platform:   platform,
			URL:        url,
			Name:       "stub product " + url,
			Price:      price,
			Currency:   "KRW",
			Available:  true,
			SaleStatus: domain.SaleStatusOn,
			ScrapedAt:  time.Now(),
		},
	}, nil
}
