package node

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fairyhunter13/scan-orchestrator/internal/domain"
	"github.com/fairyhunter13/scan-orchestrator/internal/workflow"
)

// ExtractByProductSet refreshes a page of tracked products for a platform.
// It honors the per-platform rate limiter before every outbound scrape and
// bounds concurrency by the node config.
type ExtractByProductSet struct {
	repo    domain.ProductRepository
	scraper domain.Scraper
	limiter domain.RateLimiter
}

// NewExtractByProductSet returns the factory for the extract-by-product-set
// node type.
func NewExtractByProductSet(repo domain.ProductRepository, scraper domain.Scraper, limiter domain.RateLimiter) workflow.Factory {
	return func() workflow.Strategy {
		return &ExtractByProductSet{repo: repo, scraper: scraper, limiter: limiter}
	}
}

// Execute lists tracked products and scrapes them. Output data:
// products ([]map), scraped_count, not_found_count, offset, has_more.
func (n *ExtractByProductSet) Execute(ctx context.Context, _ map[string]any, nc *workflow.NodeContext) (*workflow.NodeResult, error) {
	sale := domain.SaleStatus(cfgString(nc.Config, "sale_status", string(domain.SaleStatusOn)))
	limit := cfgInt(nc.Config, "limit", 500)
	batch := cfgInt(nc.Config, "batch_size", 50)
	concurrency := cfgInt(nc.Config, "concurrency", 5)
	offset := cfgInt(nc.Config, "offset", 0)
	if batch <= 0 || batch > limit {
		batch = limit
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	products, err := n.repo.ListTracked(ctx, nc.Platform, sale, batch, offset)
	if err != nil {
		return nil, fmt.Errorf("op=node.ExtractByProductSet: %w", err)
	}

	results := scrapeAll(ctx, n.scraper, n.limiter, nc, products, concurrency)

	scraped, notFound := 0, 0
	out := make([]any, 0, len(results))
	for _, r := range results {
		out = append(out, r)
		if r["status"] == string(domain.ScrapeNotFound) {
			notFound++
		} else {
			scraped++
		}
	}

	nc.Shared.Set("last_offset", offset+len(products))
	return &workflow.NodeResult{Data: map[string]any{
		"products":        out,
		"scraped_count":   scraped,
		"not_found_count": notFound,
		"offset":          offset + len(products),
		"has_more":        len(products) == batch && offset+len(products) < limit,
	}}, nil
}

// scrapeAll fans products out over a bounded worker set. A product the site
// no longer has reports status not_found in its row; only transport-level
// scraper errors count as failures, and those surface as a degraded row
// rather than failing the batch.
func scrapeAll(ctx context.Context, scraper domain.Scraper, limiter domain.RateLimiter, nc *workflow.NodeContext, products []domain.Product, concurrency int) []map[string]any {
	results := make([]map[string]any, len(products))
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	for i, p := range products {
		wg.Add(1)
		go func(i int, p domain.Product) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = scrapeOne(ctx, scraper, limiter, nc, p)
		}(i, p)
	}
	wg.Wait()
	return results
}

func scrapeOne(ctx context.Context, scraper domain.Scraper, limiter domain.RateLimiter, nc *workflow.NodeContext, p domain.Product) map[string]any {
	waitForRate(ctx, limiter, nc.Platform, nc.Logger)
	res, err := scraper.Scrape(ctx, p.Platform, p.URL)
	if err != nil {
		nc.Logger.Warn("scrape failed",
			slog.Int64("product_id", p.ID),
			slog.Any("error", err))
		row := productMap(p, domain.ScrapeOK)
		row["status"] = "error"
		row["error"] = err.Error()
		return row
	}
	if res.Status == domain.ScrapeNotFound {
		return productMap(p, domain.ScrapeNotFound)
	}
	scraped := *res.Product
	scraped.ID = p.ID
	scraped.ScrapedAt = time.Now()
	return productMap(scraped, domain.ScrapeOK)
}

// waitForRate blocks until the platform bucket admits one request. The
// limiter fails open on transport errors.
func waitForRate(ctx context.Context, limiter domain.RateLimiter, platform string, logger *slog.Logger) {
	if limiter == nil {
		return
	}
	for {
		allowed, retryAfter, err := limiter.Allow(ctx, platform, 1)
		if err != nil {
			logger.Warn("rate limiter error", slog.Any("error", err))
			return
		}
		if allowed {
			return
		}
		if retryAfter <= 0 {
			retryAfter = time.Second
		}
		timer := time.NewTimer(retryAfter)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// ExtractByProductID refreshes a single tracked product.
type ExtractByProductID struct {
	repo    domain.ProductRepository
	scraper domain.Scraper
	limiter domain.RateLimiter
}

// NewExtractByProductID returns the factory for extract-by-product-id.
func NewExtractByProductID(repo domain.ProductRepository, scraper domain.Scraper, limiter domain.RateLimiter) workflow.Factory {
	return func() workflow.Strategy {
		return &ExtractByProductID{repo: repo, scraper: scraper, limiter: limiter}
	}
}

// Execute scrapes the product named by config key product_id. A missing
// product record reports status not_found; the job continues.
func (n *ExtractByProductID) Execute(ctx context.Context, _ map[string]any, nc *workflow.NodeContext) (*workflow.NodeResult, error) {
	id := int64(cfgInt(nc.Config, "product_id", 0))
	if id == 0 {
		return nil, fmt.Errorf("op=node.ExtractByProductID: %w: config key \"product_id\" required", domain.ErrInvalidArgument)
	}
	p, err := n.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("op=node.ExtractByProductID: %w", err)
	}
	if p == nil {
		return &workflow.NodeResult{Data: map[string]any{
			"status":     string(domain.ScrapeNotFound),
			"product_id": id,
		}}, nil
	}
	row := scrapeOne(ctx, n.scraper, n.limiter, nc, *p)
	return &workflow.NodeResult{Data: map[string]any{
		"products": []any{row},
		"status":   row["status"],
	}}, nil
}

// ExtractByURL scrapes an arbitrary product URL without a tracked record.
type ExtractByURL struct {
	scraper domain.Scraper
	limiter domain.RateLimiter
}

// NewExtractByURL returns the factory for extract-by-url.
func NewExtractByURL(scraper domain.Scraper, limiter domain.RateLimiter) workflow.Factory {
	return func() workflow.Strategy {
		return &ExtractByURL{scraper: scraper, limiter: limiter}
	}
}

// Execute scrapes config key url on the job's platform.
func (n *ExtractByURL) Execute(ctx context.Context, _ map[string]any, nc *workflow.NodeContext) (*workflow.NodeResult, error) {
	url, err := requireString(nc.Config, "url")
	if err != nil {
		return nil, fmt.Errorf("op=node.ExtractByURL: %w", err)
	}
	waitForRate(ctx, n.limiter, nc.Platform, nc.Logger)
	res, err := n.scraper.Scrape(ctx, nc.Platform, url)
	if err != nil {
		return nil, fmt.Errorf("op=node.ExtractByURL: %w", err)
	}
	if res.Status == domain.ScrapeNotFound {
		return &workflow.NodeResult{Data: map[string]any{
			"status": string(domain.ScrapeNotFound),
			"url":    url,
		}}, nil
	}
	p := *res.Product
	p.ScrapedAt = time.Now()
	return &workflow.NodeResult{Data: map[string]any{
		"products": []any{productMap(p, domain.ScrapeOK)},
		"status":   string(domain.ScrapeOK),
	}}, nil
}
