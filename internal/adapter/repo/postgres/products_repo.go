package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fairyhunter13/scan-orchestrator/internal/domain"
)

// PgxPool is the subset of pgxpool.Pool the repository uses; narrowed so
// tests can substitute a fake.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var _ PgxPool = (*pgxpool.Pool)(nil)

// ProductRepo persists scraped product rows.
type ProductRepo struct {
	Pool PgxPool
}

// NewProductRepo constructs a ProductRepo with the given pool.
func NewProductRepo(p PgxPool) *ProductRepo { return &ProductRepo{Pool: p} }

var _ domain.ProductRepository = (*ProductRepo)(nil)

// Upsert inserts or refreshes a product row keyed by (platform, url).
func (r *ProductRepo) Upsert(ctx domain.Context, p domain.Product) error {
	q := `INSERT INTO products (platform, url, name, price, currency, available, thumbnail_url, sale_status, scraped_at)
	      VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	      ON CONFLICT (platform, url) DO UPDATE SET
	        name = EXCLUDED.name,
	        price = EXCLUDED.price,
	        currency = EXCLUDED.currency,
	        available = EXCLUDED.available,
	        thumbnail_url = EXCLUDED.thumbnail_url,
	        sale_status = EXCLUDED.sale_status,
	        scraped_at = EXCLUDED.scraped_at`
	scrapedAt := p.ScrapedAt
	if scrapedAt.IsZero() {
		scrapedAt = time.Now().UTC()
	}
	_, err := r.Pool.Exec(ctx, q, p.Platform, p.URL, p.Name, p.Price, p.Currency, p.Available, p.ThumbnailURL, p.SaleStatus, scrapedAt)
	if err != nil {
		return fmt.Errorf("op=products.upsert: %w", err)
	}
	return nil
}

// Get loads a product by id; (nil, nil) when absent.
func (r *ProductRepo) Get(ctx domain.Context, id int64) (*domain.Product, error) {
	q := `SELECT id, platform, url, name, price, currency, available, thumbnail_url, sale_status, scraped_at
	      FROM products WHERE id = $1`
	row := r.Pool.QueryRow(ctx, q, id)
	var p domain.Product
	if err := row.Scan(&p.ID, &p.Platform, &p.URL, &p.Name, &p.Price, &p.Currency, &p.Available, &p.ThumbnailURL, &p.SaleStatus, &p.ScrapedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("op=products.get: %w", err)
	}
	return &p, nil
}

// ListTracked returns a page of tracked products for a platform and sale
// status, ordered by staleness so the longest-unrefreshed rows go first.
func (r *ProductRepo) ListTracked(ctx domain.Context, platform string, sale domain.SaleStatus, limit, offset int) ([]domain.Product, error) {
	q := `SELECT id, platform, url, name, price, currency, available, thumbnail_url, sale_status, scraped_at
	      FROM products
	      WHERE platform = $1 AND sale_status = $2 AND tracked
	      ORDER BY scraped_at ASC
	      LIMIT $3 OFFSET $4`
	rows, err := r.Pool.Query(ctx, q, platform, sale, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("op=products.list_tracked: %w", err)
	}
	defer rows.Close()

	var products []domain.Product
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Platform, &p.URL, &p.Name, &p.Price, &p.Currency, &p.Available, &p.ThumbnailURL, &p.SaleStatus, &p.ScrapedAt); err != nil {
			return nil, fmt.Errorf("op=products.list_tracked: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=products.list_tracked: %w", err)
	}
	return products, nil
}
