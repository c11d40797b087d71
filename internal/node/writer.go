package node

import (
	"context"
	"fmt"
	"time"

	"github.com/fairyhunter13/scan-orchestrator/internal/domain"
	"github.com/fairyhunter13/scan-orchestrator/internal/workflow"
)

// WriteProducts upserts the accumulated product rows into the product
// database. Partial failures are reported per item alongside counts; the
// node itself only fails on a malformed input shape.
type WriteProducts struct {
	repo domain.ProductRepository
}

// NewWriteProducts returns the factory for the write-products node type.
func NewWriteProducts(repo domain.ProductRepository) workflow.Factory {
	return func() workflow.Strategy {
		return &WriteProducts{repo: repo}
	}
}

// Execute writes every row in input "products" whose status is ok. Output
// data: written_count, skipped_count, error_count, write_errors.
func (n *WriteProducts) Execute(ctx context.Context, input map[string]any, _ *workflow.NodeContext) (*workflow.NodeResult, error) {
	rows, ok := input["products"].([]any)
	if !ok {
		if input["products"] == nil {
			return &workflow.NodeResult{Data: map[string]any{
				"written_count": 0, "skipped_count": 0, "error_count": 0,
			}}, nil
		}
		return nil, fmt.Errorf("op=node.WriteProducts: %w: input \"products\" is not a list", domain.ErrInvalidArgument)
	}

	written, skipped := 0, 0
	var writeErrors []any
	for _, raw := range rows {
		row, ok := raw.(map[string]any)
		if !ok {
			skipped++
			continue
		}
		if cfgString(row, "status", "") != string(domain.ScrapeOK) {
			skipped++
			continue
		}
		p := productFromMap(row)
		if err := n.repo.Upsert(ctx, p); err != nil {
			writeErrors = append(writeErrors, map[string]any{
				"id":    p.ID,
				"error": err.Error(),
			})
			continue
		}
		written++
	}

	data := map[string]any{
		"written_count": written,
		"skipped_count": skipped,
		"error_count":   len(writeErrors),
	}
	if writeErrors != nil {
		data["write_errors"] = writeErrors
	}
	return &workflow.NodeResult{Data: data}, nil
}

func productFromMap(row map[string]any) domain.Product {
	return domain.Product{
		ID:           int64(cfgInt(row, "id", 0)),
		Platform:     cfgString(row, "platform", ""),
		URL:          cfgString(row, "url", ""),
		Name:         cfgString(row, "name", ""),
		Price:        int64(cfgInt(row, "price", 0)),
		Currency:     cfgString(row, "currency", "KRW"),
		Available:    cfgBool(row, "available", false),
		ThumbnailURL: cfgString(row, "thumbnail_url", ""),
		SaleStatus:   domain.SaleStatus(cfgString(row, "sale_status", string(domain.SaleStatusOn))),
		ScrapedAt:    time.Now(),
	}
}
