// Package node implements the workflow node strategies: product extraction,
// curated-surface monitoring, notification, result writing, and job
// continuation.
package node

import (
	"fmt"

	"github.com/fairyhunter13/scan-orchestrator/internal/domain"
)

// Node config values arrive as map[string]any after YAML decoding and
// variable substitution; numeric values may be int, int64, or float64.

func cfgString(config map[string]any, key, fallback string) string {
	if v, ok := config[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
		return fmt.Sprintf("%v", v)
	}
	return fallback
}

func cfgInt(config map[string]any, key string, fallback int) int {
	v, ok := config[key]
	if !ok {
		return fallback
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return fallback
	}
}

func cfgBool(config map[string]any, key string, fallback bool) bool {
	if v, ok := config[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return fallback
}

func cfgStrings(config map[string]any, key string) []string {
	v, ok := config[key]
	if !ok {
		return nil
	}
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			out = append(out, fmt.Sprintf("%v", item))
		}
		return out
	default:
		return nil
	}
}

func requireString(config map[string]any, key string) (string, error) {
	s := cfgString(config, key, "")
	if s == "" {
		return "", fmt.Errorf("%w: config key %q required", domain.ErrInvalidArgument, key)
	}
	return s, nil
}

// productMap converts a product to the JSON-safe shape carried in the
// accumulated output.
func productMap(p domain.Product, status domain.ScrapeStatus) map[string]any {
	return map[string]any{
		"id":            p.ID,
		"platform":      p.Platform,
		"url":           p.URL,
		"name":          p.Name,
		"price":         p.Price,
		"currency":      p.Currency,
		"available":     p.Available,
		"thumbnail_url": p.ThumbnailURL,
		"sale_status":   string(p.SaleStatus),
		"status":        string(status),
	}
}
