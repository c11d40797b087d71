package node

import (
	"github.com/fairyhunter13/scan-orchestrator/internal/domain"
	"github.com/fairyhunter13/scan-orchestrator/internal/workflow"
)

// Node type names, matching the `type` field of workflow definitions.
const (
	TypeExtractByProductSet     = "extract-by-product-set"
	TypeExtractByProductID      = "extract-by-product-id"
	TypeExtractByURL            = "extract-by-url"
	TypeCheckLinks              = "check-links"
	TypeRecordMonitorCompletion = "record-monitor-completion"
	TypeNotifySlack             = "notify-slack"
	TypeWriteProducts           = "write-products"
	TypeEnqueueContinuation     = "enqueue-continuation"
)

// Deps carries the external collaborators the typed nodes close over.
type Deps struct {
	Products domain.ProductRepository
	Scraper  domain.Scraper
	Limiter  domain.RateLimiter
	Links    domain.LinkChecker
	Notifier domain.Notifier
	Monitor  domain.MonitorState
}

// RegisterAll binds every typed node strategy into the registry. Legacy
// untyped nodes register separately through workflow.StrategyFunc.
func RegisterAll(r *workflow.Registry, deps Deps) {
	r.Register(TypeExtractByProductSet, NewExtractByProductSet(deps.Products, deps.Scraper, deps.Limiter))
	r.Register(TypeExtractByProductID, NewExtractByProductID(deps.Products, deps.Scraper, deps.Limiter))
	r.Register(TypeExtractByURL, NewExtractByURL(deps.Scraper, deps.Limiter))
	r.Register(TypeCheckLinks, NewCheckLinks(deps.Links))
	r.Register(TypeRecordMonitorCompletion, NewRecordMonitorCompletion(deps.Monitor))
	r.Register(TypeNotifySlack, NewNotifySlack(deps.Notifier))
	r.Register(TypeWriteProducts, NewWriteProducts(deps.Products))
	r.Register(TypeEnqueueContinuation, NewEnqueueContinuation())
}
