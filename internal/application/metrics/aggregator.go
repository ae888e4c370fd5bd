// Package metrics produces read-only dashboard rollups over requests
package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/garyjia/practice-workflow/internal/application/access"
	"github.com/garyjia/practice-workflow/internal/application/port"
	"github.com/garyjia/practice-workflow/internal/domain/entity"
)

var tracer = otel.Tracer("github.com/garyjia/practice-workflow/internal/application/metrics")

// StepCount is the number of requests sitting in one step
type StepCount struct {
	StepKey  string          `json:"step_key"`
	Category entity.Category `json:"category"`
	Requests int64           `json:"requests"`
}

// Metrics is a dashboard snapshot. Draft requests are never counted.
type Metrics struct {
	Total              int64       `json:"total"`
	Pending            int64       `json:"pending"`
	Active             int64       `json:"active"`
	QueryPending       int64       `json:"query_pending"`
	UnderReview        int64       `json:"under_review"`
	Completed          int64       `json:"completed"`
	InvoiceRaised      int64       `json:"invoice_raised"`
	InvoicePaid        int64       `json:"invoice_paid"`
	TotalRevenue       Money       `json:"total_revenue"`
	PendingReceivables Money       `json:"pending_receivables"`
	Steps              []StepCount `json:"steps"`
}

// Aggregator computes Metrics over the requests an actor may see
type Aggregator struct {
	repo    port.MetricsRepository
	tenants access.TenantLookup
}

// NewAggregator creates an aggregator reading from repo. tenants resolves
// sub-tenant filters; without it only super admins may narrow.
func NewAggregator(repo port.MetricsRepository, tenants access.TenantLookup) *Aggregator {
	return &Aggregator{repo: repo, tenants: tenants}
}

// Summarize rolls up the requests visible to actor. tenantFilter narrows a
// super admin to one tenant, or a tenant admin to one of its sub-tenants.
func (a *Aggregator) Summarize(ctx context.Context, actor entity.Actor, tenantFilter *int64) (*Metrics, error) {
	ctx, span := tracer.Start(ctx, "metrics.Summarize")
	defer span.End()

	scope, err := access.ResolveScope(ctx, a.tenants, actor, tenantFilter)
	if err != nil {
		return nil, err
	}

	tallies, err := a.repo.TallyByStep(ctx, scope)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to tally requests: %w", err)
	}

	return Fold(tallies), nil
}

// Fold buckets per-step tallies into a snapshot
func Fold(tallies []port.StepTally) *Metrics {
	m := &Metrics{Steps: []StepCount{}}

	for _, t := range tallies {
		category := t.Category
		if category == "" {
			category = entity.DefaultCategory(t.Kind)
		}
		if category == entity.CategoryDraft {
			continue
		}

		switch category {
		case entity.CategoryPending:
			m.Pending += t.Requests
		case entity.CategoryActive:
			m.Active += t.Requests
		case entity.CategoryQueryPending:
			m.QueryPending += t.Requests
		case entity.CategoryUnderReview:
			m.UnderReview += t.Requests
		case entity.CategoryCompleted:
			m.Completed += t.Requests
		}

		m.Total += t.Requests
		m.InvoiceRaised += t.InvoiceRaised
		m.InvoicePaid += t.InvoicePaid
		m.TotalRevenue += Money(t.PaidCents)
		m.PendingReceivables += Money(t.ReceivableCents)
		m.Steps = append(m.Steps, StepCount{StepKey: t.StepKey, Category: category, Requests: t.Requests})
	}

	return m
}
