package service

import (
	"context"
	"fmt"

	"github.com/garyjia/practice-workflow/internal/application/access"
	"github.com/garyjia/practice-workflow/internal/application/port"
	"github.com/garyjia/practice-workflow/internal/domain/entity"
	domainwf "github.com/garyjia/practice-workflow/internal/domain/workflow"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// InvoiceUpdate carries the invoice fields invoicing wants to change.
// Nil fields are left as they are.
type InvoiceUpdate struct {
	Raised      *bool  `json:"invoice_raised"`
	Paid        *bool  `json:"invoice_paid"`
	AmountCents *int64 `json:"invoice_amount_cents" validate:"omitempty,gte=0"`
}

// RequestService covers the request reads and the non-lifecycle edits
type RequestService interface {
	Get(ctx context.Context, actor entity.Actor, id int64) (*entity.Request, error)
	List(ctx context.Context, actor entity.Actor, filter port.ListFilter) ([]*entity.Request, error)
	History(ctx context.Context, actor entity.Actor, id int64) ([]*entity.RequestTransition, error)
	UpdateInvoice(ctx context.Context, actor entity.Actor, id int64, update InvoiceUpdate) (*entity.Request, error)
	UpdateNotes(ctx context.Context, actor entity.Actor, id int64, notes string) (*entity.Request, error)
}

type requestServiceImpl struct {
	requestRepo port.RequestRepository
	historyRepo port.HistoryRepository
	txManager   port.TransactionManager
	logger      port.Logger
}

// NewRequestService creates a new RequestService
func NewRequestService(
	requestRepo port.RequestRepository,
	historyRepo port.HistoryRepository,
	txManager port.TransactionManager,
	logger port.Logger,
) RequestService {
	return &requestServiceImpl{
		requestRepo: requestRepo,
		historyRepo: historyRepo,
		txManager:   txManager,
		logger:      logger,
	}
}

func (s *requestServiceImpl) Get(ctx context.Context, actor entity.Actor, id int64) (*entity.Request, error) {
	req, err := s.requestRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load request: %w", err)
	}
	if req == nil || !access.CanView(actor, req) {
		return nil, domainwf.Reject(domainwf.KindNotFound, "request_id", "request %d not found", id)
	}
	if !actor.IsStaff() {
		req.InternalNotes = ""
	}
	return req, nil
}

func (s *requestServiceImpl) List(ctx context.Context, actor entity.Actor, filter port.ListFilter) ([]*entity.Request, error) {
	scope, err := access.ScopeFor(actor, nil)
	if err != nil {
		return nil, err
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultPageSize
	}
	if filter.Limit > maxPageSize {
		filter.Limit = maxPageSize
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	reqs, err := s.requestRepo.List(ctx, scope, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list requests: %w", err)
	}
	if !actor.IsStaff() {
		for _, r := range reqs {
			r.InternalNotes = ""
		}
	}
	return reqs, nil
}

func (s *requestServiceImpl) History(ctx context.Context, actor entity.Actor, id int64) ([]*entity.RequestTransition, error) {
	if _, err := s.Get(ctx, actor, id); err != nil {
		return nil, err
	}
	return s.historyRepo.ListByRequest(ctx, id)
}

// UpdateInvoice edits invoice fields without touching lifecycle state. A
// request can never read paid while not raised.
func (s *requestServiceImpl) UpdateInvoice(ctx context.Context, actor entity.Actor, id int64, update InvoiceUpdate) (*entity.Request, error) {
	if !actor.IsStaff() {
		return nil, domainwf.Reject(domainwf.KindForbidden, "roles", "only staff may edit invoices")
	}
	if err := domainwf.CheckStruct(update, domainwf.KindInvoiceState); err != nil {
		return nil, err
	}

	var updated *entity.Request
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		req, err := s.inTenant(txCtx, actor, id)
		if err != nil {
			return err
		}

		next := req.Clone()
		if update.Raised != nil {
			next.InvoiceRaised = *update.Raised
		}
		if update.Paid != nil {
			next.InvoicePaid = *update.Paid
		}
		if update.AmountCents != nil {
			next.InvoiceAmountCents = *update.AmountCents
		}
		if next.InvoicePaid && !next.InvoiceRaised {
			return domainwf.Reject(domainwf.KindInvoiceState, "invoice_paid", "request %d cannot be paid before its invoice is raised", id)
		}

		if err := s.requestRepo.UpdateInvoice(txCtx, id, next.InvoiceRaised, next.InvoicePaid, next.InvoiceAmountCents); err != nil {
			return fmt.Errorf("failed to update invoice: %w", err)
		}
		updated = next
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Request invoice updated",
		"request_id", id,
		"invoice_raised", updated.InvoiceRaised,
		"invoice_paid", updated.InvoicePaid,
	)
	return updated, nil
}

func (s *requestServiceImpl) UpdateNotes(ctx context.Context, actor entity.Actor, id int64, notes string) (*entity.Request, error) {
	if !actor.IsStaff() {
		return nil, domainwf.Reject(domainwf.KindForbidden, "roles", "only staff may edit internal notes")
	}

	var updated *entity.Request
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		req, err := s.inTenant(txCtx, actor, id)
		if err != nil {
			return err
		}
		if err := s.requestRepo.UpdateNotes(txCtx, id, notes); err != nil {
			return fmt.Errorf("failed to update notes: %w", err)
		}
		updated = req.Clone()
		updated.InternalNotes = notes
		return nil
	})
	return updated, err
}

func (s *requestServiceImpl) inTenant(ctx context.Context, actor entity.Actor, id int64) (*entity.Request, error) {
	req, err := s.requestRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load request: %w", err)
	}
	if req == nil || !access.InTenant(actor, req.TenantID) {
		return nil, domainwf.Reject(domainwf.KindNotFound, "request_id", "request %d not found", id)
	}
	return req, nil
}
