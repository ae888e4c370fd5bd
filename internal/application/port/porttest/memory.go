// Package porttest provides in-memory implementations of the persistence
// ports for application tests. Hook fields override single methods.
package porttest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/garyjia/practice-workflow/internal/application/port"
	"github.com/garyjia/practice-workflow/internal/domain/entity"
)

// Store holds every table behind one mutex
type Store struct {
	mu          sync.Mutex
	nextID      int64
	Tenants     map[int64]*entity.Tenant
	Users       map[int64]*entity.User
	Definitions map[int64]*entity.WorkflowDefinition
	Requests    map[int64]*entity.Request
	History     []*entity.RequestTransition

	MoveStepFunc      func(ctx context.Context, req *entity.Request, fromStepID int64) (bool, error)
	CountAssignedFunc func(ctx context.Context, assigneeID, stepID, excludeID int64) (int, error)
	GetRequestFunc    func(ctx context.Context, id int64) (*entity.Request, error)
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		nextID:      1000,
		Tenants:     map[int64]*entity.Tenant{},
		Users:       map[int64]*entity.User{},
		Definitions: map[int64]*entity.WorkflowDefinition{},
		Requests:    map[int64]*entity.Request{},
	}
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

// AddUser stores a user and returns it with an id
func (s *Store) AddUser(tenantID int64, name string, roles ...string) *entity.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := &entity.User{ID: s.id(), TenantID: tenantID, Name: name, Roles: roles, IsActive: true}
	s.Users[u.ID] = u
	return u
}

// AddDefinition stores a definition, filling step and transition ids and
// resolving key-only endpoints
func (s *Store) AddDefinition(def *entity.WorkflowDefinition) *entity.WorkflowDefinition {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addDefinition(def)
	return def
}

func (s *Store) addDefinition(def *entity.WorkflowDefinition) {
	def.ID = s.id()
	if def.Version == 0 {
		def.Version = 1
	}
	byKey := map[string]int64{}
	for _, st := range def.Steps {
		st.ID = s.id()
		st.DefinitionID = def.ID
		byKey[st.Key] = st.ID
	}
	for _, tr := range def.Transitions {
		tr.ID = s.id()
		tr.DefinitionID = def.ID
		tr.FromStepID = byKey[tr.FromStepKey]
		tr.ToStepID = byKey[tr.ToStepKey]
	}
	s.Definitions[def.ID] = def
}

// StepID returns the id of key inside definition defID, or 0
func (s *Store) StepID(defID int64, key string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st := s.stepByKey(defID, key); st != nil {
		return st.ID
	}
	return 0
}

func (s *Store) stepByKey(defID int64, key string) *entity.Step {
	def := s.Definitions[defID]
	if def == nil {
		return nil
	}
	for _, st := range def.Steps {
		if st.Key == key {
			return st
		}
	}
	return nil
}

func (s *Store) stepByID(stepID int64) *entity.Step {
	for _, def := range s.Definitions {
		for _, st := range def.Steps {
			if st.ID == stepID {
				return st
			}
		}
	}
	return nil
}

// Request returns a copy of a stored request
func (s *Store) Request(id int64) *entity.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.Requests[id]; ok {
		return r.Clone()
	}
	return nil
}

// HistoryFor returns the audit rows of a request
func (s *Store) HistoryFor(requestID int64) []*entity.RequestTransition {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*entity.RequestTransition
	for _, h := range s.History {
		if h.RequestID == requestID {
			out = append(out, h)
		}
	}
	return out
}

// RequestRepo adapts the store to port.RequestRepository
func (s *Store) RequestRepo() port.RequestRepository { return requestRepo{s} }

// HistoryRepo adapts the store to port.HistoryRepository
func (s *Store) HistoryRepo() port.HistoryRepository { return historyRepo{s} }

// DefinitionRepo adapts the store to port.DefinitionRepository
func (s *Store) DefinitionRepo() port.DefinitionRepository { return definitionRepo{s} }

// UserRepo adapts the store to port.UserRepository
func (s *Store) UserRepo() port.UserRepository { return userRepo{s} }

type requestRepo struct{ s *Store }

func (r requestRepo) Create(_ context.Context, req *entity.Request) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	req.ID = r.s.id()
	r.s.Requests[req.ID] = req.Clone()
	return nil
}

func (r requestRepo) GetByID(ctx context.Context, id int64) (*entity.Request, error) {
	if r.s.GetRequestFunc != nil {
		return r.s.GetRequestFunc(ctx, id)
	}
	return r.s.Request(id), nil
}

func (r requestRepo) List(_ context.Context, scope port.Scope, filter port.ListFilter) ([]*entity.Request, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	out := []*entity.Request{}
	for _, req := range r.s.Requests {
		switch {
		case scope.TenantID != nil && req.TenantID != *scope.TenantID:
			continue
		case scope.RequesterID != nil && req.RequesterID != *scope.RequesterID:
			continue
		case scope.AssigneeID != nil && !req.IsAssignedTo(*scope.AssigneeID):
			continue
		case filter.AssigneeID != nil && !req.IsAssignedTo(*filter.AssigneeID):
			continue
		}
		if filter.StepKey != "" {
			if st := r.s.stepByID(req.CurrentStepID); st == nil || st.Key != filter.StepKey {
				continue
			}
		}
		out = append(out, req.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return []*entity.Request{}, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r requestRepo) MoveStep(ctx context.Context, req *entity.Request, fromStepID int64) (bool, error) {
	if r.s.MoveStepFunc != nil {
		return r.s.MoveStepFunc(ctx, req, fromStepID)
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.Requests[req.ID]
	if !ok || cur.CurrentStepID != fromStepID {
		return false, nil
	}
	next := cur.Clone()
	next.CurrentStepID = req.CurrentStepID
	next.StatusLabel = req.StatusLabel
	next.AssigneeID = req.AssigneeID
	next.UpdatedAt = req.UpdatedAt
	next.CompletedAt = req.CompletedAt
	r.s.Requests[req.ID] = next
	return true, nil
}

func (r requestRepo) UpdateAssignee(_ context.Context, id int64, assigneeID *int64) error {
	return r.mutate(id, func(req *entity.Request) { req.AssigneeID = assigneeID })
}

func (r requestRepo) UpdateInvoice(_ context.Context, id int64, raised, paid bool, amountCents int64) error {
	return r.mutate(id, func(req *entity.Request) {
		req.InvoiceRaised, req.InvoicePaid, req.InvoiceAmountCents = raised, paid, amountCents
	})
}

func (r requestRepo) UpdateNotes(_ context.Context, id int64, notes string) error {
	return r.mutate(id, func(req *entity.Request) { req.InternalNotes = notes })
}

func (r requestRepo) mutate(id int64, fn func(*entity.Request)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	req, ok := r.s.Requests[id]
	if !ok {
		return errNotFound
	}
	next := req.Clone()
	fn(next)
	next.UpdatedAt = time.Now().UTC()
	r.s.Requests[id] = next
	return nil
}

func (r requestRepo) CountAssigned(ctx context.Context, assigneeID, stepID, excludeID int64) (int, error) {
	if r.s.CountAssignedFunc != nil {
		return r.s.CountAssignedFunc(ctx, assigneeID, stepID, excludeID)
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for _, req := range r.s.Requests {
		if req.ID != excludeID && req.CurrentStepID == stepID && req.IsAssignedTo(assigneeID) {
			n++
		}
	}
	return n, nil
}

func (r requestRepo) Workload(_ context.Context, assigneeID int64) (map[string]int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := map[string]int{}
	for _, req := range r.s.Requests {
		if !req.IsAssignedTo(assigneeID) {
			continue
		}
		if st := r.s.stepByID(req.CurrentStepID); st != nil && !st.IsTerminal() {
			out[st.Key]++
		}
	}
	return out, nil
}

type historyRepo struct{ s *Store }

func (h historyRepo) Create(_ context.Context, rec *entity.RequestTransition) error {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	rec.ID = h.s.id()
	h.s.History = append(h.s.History, rec)
	return nil
}

func (h historyRepo) ListByRequest(_ context.Context, requestID int64) ([]*entity.RequestTransition, error) {
	out := h.s.HistoryFor(requestID)
	if out == nil {
		out = []*entity.RequestTransition{}
	}
	return out, nil
}

type definitionRepo struct{ s *Store }

func (d definitionRepo) Create(_ context.Context, def *entity.WorkflowDefinition) error {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	d.s.addDefinition(def)
	return nil
}

func (d definitionRepo) GetByID(_ context.Context, id int64) (*entity.WorkflowDefinition, error) {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	return d.s.Definitions[id], nil
}

func (d definitionRepo) GetDefault(_ context.Context, tenantID int64) (*entity.WorkflowDefinition, error) {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	for _, def := range d.s.Definitions {
		if def.IsDefault && def.TenantID != nil && *def.TenantID == tenantID {
			return def, nil
		}
	}
	return nil, nil
}

func (d definitionRepo) ListByTenant(_ context.Context, tenantID int64) ([]*entity.WorkflowDefinition, error) {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	out := []*entity.WorkflowDefinition{}
	for _, def := range d.s.Definitions {
		if def.TenantID == nil || *def.TenantID == tenantID {
			out = append(out, def)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (d definitionRepo) ClearDefault(_ context.Context, tenantID int64) error {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	for _, def := range d.s.Definitions {
		if def.IsDefault && def.TenantID != nil && *def.TenantID == tenantID {
			def.IsDefault = false
			def.Version++
		}
	}
	return nil
}

func (d definitionRepo) SetDefault(_ context.Context, id int64) error {
	return d.bump(id, func(def *entity.WorkflowDefinition) { def.IsDefault = true })
}

func (d definitionRepo) SetActive(_ context.Context, id int64, active bool) error {
	return d.bump(id, func(def *entity.WorkflowDefinition) { def.IsActive = active })
}

func (d definitionRepo) bump(id int64, fn func(*entity.WorkflowDefinition)) error {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	def, ok := d.s.Definitions[id]
	if !ok {
		return errNotFound
	}
	fn(def)
	def.Version++
	return nil
}

func (d definitionRepo) Versions(_ context.Context) (map[int64]int64, error) {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	out := make(map[int64]int64, len(d.s.Definitions))
	for id, def := range d.s.Definitions {
		out[id] = def.Version
	}
	return out, nil
}

type userRepo struct{ s *Store }

func (u userRepo) Create(_ context.Context, user *entity.User) error {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	user.ID = u.s.id()
	u.s.Users[user.ID] = user
	return nil
}

func (u userRepo) GetByID(_ context.Context, id int64) (*entity.User, error) {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	return u.s.Users[id], nil
}

// TxManager runs fn inline. Err fails the transaction before fn runs;
// Contended makes WithRetry report exhausted contention.
type TxManager struct {
	Err       error
	Contended bool
	Calls     int
}

// WithTransaction implements port.TransactionManager
func (m *TxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	m.Calls++
	if m.Err != nil {
		return m.Err
	}
	return fn(ctx)
}

// WithRetry implements port.TransactionManager
func (m *TxManager) WithRetry(ctx context.Context, attempts int, fn func(ctx context.Context) error) error {
	if m.Contended {
		m.Calls += attempts
		return port.ErrContention
	}
	return m.WithTransaction(ctx, fn)
}

type sentinel string

func (e sentinel) Error() string { return string(e) }

const errNotFound = sentinel("porttest: not found")

var (
	_ port.RequestRepository    = requestRepo{}
	_ port.HistoryRepository    = historyRepo{}
	_ port.DefinitionRepository = definitionRepo{}
	_ port.UserRepository       = userRepo{}
	_ port.TransactionManager   = (*TxManager)(nil)
)
