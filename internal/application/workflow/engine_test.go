package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/practice-workflow/internal/application/assignment"
	"github.com/garyjia/practice-workflow/internal/application/dispatcher"
	"github.com/garyjia/practice-workflow/internal/application/port/porttest"
	"github.com/garyjia/practice-workflow/internal/domain/entity"
	"github.com/garyjia/practice-workflow/internal/domain/event"
	domainwf "github.com/garyjia/practice-workflow/internal/domain/workflow"
)

const tenantID int64 = 7

type mockDispatcher struct {
	mu     sync.Mutex
	events []*event.Event
	err    error
}

func (m *mockDispatcher) Subscribe(event.Type, dispatcher.Handler)              {}
func (m *mockDispatcher) SubscribeNamed(event.Type, string, dispatcher.Handler) {}
func (m *mockDispatcher) Unsubscribe(event.Type, string)                        {}
func (m *mockDispatcher) Handlers(event.Type) []dispatcher.HandlerInfo          { return nil }
func (m *mockDispatcher) Close() error                                          { return nil }

func (m *mockDispatcher) Dispatch(_ context.Context, evt *event.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
	return m.err
}

func (m *mockDispatcher) ofType(t event.Type) []*event.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*event.Event
	for _, e := range m.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type mockChecker struct {
	checkFunc func(ctx context.Context, actor entity.Actor, req *entity.Request, dest *entity.Step, assigneeID *int64) error
}

func (m *mockChecker) CheckTransition(ctx context.Context, actor entity.Actor, req *entity.Request, dest *entity.Step, assigneeID *int64) error {
	if m.checkFunc != nil {
		return m.checkFunc(ctx, actor, req, dest, assigneeID)
	}
	return nil
}

type engineFixture struct {
	store      *porttest.Store
	tx         *porttest.TxManager
	catalog    *Catalog
	events     *mockDispatcher
	manager    *assignment.Manager
	engine     Engine
	def        *entity.WorkflowDefinition
	admin      *entity.User
	accountant *entity.User
	client     *entity.User
}

func newEngineFixture(t *testing.T, opts ...EngineOption) *engineFixture {
	t.Helper()

	f := &engineFixture{
		store:  porttest.NewStore(),
		tx:     &porttest.TxManager{},
		events: &mockDispatcher{},
	}
	f.admin = f.store.AddUser(tenantID, "Ada", entity.RoleAdmin)
	f.accountant = f.store.AddUser(tenantID, "Bo", entity.RoleAccountant)
	f.client = f.store.AddUser(tenantID, "Cy", entity.RoleClient)

	def := StandardDefinition()
	tid := tenantID
	def.TenantID = &tid
	def.IsDefault = true
	f.def = f.store.AddDefinition(def)

	f.catalog = NewCatalog(f.store.DefinitionRepo(), nil)
	f.manager = assignment.NewManager(f.store.RequestRepo(), f.store.UserRepo(), f.tx, f.catalog)

	base := []EngineOption{
		WithDispatcher(f.events),
		WithClock(func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }),
	}
	f.engine = NewEngine(
		f.store.RequestRepo(),
		f.store.HistoryRepo(),
		f.store.DefinitionRepo(),
		f.store.UserRepo(),
		f.tx,
		f.catalog,
		f.manager,
		append(base, opts...)...,
	)
	return f
}

func (f *engineFixture) actor(u *entity.User) entity.Actor {
	return entity.Actor{UserID: u.ID, TenantID: u.TenantID, Roles: u.Roles}
}

func (f *engineFixture) create(t *testing.T) *entity.Request {
	t.Helper()
	req, err := f.engine.Create(context.Background(), f.actor(f.client), NewRequest{Title: "VAT return"})
	require.NoError(t, err)
	return req
}

// seed places a request directly at stepKey
func (f *engineFixture) seed(t *testing.T, stepKey string, assigneeID *int64, invoiceRaised bool) *entity.Request {
	t.Helper()
	req := &entity.Request{
		TenantID:      tenantID,
		DefinitionID:  f.def.ID,
		RequesterID:   f.client.ID,
		AssigneeID:    assigneeID,
		CurrentStepID: f.store.StepID(f.def.ID, stepKey),
		StatusLabel:   stepKey,
		Title:         "Payroll",
		Priority:      entity.PriorityNormal,
		InvoiceRaised: invoiceRaised,
	}
	require.NoError(t, f.store.RequestRepo().Create(context.Background(), req))
	return req
}

func (f *engineFixture) move(t *testing.T, id int64, u *entity.User, key string) (*entity.Request, error) {
	t.Helper()
	return f.engine.Transition(context.Background(), TransitionCommand{
		RequestID:     id,
		Actor:         f.actor(u),
		TransitionKey: key,
	})
}

func TestEngine_Create(t *testing.T) {
	f := newEngineFixture(t)

	req := f.create(t)

	assert.NotZero(t, req.ID)
	assert.Equal(t, f.def.ID, req.DefinitionID)
	assert.Equal(t, f.store.StepID(f.def.ID, "pending"), req.CurrentStepID)
	assert.Equal(t, "pending", req.StatusLabel)
	assert.Equal(t, f.client.ID, req.RequesterID)
	assert.Equal(t, entity.PriorityNormal, req.Priority)
	assert.Nil(t, req.AssigneeID)
	assert.Nil(t, req.CompletedAt)

	history := f.store.HistoryFor(req.ID)
	require.Len(t, history, 1)
	assert.Equal(t, "pending", history[0].ToStepKey)
	assert.Nil(t, history[0].TransitionID)

	created := f.events.ofType(event.TypeRequestCreated)
	require.Len(t, created, 1)
	assert.Equal(t, req.ID, created[0].RequestID)
}

func TestEngine_CreateRejections(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		actor entity.Actor
		in    NewRequest
		kind  domainwf.Kind
	}{
		{
			name:  "missing title",
			actor: f.actor(f.client),
			in:    NewRequest{},
			kind:  domainwf.KindInvalidInput,
		},
		{
			name:  "unknown priority",
			actor: f.actor(f.client),
			in:    NewRequest{Title: "x", Priority: "whenever"},
			kind:  domainwf.KindInvalidInput,
		},
		{
			name:  "client opening for someone else",
			actor: f.actor(f.client),
			in:    NewRequest{Title: "x", RequesterID: f.admin.ID},
			kind:  domainwf.KindForbidden,
		},
		{
			name:  "foreign tenant",
			actor: f.actor(f.admin),
			in:    NewRequest{Title: "x", TenantID: tenantID + 1},
			kind:  domainwf.KindForbidden,
		},
		{
			name:  "unknown definition",
			actor: f.actor(f.admin),
			in:    NewRequest{Title: "x", DefinitionID: 424242},
			kind:  domainwf.KindNotFound,
		},
		{
			name:  "requester outside tenant",
			actor: f.actor(f.admin),
			in:    NewRequest{Title: "x", RequesterID: 555555},
			kind:  domainwf.KindNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.Create(ctx, tt.actor, tt.in)
			require.Error(t, err)
			assert.Equal(t, tt.kind, domainwf.KindOf(err))
		})
	}
}

func TestEngine_CreateOnBehalfAndInactive(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	req, err := f.engine.Create(ctx, f.actor(f.admin), NewRequest{Title: "Audit", RequesterID: f.client.ID, Priority: entity.PriorityUrgent})
	require.NoError(t, err)
	assert.Equal(t, f.client.ID, req.RequesterID)
	assert.Equal(t, entity.PriorityUrgent, req.Priority)

	require.NoError(t, f.store.DefinitionRepo().SetActive(ctx, f.def.ID, false))
	_, err = f.engine.Create(ctx, f.actor(f.client), NewRequest{Title: "Audit"})
	assert.ErrorIs(t, err, domainwf.ErrInvalidDefinition)
}

// The lifecycle from the service agreement: invoice must be raised before
// assignment, and processing needs a holder.
func TestEngine_InvoiceThenAssignScenario(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	req := f.create(t)

	moved, err := f.move(t, req.ID, f.admin, "raise_invoice")
	require.NoError(t, err)
	assert.Equal(t, "invoice_raised", moved.StatusLabel)
	assert.False(t, moved.InvoiceRaised, "moving never touches invoice flags")

	_, err = f.move(t, req.ID, f.admin, "assign")
	require.ErrorIs(t, err, domainwf.ErrInvoicePrerequisiteNotMet)
	rej, ok := domainwf.AsRejection(err)
	require.True(t, ok)
	assert.Equal(t, "invoice_raised", rej.Field)
	assert.Equal(t, "invoice_raised", f.store.Request(req.ID).StatusLabel)

	require.NoError(t, f.store.RequestRepo().UpdateInvoice(ctx, req.ID, true, false, 25000))

	moved, err = f.move(t, req.ID, f.admin, "assign")
	require.NoError(t, err)
	assert.Equal(t, "assigned", moved.StatusLabel)

	_, err = f.move(t, req.ID, f.admin, "start")
	require.ErrorIs(t, err, domainwf.ErrInvalidAssignee)

	_, err = f.manager.Assign(ctx, req.ID, f.actor(f.admin), f.accountant.ID)
	require.NoError(t, err)

	moved, err = f.move(t, req.ID, f.accountant, "start")
	require.NoError(t, err)
	assert.Equal(t, "processing", moved.StatusLabel)
	assert.Equal(t, f.store.StepID(f.def.ID, "processing"), moved.CurrentStepID)

	_, err = f.move(t, req.ID, f.accountant, "submit_review")
	require.NoError(t, err)

	done, err := f.move(t, req.ID, f.admin, "complete")
	require.NoError(t, err)
	assert.Equal(t, "completed", done.StatusLabel)
	require.NotNil(t, done.CompletedAt)
	assert.NotNil(t, f.store.Request(req.ID).CompletedAt)

	_, err = f.move(t, req.ID, f.admin, "complete")
	assert.ErrorIs(t, err, domainwf.ErrNoSuchTransition)
	assert.ErrorIs(t, err, domainwf.ErrUnknownTransition)

	reached := f.events.ofType(event.TypeStepReached)
	require.Len(t, reached, 5)
	last, ok := reached[4].StepReached()
	require.True(t, ok)
	assert.Equal(t, "review", last.FromStepKey)
	assert.Equal(t, "completed", last.ToStepKey)
	assert.Equal(t, f.admin.ID, last.ActorID)

	// created row plus one per successful move
	assert.Len(t, f.store.HistoryFor(req.ID), 6)
}

func TestEngine_TransitionRejections(t *testing.T) {
	f := newEngineFixture(t)

	tests := []struct {
		name string
		user func() *entity.User
		held bool
		key  string
		want error
	}{
		{name: "client cannot raise invoices", user: func() *entity.User { return f.client }, key: "raise_invoice", want: domainwf.ErrForbidden},
		{name: "accountant cannot cancel", user: func() *entity.User { return f.accountant }, held: true, key: "cancel", want: domainwf.ErrForbidden},
		{name: "unknown key", user: func() *entity.User { return f.admin }, key: "teleport", want: domainwf.ErrUnknownTransition},
		{name: "edge of another step", user: func() *entity.User { return f.admin }, key: "complete", want: domainwf.ErrUnknownTransition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req *entity.Request
			if tt.held {
				req = f.seed(t, "pending", &f.accountant.ID, false)
			} else {
				req = f.create(t)
			}
			before := len(f.events.ofType(event.TypeStepReached))
			history := len(f.store.HistoryFor(req.ID))

			_, err := f.move(t, req.ID, tt.user(), tt.key)
			require.ErrorIs(t, err, tt.want)

			assert.Equal(t, "pending", f.store.Request(req.ID).StatusLabel)
			assert.Len(t, f.events.ofType(event.TypeStepReached), before)
			assert.Len(t, f.store.HistoryFor(req.ID), history)
		})
	}
}

func TestEngine_RequestOutsideTenantIsNotFound(t *testing.T) {
	f := newEngineFixture(t)
	req := f.create(t)

	stranger := entity.Actor{UserID: 1, TenantID: tenantID + 1, Roles: []string{entity.RoleAdmin}}
	_, err := f.engine.Transition(context.Background(), TransitionCommand{RequestID: req.ID, Actor: stranger, TransitionKey: "raise_invoice"})
	assert.ErrorIs(t, err, domainwf.ErrNotFound)

	_, err = f.engine.CanTransition(context.Background(), req.ID, stranger)
	assert.ErrorIs(t, err, domainwf.ErrNotFound)

	_, err = f.move(t, 99999, f.admin, "raise_invoice")
	assert.ErrorIs(t, err, domainwf.ErrNotFound)
}

func TestEngine_StaleSnapshot(t *testing.T) {
	f := newEngineFixture(t)
	req := f.create(t)

	_, err := f.move(t, req.ID, f.admin, "raise_invoice")
	require.NoError(t, err)

	// A second caller still looking at pending
	_, err = f.engine.Transition(context.Background(), TransitionCommand{
		RequestID:       req.ID,
		Actor:           f.actor(f.admin),
		TransitionKey:   "raise_invoice",
		ExpectedStepKey: "pending",
	})
	require.ErrorIs(t, err, domainwf.ErrStaleState)
	assert.Equal(t, "invoice_raised", f.store.Request(req.ID).StatusLabel)
}

func TestEngine_ConditionalWriteLost(t *testing.T) {
	f := newEngineFixture(t)
	req := f.create(t)

	f.store.MoveStepFunc = func(context.Context, *entity.Request, int64) (bool, error) {
		return false, nil
	}

	_, err := f.move(t, req.ID, f.admin, "raise_invoice")
	require.ErrorIs(t, err, domainwf.ErrStaleState)
	assert.Len(t, f.store.HistoryFor(req.ID), 1)
	assert.Empty(t, f.events.ofType(event.TypeStepReached))
}

func TestEngine_InfrastructureErrorsPropagate(t *testing.T) {
	f := newEngineFixture(t)
	req := f.create(t)

	boom := errors.New("disk full")
	f.tx.Err = boom

	_, err := f.move(t, req.ID, f.admin, "raise_invoice")
	require.ErrorIs(t, err, boom)
	assert.Equal(t, domainwf.Kind(""), domainwf.KindOf(err))
	assert.Empty(t, f.events.ofType(event.TypeStepReached))
}

func TestEngine_SubscriberFailureKeepsCommit(t *testing.T) {
	f := newEngineFixture(t)
	req := f.create(t)
	f.events.err = errors.New("mailer down")

	moved, err := f.move(t, req.ID, f.admin, "raise_invoice")
	require.NoError(t, err)
	assert.Equal(t, "invoice_raised", moved.StatusLabel)
	assert.Len(t, f.events.ofType(event.TypeStepReached), 1)
}

func TestEngine_TransitionWithReassignment(t *testing.T) {
	f := newEngineFixture(t)
	req := f.seed(t, "assigned", nil, true)

	moved, err := f.engine.Transition(context.Background(), TransitionCommand{
		RequestID:     req.ID,
		Actor:         f.actor(f.admin),
		TransitionKey: "start",
		AssigneeID:    &f.accountant.ID,
	})
	require.NoError(t, err)
	require.NotNil(t, moved.AssigneeID)
	assert.Equal(t, f.accountant.ID, *moved.AssigneeID)
	assert.True(t, f.store.Request(req.ID).IsAssignedTo(f.accountant.ID))

	// Clients may take the edge back from a query but never reassign
	query := f.seed(t, "awaiting_client", &f.accountant.ID, true)
	_, err = f.engine.Transition(context.Background(), TransitionCommand{
		RequestID:     query.ID,
		Actor:         f.actor(f.client),
		TransitionKey: "client_replied",
		AssigneeID:    &f.admin.ID,
	})
	assert.ErrorIs(t, err, domainwf.ErrForbidden)
}

func TestEngine_TransitionRespectsWipLimit(t *testing.T) {
	f := newEngineFixture(t)

	var held []*entity.Request
	for i := 0; i < 5; i++ {
		held = append(held, f.seed(t, "processing", &f.accountant.ID, true))
	}
	req := f.seed(t, "assigned", &f.accountant.ID, true)

	_, err := f.move(t, req.ID, f.accountant, "start")
	require.ErrorIs(t, err, domainwf.ErrWipLimitExceeded)
	assert.Equal(t, "assigned", f.store.Request(req.ID).StatusLabel)

	_, err = f.manager.Unassign(context.Background(), held[0].ID, f.actor(f.admin))
	require.NoError(t, err)

	moved, err := f.move(t, req.ID, f.accountant, "start")
	require.NoError(t, err)
	assert.Equal(t, "processing", moved.StatusLabel)
}

func TestEngine_AssignmentCheckerErrorsReturnedUnchanged(t *testing.T) {
	store := porttest.NewStore()
	def := StandardDefinition()
	tid := tenantID
	def.TenantID = &tid
	def.IsDefault = true
	store.AddDefinition(def)
	admin := store.AddUser(tenantID, "Ada", entity.RoleAdmin)

	wantErr := domainwf.Reject(domainwf.KindInvalidAssignee, "assignee_id", "nope")
	checker := &mockChecker{checkFunc: func(context.Context, entity.Actor, *entity.Request, *entity.Step, *int64) error {
		return wantErr
	}}
	engine := NewEngine(store.RequestRepo(), store.HistoryRepo(), store.DefinitionRepo(), store.UserRepo(),
		&porttest.TxManager{}, NewCatalog(store.DefinitionRepo(), nil), checker)

	actor := entity.Actor{UserID: admin.ID, TenantID: tenantID, Roles: admin.Roles}
	req, err := engine.Create(context.Background(), actor, NewRequest{Title: "Books"})
	require.NoError(t, err)

	_, err = engine.Transition(context.Background(), TransitionCommand{RequestID: req.ID, Actor: actor, TransitionKey: "raise_invoice"})
	assert.Same(t, wantErr, err)

	available, err := engine.CanTransition(context.Background(), req.ID, actor)
	require.NoError(t, err)
	assert.Empty(t, available)
}

func TestEngine_CanTransition(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	req := f.create(t)

	keys := func(u *entity.User, id int64) []string {
		available, err := f.engine.CanTransition(ctx, id, f.actor(u))
		require.NoError(t, err)
		out := []string{}
		for _, a := range available {
			out = append(out, a.Key)
		}
		return out
	}

	assert.Equal(t, []string{"raise_invoice", "cancel"}, keys(f.admin, req.ID))
	assert.Empty(t, keys(f.client, req.ID))

	_, err := f.move(t, req.ID, f.admin, "raise_invoice")
	require.NoError(t, err)
	assert.Equal(t, []string{"cancel"}, keys(f.admin, req.ID), "assign waits for the invoice")

	done := f.seed(t, "completed", nil, true)
	assert.Empty(t, keys(f.admin, done.ID))
}

// CanTransition and Transition share one eligibility rule, so every listed
// edge succeeds and every unlisted edge fails.
func TestEngine_CanTransitionAgreesWithTransition(t *testing.T) {
	type state struct {
		step     string
		assignee bool
		invoice  bool
	}
	states := []state{
		{"pending", false, false},
		{"invoice_raised", false, false},
		{"invoice_raised", false, true},
		{"assigned", false, true},
		{"assigned", true, true},
		{"processing", true, true},
		{"awaiting_client", true, true},
		{"review", true, true},
	}

	for _, st := range states {
		f := newEngineFixture(t)
		for _, u := range []*entity.User{f.admin, f.accountant, f.client} {
			var holder *int64
			if st.assignee {
				holder = &f.accountant.ID
			}
			snapshot := f.seed(t, st.step, holder, st.invoice)

			available, err := f.engine.CanTransition(context.Background(), snapshot.ID, f.actor(u))
			if err != nil {
				// outside the actor's visibility; every move must fail too
				require.ErrorIs(t, err, domainwf.ErrNotFound)
			}
			listed := map[string]bool{}
			for _, a := range available {
				listed[a.Key] = true
			}

			g, err := f.catalog.Graph(context.Background(), f.def.ID)
			require.NoError(t, err)
			for _, tr := range g.Outgoing(st.step) {
				fresh := f.seed(t, st.step, holder, st.invoice)
				_, err := f.move(t, fresh.ID, u, tr.Key)
				assert.Equal(t, listed[tr.Key], err == nil,
					"step %s, user %s, edge %s: listed=%v err=%v", st.step, u.Name, tr.Key, listed[tr.Key], err)
			}
		}
	}
}

func TestEngine_StatusLabelFollowsMapping(t *testing.T) {
	f := newEngineFixture(t, WithStatusMapping(domainwf.NewStatusMapping(map[string]string{"Pending": "pending"})))
	req := f.create(t)

	moved, err := f.move(t, req.ID, f.admin, "raise_invoice")
	require.NoError(t, err)
	assert.Equal(t, "invoice_raised", moved.StatusLabel)
}

// A caller may only move requests it can see. Hidden requests read as
// missing on both the listing and the mutation path.
func TestEngine_HiddenRequestsAreNotFound(t *testing.T) {
	f := newEngineFixture(t)
	otherClient := f.store.AddUser(tenantID, "Mo", entity.RoleClient)
	otherAccountant := f.store.AddUser(tenantID, "Di", entity.RoleAccountant)

	tests := []struct {
		name  string
		user  *entity.User
		step  string
		key   string
		allow bool
	}{
		{name: "requester answers own query", user: f.client, step: "awaiting_client", key: "client_replied", allow: true},
		{name: "other client cannot answer", user: otherClient, step: "awaiting_client", key: "client_replied"},
		{name: "holder submits for review", user: f.accountant, step: "processing", key: "submit_review", allow: true},
		{name: "other accountant cannot submit", user: otherAccountant, step: "processing", key: "submit_review"},
		{name: "other accountant cannot start", user: otherAccountant, step: "assigned", key: "start"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			req := f.seed(t, tt.step, &f.accountant.ID, true)
			before := len(f.events.ofType(event.TypeStepReached))

			available, err := f.engine.CanTransition(ctx, req.ID, f.actor(tt.user))
			_, moveErr := f.move(t, req.ID, tt.user, tt.key)

			if tt.allow {
				require.NoError(t, err)
				require.NoError(t, moveErr)
				assert.NotEmpty(t, available)
				return
			}

			assert.ErrorIs(t, err, domainwf.ErrNotFound)
			assert.Empty(t, available)
			assert.ErrorIs(t, moveErr, domainwf.ErrNotFound)
			assert.Equal(t, tt.step, f.store.Request(req.ID).StatusLabel)
			assert.Len(t, f.events.ofType(event.TypeStepReached), before)
		})
	}
}
