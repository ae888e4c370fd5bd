package http

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/practice-workflow/internal/application/port"
	"github.com/garyjia/practice-workflow/internal/application/service"
	"github.com/garyjia/practice-workflow/internal/application/workflow"
	"github.com/garyjia/practice-workflow/internal/domain/entity"
	"github.com/garyjia/practice-workflow/internal/report"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Handlers contains all HTTP request handlers
type Handlers struct {
	services Services
	logger   Logger
	now      func() time.Time
}

// NewHandlers creates a new Handlers instance
func NewHandlers(services Services, logger Logger) *Handlers {
	return &Handlers{services: services, logger: logger, now: time.Now}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// TransitionRequest is the body of POST /requests/:id/transitions
type TransitionRequest struct {
	TransitionKey   string `json:"transition_key"`
	ExpectedStepKey string `json:"expected_step_key"`
	AssigneeID      *int64 `json:"assignee_id"`
}

// AssignRequest is the body of PUT /requests/:id/assignee
type AssignRequest struct {
	AssigneeID int64 `json:"assignee_id"`
}

// NotesRequest is the body of PATCH /requests/:id/notes
type NotesRequest struct {
	Notes string `json:"notes"`
}

// CloneRequest is the body of POST /definitions/:id/clone
type CloneRequest struct {
	TenantID int64 `json:"tenant_id"`
}

// ListRequestsQuery holds the query parameters of GET /requests
type ListRequestsQuery struct {
	Step       string `form:"step"`
	AssigneeID *int64 `form:"assignee_id"`
	Limit      int    `form:"limit"`
	Offset     int    `form:"offset"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	ok(c, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: h.now().UTC().Format(time.RFC3339),
	})
}

// CreateRequest handles POST /api/requests
func (h *Handlers) CreateRequest(c *gin.Context) {
	var body workflow.NewRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}

	req, err := h.services.Engine.Create(c.Request.Context(), actorFrom(c), body)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusCreated, req)
}

// ListRequests handles GET /api/requests
func (h *Handlers) ListRequests(c *gin.Context) {
	var q ListRequestsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, "invalid query parameters: "+err.Error())
		return
	}

	reqs, err := h.services.Requests.List(c.Request.Context(), actorFrom(c), port.ListFilter{
		StepKey:    q.Step,
		AssigneeID: q.AssigneeID,
		Limit:      q.Limit,
		Offset:     q.Offset,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, reqs)
}

// GetRequest handles GET /api/requests/:id
func (h *Handlers) GetRequest(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}

	req, err := h.services.Requests.Get(c.Request.Context(), actorFrom(c), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, req)
}

// RequestHistory handles GET /api/requests/:id/history
func (h *Handlers) RequestHistory(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}

	rows, err := h.services.Requests.History(c.Request.Context(), actorFrom(c), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, rows)
}

// AvailableTransitions handles GET /api/requests/:id/transitions
func (h *Handlers) AvailableTransitions(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}

	available, err := h.services.Engine.CanTransition(c.Request.Context(), id, actorFrom(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, available)
}

// Transition handles POST /api/requests/:id/transitions
func (h *Handlers) Transition(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}
	var body TransitionRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}

	req, err := h.services.Engine.Transition(c.Request.Context(), workflow.TransitionCommand{
		RequestID:       id,
		Actor:           actorFrom(c),
		TransitionKey:   body.TransitionKey,
		ExpectedStepKey: body.ExpectedStepKey,
		AssigneeID:      body.AssigneeID,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, req)
}

// Assign handles PUT /api/requests/:id/assignee
func (h *Handlers) Assign(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}
	var body AssignRequest
	if err := c.ShouldBindJSON(&body); err != nil || body.AssigneeID <= 0 {
		badRequest(c, "assignee_id is required")
		return
	}

	req, err := h.services.Assignments.Assign(c.Request.Context(), id, actorFrom(c), body.AssigneeID)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, req)
}

// Unassign handles DELETE /api/requests/:id/assignee
func (h *Handlers) Unassign(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}

	req, err := h.services.Assignments.Unassign(c.Request.Context(), id, actorFrom(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, req)
}

// UpdateInvoice handles PATCH /api/requests/:id/invoice
func (h *Handlers) UpdateInvoice(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}
	var body service.InvoiceUpdate
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}

	req, err := h.services.Requests.UpdateInvoice(c.Request.Context(), actorFrom(c), id, body)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, req)
}

// UpdateNotes handles PATCH /api/requests/:id/notes
func (h *Handlers) UpdateNotes(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}
	var body NotesRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}

	req, err := h.services.Requests.UpdateNotes(c.Request.Context(), actorFrom(c), id, body.Notes)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, req)
}

// Workload handles GET /api/users/:id/workload
func (h *Handlers) Workload(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}

	counts, err := h.services.Assignments.Workload(c.Request.Context(), actorFrom(c), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, counts)
}

// Metrics handles GET /api/metrics
func (h *Handlers) Metrics(c *gin.Context) {
	filter, valid := tenantQuery(c)
	if !valid {
		return
	}

	m, err := h.services.Metrics.Summarize(c.Request.Context(), actorFrom(c), filter)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, m)
}

// ExportMetrics handles GET /api/metrics/export
func (h *Handlers) ExportMetrics(c *gin.Context) {
	filter, valid := tenantQuery(c)
	if !valid {
		return
	}

	m, err := h.services.Metrics.Summarize(c.Request.Context(), actorFrom(c), filter)
	if err != nil {
		h.fail(c, err)
		return
	}

	now := h.now().UTC()
	var buf bytes.Buffer
	if err := report.WriteMetricsWorkbook(&buf, m, now); err != nil {
		h.fail(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="metrics-%s.xlsx"`, now.Format("20060102")))
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}

// CreateDefinition handles POST /api/definitions
func (h *Handlers) CreateDefinition(c *gin.Context) {
	var spec service.DefinitionSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	actor := actorFrom(c)
	tenantID, valid := targetTenant(c, actor)
	if !valid {
		return
	}

	def, err := h.services.Definitions.Create(c.Request.Context(), actor, tenantID, spec)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusCreated, def)
}

// ListDefinitions handles GET /api/definitions
func (h *Handlers) ListDefinitions(c *gin.Context) {
	actor := actorFrom(c)
	tenantID, valid := targetTenant(c, actor)
	if !valid {
		return
	}

	defs, err := h.services.Definitions.List(c.Request.Context(), actor, tenantID)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, defs)
}

// GetDefinition handles GET /api/definitions/:id
func (h *Handlers) GetDefinition(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}

	def, err := h.services.Definitions.Get(c.Request.Context(), actorFrom(c), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, def)
}

// SetDefaultDefinition handles POST /api/definitions/:id/default
func (h *Handlers) SetDefaultDefinition(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}

	if err := h.services.Definitions.SetDefault(c.Request.Context(), actorFrom(c), id); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// CloneDefinition handles POST /api/definitions/:id/clone
func (h *Handlers) CloneDefinition(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}
	var body CloneRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			badRequest(c, "invalid request body: "+err.Error())
			return
		}
	}
	actor := actorFrom(c)
	if body.TenantID == 0 {
		body.TenantID = actor.TenantID
	}

	def, err := h.services.Definitions.Clone(c.Request.Context(), actor, id, body.TenantID)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusCreated, def)
}

// DeactivateDefinition handles DELETE /api/definitions/:id
func (h *Handlers) DeactivateDefinition(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}

	if err := h.services.Definitions.Deactivate(c.Request.Context(), actorFrom(c), id); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func ok(c *gin.Context, status int, data interface{}) {
	c.JSON(status, Response{Success: true, Data: data})
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, fmt.Sprintf("invalid id %q", c.Param("id")))
		return 0, false
	}
	return id, true
}

// tenantQuery reads the optional tenant_id narrowing parameter
func tenantQuery(c *gin.Context) (*int64, bool) {
	raw := c.Query("tenant_id")
	if raw == "" {
		return nil, true
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, fmt.Sprintf("invalid tenant_id %q", raw))
		return nil, false
	}
	return &id, true
}

// targetTenant is the tenant_id query parameter, or the actor's own tenant
func targetTenant(c *gin.Context, actor entity.Actor) (int64, bool) {
	filter, valid := tenantQuery(c)
	if !valid {
		return 0, false
	}
	if filter == nil {
		return actor.TenantID, true
	}
	return *filter, true
}
