package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/moogar0880/problems"

	domainwf "github.com/garyjia/practice-workflow/internal/domain/workflow"
)

const problemContentType = "application/problem+json"

// rejectionProblem adds the rejected field and a readable reason to the
// RFC 7807 body
type rejectionProblem struct {
	*problems.DefaultProblem
	Field  string `json:"field,omitempty"`
	Reason string `json:"reason,omitempty"`
}

var kindStatus = map[domainwf.Kind]int{
	domainwf.KindNotFound:                  http.StatusNotFound,
	domainwf.KindForbidden:                 http.StatusForbidden,
	domainwf.KindStaleState:                http.StatusConflict,
	domainwf.KindWipLimitExceeded:          http.StatusConflict,
	domainwf.KindUnknownTransition:         http.StatusUnprocessableEntity,
	domainwf.KindNoSuchTransition:          http.StatusUnprocessableEntity,
	domainwf.KindInvoicePrerequisiteNotMet: http.StatusUnprocessableEntity,
	domainwf.KindInvalidAssignee:           http.StatusUnprocessableEntity,
	domainwf.KindInvalidDefinition:         http.StatusUnprocessableEntity,
	domainwf.KindInvoiceState:              http.StatusUnprocessableEntity,
	domainwf.KindInvalidInput:              http.StatusUnprocessableEntity,
}

// StatusFor maps a rejection kind to its HTTP status. Unknown kinds are
// server faults.
func StatusFor(kind domainwf.Kind) int {
	if status, ok := kindStatus[kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func (h *Handlers) fail(c *gin.Context, err error) {
	kind := domainwf.KindOf(err)
	status := StatusFor(kind)

	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed", "method", c.Request.Method, "path", c.Request.URL.Path, "error", err)
		problem := problems.NewStatusProblem(status).
			WithInstance(c.Request.URL.Path).
			WithType("internal_error").
			WithDetail("an unexpected error occurred")
		writeProblem(c, status, problem)
		return
	}

	body := &rejectionProblem{}
	detail := err.Error()
	if rej, ok := domainwf.AsRejection(err); ok {
		detail = rej.Message()
		body.Field = rej.Field
		body.Reason = rej.Detail
	}
	body.DefaultProblem = problems.NewStatusProblem(status).
		WithInstance(c.Request.URL.Path).
		WithType(string(kind)).
		WithDetail(detail)
	writeProblem(c, status, body)
}

func badRequest(c *gin.Context, detail string) {
	problem := problems.NewStatusProblem(http.StatusBadRequest).
		WithInstance(c.Request.URL.Path).
		WithType("malformed_request").
		WithDetail(detail)
	writeProblem(c, http.StatusBadRequest, problem)
}

func writeProblem(c *gin.Context, status int, body interface{}) {
	c.Header("Content-Type", problemContentType)
	c.AbortWithStatusJSON(status, body)
}
