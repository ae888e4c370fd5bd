package http

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/moogar0880/problems"

	"github.com/garyjia/practice-workflow/internal/domain/entity"
)

// Identity headers set by the upstream gateway after authentication
const (
	HeaderUserID   = "X-User-ID"
	HeaderTenantID = "X-Tenant-ID"
	HeaderRoles    = "X-Roles"
)

const actorKey = "workflow.actor"

// identityMiddleware reads the caller's identity triple. Requests without a
// complete triple are refused before reaching a handler.
func identityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, errUser := strconv.ParseInt(c.GetHeader(HeaderUserID), 10, 64)
		tenantID, errTenant := strconv.ParseInt(c.GetHeader(HeaderTenantID), 10, 64)
		roles := entity.SplitRoles(strings.ToLower(c.GetHeader(HeaderRoles)))

		if errUser != nil || errTenant != nil || userID <= 0 || tenantID <= 0 || len(roles) == 0 {
			problem := problems.NewStatusProblem(http.StatusUnauthorized).
				WithInstance(c.Request.URL.Path).
				WithType("unauthenticated").
				WithDetail("X-User-ID, X-Tenant-ID and X-Roles headers are required")
			writeProblem(c, http.StatusUnauthorized, problem)
			return
		}

		c.Set(actorKey, entity.Actor{UserID: userID, TenantID: tenantID, Roles: roles})
		c.Next()
	}
}

func actorFrom(c *gin.Context) entity.Actor {
	if v, ok := c.Get(actorKey); ok {
		return v.(entity.Actor)
	}
	return entity.Actor{}
}
