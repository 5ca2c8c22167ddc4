// Package api provides the HTTP handlers and routing for the depictio
// backend: the interactive query endpoint, join execution/preview/validation,
// link resolution, the diagnostics report, and the WebSocket event stream.
// Authentication is a thin JWT-verification boundary; identity management
// itself is external.
package api

import (
	"errors"
	"net/http"

	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"

	"github.com/depictio/depictio/common"
	"github.com/depictio/depictio/config"
	"github.com/depictio/depictio/diagnostics"
	"github.com/depictio/depictio/events"
	"github.com/depictio/depictio/join"
	"github.com/depictio/depictio/links"
	"github.com/depictio/depictio/metastore"
	"github.com/depictio/depictio/query"
	"github.com/depictio/depictio/scan"
)

// Handlers contains the service dependencies required for API operations.
type Handlers struct {
	Projects    metastore.ProjectStore
	Scanner     *scan.Engine
	Joins       *join.Engine
	Links       *links.Engine
	Queries     *query.Pipeline
	Bus         *events.Bus
	Locks       *events.LockManager
	Auth        config.AuthConfig
	Events      config.EventBusConfig
	Diagnostics diagnostics.Config
}

// SetupRoutes configures all API routes under /depictio/api/v1.
//
// Public routes:
//   - GET /health (registered by the server bootstrap)
//   - GET /depictio/api/v1/events/ws (token validated from query param)
//
// Protected routes (JWT bearer):
//   - POST /depictio/api/v1/datacollections/:dc_id/query
//   - POST /depictio/api/v1/projects/:project_id/joins/:name/validate
//   - POST /depictio/api/v1/projects/:project_id/joins/:name/preview
//   - POST /depictio/api/v1/projects/:project_id/joins/:name/execute
//   - POST /depictio/api/v1/projects/:project_id/links/resolve
//   - POST /depictio/api/v1/projects/:project_id/scan
//   - GET  /depictio/api/v1/utils/diagnostics
func SetupRoutes(e *echo.Echo, h *Handlers) {
	base := e.Group("/depictio/api/v1")

	// The WebSocket handshake cannot carry an Authorization header from
	// browsers; the token travels as a query parameter instead.
	base.GET("/events/ws", h.EventsWebSocket)

	protected := base.Group("")
	if h.Auth.SigningKey != "" {
		protected.Use(echojwt.WithConfig(echojwt.Config{
			SigningKey:  []byte(h.Auth.SigningKey),
			TokenLookup: "header:Authorization:Bearer ",
			ErrorHandler: func(c echo.Context, err error) error {
				return c.JSON(http.StatusUnauthorized, errorBody(
					common.NewError(common.ErrAuth, "missing or invalid token", c.Path())))
			},
		}))
	}

	protected.POST("/datacollections/:dc_id/query", h.QueryDataCollection)
	protected.POST("/projects/:project_id/joins/:name/validate", h.ValidateJoin)
	protected.POST("/projects/:project_id/joins/:name/preview", h.PreviewJoin)
	protected.POST("/projects/:project_id/joins/:name/execute", h.ExecuteJoin)
	protected.POST("/projects/:project_id/links/resolve", h.ResolveLink)
	protected.POST("/projects/:project_id/scan", h.ScanProject)
	protected.GET("/utils/diagnostics", h.RunDiagnostics)
}

// errorBody renders a domain error as the wire form {kind, detail, context}.
func errorBody(err error) map[string]interface{} {
	var domainErr *common.Error
	if !errors.As(err, &domainErr) {
		return map[string]interface{}{"kind": "internal", "detail": err.Error()}
	}
	body := map[string]interface{}{
		"kind":   string(domainErr.Kind),
		"detail": domainErr.Detail,
	}
	if domainErr.Context != "" {
		body["context"] = domainErr.Context
	}
	return body
}

// httpStatus maps domain error kinds to HTTP statuses.
func httpStatus(err error) int {
	switch common.KindOf(err) {
	case common.ErrConfigInvalid, common.ErrMissingJoinColumn, common.ErrInvalidTime,
		common.ErrInvalidFile, common.ErrTypeError:
		return http.StatusUnprocessableEntity
	case common.ErrNotFound, common.ErrDCNotFound:
		return http.StatusNotFound
	case common.ErrDCNotProcessed:
		return http.StatusConflict
	case common.ErrAuth:
		return http.StatusUnauthorized
	case common.ErrConflict:
		return http.StatusConflict
	case common.ErrIO, common.ErrScanIO:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// fail writes a domain error response.
func fail(c echo.Context, err error) error {
	return c.JSON(httpStatus(err), errorBody(err))
}
