package api

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/depictio/depictio/common"
	"github.com/depictio/depictio/diagnostics"
	"github.com/depictio/depictio/events"
	"github.com/depictio/depictio/models"
	"github.com/depictio/depictio/query"
	"github.com/depictio/depictio/scan"
)

// QueryDataCollection serves paginated, filtered slices of one data
// collection's table.
//
// Endpoint: POST /depictio/api/v1/datacollections/:dc_id/query?project_id=…
func (h *Handlers) QueryDataCollection(c echo.Context) error {
	projectID, err := models.ParseID(c.QueryParam("project_id"))
	if err != nil {
		return fail(c, common.WrapError(common.ErrConfigInvalid, "project_id", err))
	}

	var req query.Request
	if err := c.Bind(&req); err != nil {
		return fail(c, common.WrapError(common.ErrConfigInvalid, "request body", err))
	}

	project, err := h.Projects.GetProject(c.Request().Context(), projectID)
	if err != nil {
		return fail(c, err)
	}

	response, err := h.Queries.Query(c.Request().Context(), project, c.Param("dc_id"), req)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, response)
}

// findJoin locates a join definition by name within a project.
func findJoin(project *models.Project, name string) (*models.JoinDefinition, error) {
	for i := range project.Joins {
		if project.Joins[i].Name == name {
			return &project.Joins[i], nil
		}
	}
	return nil, common.Errorf(common.ErrNotFound, project.ID.String(), "join %q not found", name)
}

// loadProjectAndJoin resolves the path parameters shared by the join
// endpoints.
func (h *Handlers) loadProjectAndJoin(c echo.Context) (*models.Project, *models.JoinDefinition, error) {
	projectID, err := models.ParseID(c.Param("project_id"))
	if err != nil {
		return nil, nil, common.WrapError(common.ErrConfigInvalid, "project_id", err)
	}
	project, err := h.Projects.GetProject(c.Request().Context(), projectID)
	if err != nil {
		return nil, nil, err
	}
	joinDef, err := findJoin(project, c.Param("name"))
	if err != nil {
		return nil, nil, err
	}
	return project, joinDef, nil
}

// ValidateJoin reports whether a join definition can execute.
func (h *Handlers) ValidateJoin(c echo.Context) error {
	project, joinDef, err := h.loadProjectAndJoin(c)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, h.Joins.Validate(c.Request().Context(), joinDef, project))
}

// PreviewJoin executes a join without persisting and returns statistics plus
// sample rows.
func (h *Handlers) PreviewJoin(c echo.Context) error {
	project, joinDef, err := h.loadProjectAndJoin(c)
	if err != nil {
		return fail(c, err)
	}

	sampleLimit := 10
	if err := echo.QueryParamsBinder(c).Int("sample_limit", &sampleLimit).BindError(); err != nil {
		return fail(c, common.WrapError(common.ErrConfigInvalid, "sample_limit", err))
	}

	preview, err := h.Joins.Preview(c.Request().Context(), joinDef, project, sampleLimit)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, preview)
}

// ExecuteJoin runs a join, persisting the result when the definition
// requests it. Duplicate expensive executions across replicas are deduped
// through the lock manager.
func (h *Handlers) ExecuteJoin(c echo.Context) error {
	project, joinDef, err := h.loadProjectAndJoin(c)
	if err != nil {
		return fail(c, err)
	}

	var metadata *models.JoinExecutionMetadata
	execute := func(ctx context.Context) error {
		var execErr error
		_, metadata, execErr = h.Joins.ExecuteAndPersist(ctx, joinDef, project)
		return execErr
	}

	// The lock dedupes concurrent executions of the same join across
	// replicas; when Redis is unreachable it fails open and the join runs.
	if h.Locks != nil {
		acquired, execErr := h.Locks.WithLock(c.Request().Context(), "execute_join", joinDef.Name, execute)
		if execErr != nil {
			return fail(c, execErr)
		}
		if !acquired {
			return c.JSON(http.StatusAccepted, map[string]interface{}{
				"status": "skipped",
				"reason": "another execution of this join is in progress",
			})
		}
	} else if execErr := execute(c.Request().Context()); execErr != nil {
		return fail(c, execErr)
	}

	if err := h.Projects.PutProject(c.Request().Context(), project); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"join":     joinDef,
		"metadata": metadata,
	})
}

// ResolveLink translates source-column filter values into target DC
// identifiers through the project's links.
func (h *Handlers) ResolveLink(c echo.Context) error {
	projectID, err := models.ParseID(c.Param("project_id"))
	if err != nil {
		return fail(c, common.WrapError(common.ErrConfigInvalid, "project_id", err))
	}

	var req models.LinkResolutionRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, common.WrapError(common.ErrConfigInvalid, "request body", err))
	}

	project, err := h.Projects.GetProject(c.Request().Context(), projectID)
	if err != nil {
		return fail(c, err)
	}

	resolution, err := h.Links.Resolve(c.Request().Context(), project, req)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, resolution)
}

// ScanProject triggers a server-side scan of a project's configured
// locations.
func (h *Handlers) ScanProject(c echo.Context) error {
	projectID, err := models.ParseID(c.Param("project_id"))
	if err != nil {
		return fail(c, common.WrapError(common.ErrConfigInvalid, "project_id", err))
	}
	project, err := h.Projects.GetProject(c.Request().Context(), projectID)
	if err != nil {
		return fail(c, err)
	}

	params := scan.Params{
		Rescan: c.QueryParam("rescan") == "true",
		Sync:   c.QueryParam("sync") == "true",
	}
	result, err := h.Scanner.ScanProject(c.Request().Context(), project,
		c.QueryParam("workflow"), c.QueryParam("dc_tag"), params)
	if err != nil {
		return fail(c, err)
	}

	status := http.StatusOK
	if result.Partial {
		status = http.StatusMultiStatus
	}
	return c.JSON(status, result)
}

// RunDiagnostics returns the infrastructure probe report.
func (h *Handlers) RunDiagnostics(c echo.Context) error {
	report := diagnostics.Run(c.Request().Context(), h.Diagnostics)
	return c.JSON(http.StatusOK, report)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Cross-origin dashboards connect through the configured CORS origins;
	// the JWT in the query string is the actual gate.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// EventsWebSocket upgrades the connection and streams bus events for one
// (user, dashboard) subscription until the client disconnects.
//
// Endpoint: GET /depictio/api/v1/events/ws?token=…&dashboard_id=…
func (h *Handlers) EventsWebSocket(c echo.Context) error {
	userID, err := h.verifyToken(c.QueryParam("token"))
	if err != nil {
		return fail(c, err)
	}
	dashboardID := c.QueryParam("dashboard_id")

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return fail(c, common.WrapError(common.ErrIO, "websocket upgrade", err))
	}

	session := events.NewSession(conn, h.Bus, events.SubscriberKey{
		UserID:      userID,
		DashboardID: dashboardID,
	}, h.Events)
	session.Run()
	return nil
}

// verifyToken validates a JWT and extracts its subject.
func (h *Handlers) verifyToken(raw string) (string, error) {
	if raw == "" {
		return "", common.NewError(common.ErrAuth, "missing token", "events/ws")
	}
	if h.Auth.SigningKey == "" {
		// Auth disabled (development); accept the token as an opaque user
		// id.
		return raw, nil
	}

	token, err := jwt.Parse([]byte(raw),
		jwt.WithKey(jwa.HS256, []byte(h.Auth.SigningKey)),
		jwt.WithValidate(true),
	)
	if err != nil {
		return "", common.WrapError(common.ErrAuth, "events/ws", err)
	}
	if token.Subject() == "" {
		return "", common.NewError(common.ErrAuth, "token has no subject", "events/ws")
	}
	return token.Subject(), nil
}
