package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/loomtrack/issues/internal/domain"
	"github.com/loomtrack/issues/internal/search"
	"github.com/loomtrack/issues/internal/service"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

// IssueHandler handles issue CRUD, search, assignment and file endpoints.
type IssueHandler struct {
	issues *service.IssueService
}

// NewIssueHandler creates a new IssueHandler.
func NewIssueHandler(issues *service.IssueService) *IssueHandler {
	return &IssueHandler{issues: issues}
}

// Create handles POST /api/issues.
func (h *IssueHandler) Create(c echo.Context) error {
	var in service.CreateIssueInput
	if err := c.Bind(&in); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	if err := c.Validate(&in); err != nil {
		return err
	}

	view, err := h.issues.Create(c.Request().Context(), in)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusCreated, view)
}

// CreateBatch handles POST /api/issues/batch.
func (h *IssueHandler) CreateBatch(c echo.Context) error {
	var inputs []service.CreateIssueInput
	if err := c.Bind(&inputs); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	if len(inputs) == 0 {
		return fmt.Errorf("%w: empty batch", domain.ErrInvalidInput)
	}
	for i := range inputs {
		if err := c.Validate(&inputs[i]); err != nil {
			return err
		}
	}

	views, err := h.issues.CreateBatch(c.Request().Context(), inputs)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusCreated, views)
}

// Get handles GET /api/issues/:id.
func (h *IssueHandler) Get(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}

	view, err := h.issues.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, view)
}

// Validate handles GET /api/issues/validate/:id. It reports bare existence
// for other services that need to check an issue reference.
func (h *IssueHandler) Validate(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}

	exists, err := h.issues.Exists(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, map[string]bool{"exists": exists})
}

// Search handles GET /api/issues/search.
func (h *IssueHandler) Search(c echo.Context) error {
	filter, err := parseFilter(c)
	if err != nil {
		return err
	}
	page, pageNum, size := parsePage(c)

	result, err := h.issues.Search(c.Request().Context(), filter, page)
	if err != nil {
		return err
	}
	return JSONList(c, http.StatusOK, result.Issues, PaginationMeta{
		Page:  pageNum,
		Size:  size,
		Total: result.Total,
	})
}

// Update handles PUT /api/issues/:id.
func (h *IssueHandler) Update(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}

	var patch service.IssuePatch
	if err := c.Bind(&patch); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	if err := c.Validate(&patch); err != nil {
		return err
	}

	view, err := h.issues.Update(c.Request().Context(), id, patch)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, view)
}

// Delete handles DELETE /api/issues/:id.
func (h *IssueHandler) Delete(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}

	if err := h.issues.Delete(c.Request().Context(), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

type idListRequest struct {
	IssueIDs []uuid.UUID `json:"issue_ids" validate:"required,min=1"`
}

// DeleteBatch handles DELETE /api/issues/batch.
func (h *IssueHandler) DeleteBatch(c echo.Context) error {
	var req idListRequest
	if err := c.Bind(&req); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	if err := h.issues.DeleteBatch(c.Request().Context(), req.IssueIDs); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

type assignRequest struct {
	AssignedID *uuid.UUID `json:"assigned_id"`
}

// Assign handles PATCH /api/issues/assign/:id. A null assigned_id clears
// the assignment.
func (h *IssueHandler) Assign(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}

	var req assignRequest
	if err := c.Bind(&req); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}

	view, err := h.issues.AssignUser(c.Request().Context(), id, req.AssignedID)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, view)
}

type sprintAssignRequest struct {
	IssueIDs []uuid.UUID `json:"issue_ids" validate:"required,min=1"`
	SprintID uuid.UUID   `json:"sprint_id" validate:"required"`
}

// AssignSprint handles POST /api/issues/sprint/assign.
func (h *IssueHandler) AssignSprint(c echo.Context) error {
	var req sprintAssignRequest
	if err := c.Bind(&req); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	if err := h.issues.AssignSprint(c.Request().Context(), req.IssueIDs, req.SprintID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// RemoveSprint handles POST /api/issues/sprint/remove.
func (h *IssueHandler) RemoveSprint(c echo.Context) error {
	var req idListRequest
	if err := c.Bind(&req); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	if err := h.issues.RemoveSprint(c.Request().Context(), req.IssueIDs); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// AddFiles handles POST /api/issues/:id/descriptions/:descID/files. It
// accepts multipart form uploads under the "files" field.
func (h *IssueHandler) AddFiles(c echo.Context) error {
	issueID, err := parseID(c, "id")
	if err != nil {
		return err
	}
	descID, err := parseID(c, "descID")
	if err != nil {
		return err
	}

	form, err := c.MultipartForm()
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	headers := form.File["files"]
	if len(headers) == 0 {
		return fmt.Errorf("%w: no files uploaded", domain.ErrInvalidInput)
	}

	uploads := make([]service.FileUpload, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
		}
		defer f.Close()
		uploads = append(uploads, service.FileUpload{Name: fh.Filename, Reader: f})
	}

	files, err := h.issues.AddFiles(c.Request().Context(), issueID, descID, uploads)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusCreated, files)
}

func parseID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid %s", domain.ErrInvalidInput, name)
	}
	return id, nil
}

// parseFilter reads the search criteria from query params. The literal
// "null" selects rows where the field is unset.
func parseFilter(c echo.Context) (search.Filter, error) {
	var filter search.Filter

	filter.Keyword = c.QueryParam("keyword")

	projectID, err := parseUUIDParam(c, "projectId")
	if err != nil {
		return filter, err
	}
	filter.ProjectID = projectID

	if filter.SprintID, err = parseUUIDParam(c, "sprintId"); err != nil {
		return filter, err
	}
	if filter.Status, err = parseCodeParam(c, "status"); err != nil {
		return filter, err
	}
	if filter.Priority, err = parseCodeParam(c, "priority"); err != nil {
		return filter, err
	}
	if filter.Type, err = parseCodeParam(c, "type"); err != nil {
		return filter, err
	}

	for _, raw := range c.QueryParams()["assignedIds"] {
		id, err := uuid.Parse(raw)
		if err != nil {
			return filter, fmt.Errorf("%w: invalid assignedIds", domain.ErrInvalidInput)
		}
		filter.AssignedIDs = append(filter.AssignedIDs, id)
	}

	if raw := c.QueryParam("isParent"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return filter, fmt.Errorf("%w: invalid isParent", domain.ErrInvalidInput)
		}
		filter.IsParent = &b
	}

	return filter, nil
}

func parseCodeParam(c echo.Context, name string) (*int64, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil, nil
	}
	if strings.EqualFold(raw, "null") {
		v := search.NullCode
		return &v, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid %s", domain.ErrInvalidInput, name)
	}
	return &v, nil
}

func parseUUIDParam(c echo.Context, name string) (*uuid.UUID, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil, nil
	}
	if strings.EqualFold(raw, "null") {
		v := search.NullID
		return &v, nil
	}
	v, err := uuid.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid %s", domain.ErrInvalidInput, name)
	}
	return &v, nil
}

func parsePage(c echo.Context) (search.Page, int, int) {
	pageNum := 0
	if v, err := strconv.Atoi(c.QueryParam("page")); err == nil && v > 0 {
		pageNum = v
	}
	size := defaultPageSize
	if v, err := strconv.Atoi(c.QueryParam("size")); err == nil && v > 0 {
		size = v
	}
	if size > maxPageSize {
		size = maxPageSize
	}

	page := search.Page{
		SortBy:    c.QueryParam("sortBy"),
		Ascending: !strings.EqualFold(c.QueryParam("direction"), "desc"),
		Offset:    pageNum * size,
		Limit:     size,
	}
	return page, pageNum, size
}
