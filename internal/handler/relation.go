package handler

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/loomtrack/issues/internal/domain"
	"github.com/loomtrack/issues/internal/service"
)

// RelationHandler handles subtask and inter-issue relation endpoints.
type RelationHandler struct {
	relations *service.RelationService
}

// NewRelationHandler creates a new RelationHandler.
func NewRelationHandler(relations *service.RelationService) *RelationHandler {
	return &RelationHandler{relations: relations}
}

// CreateSubtask handles POST /api/issues/relations/:parentID/subtasks.
func (h *RelationHandler) CreateSubtask(c echo.Context) error {
	parentID, err := parseID(c, "parentID")
	if err != nil {
		return err
	}

	var in service.CreateIssueInput
	if err := c.Bind(&in); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	if err := c.Validate(&in); err != nil {
		return err
	}

	view, err := h.relations.CreateSubtask(c.Request().Context(), parentID, in)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusCreated, view)
}

// Subtasks handles GET /api/issues/relations/:parentID/subtasks.
func (h *RelationHandler) Subtasks(c echo.Context) error {
	parentID, err := parseID(c, "parentID")
	if err != nil {
		return err
	}

	views, err := h.relations.Subtasks(c.Request().Context(), parentID)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, views)
}

type relateManyRequest struct {
	TargetIDs []uuid.UUID `json:"target_ids" validate:"required,min=1"`
}

// Relate handles POST /api/issues/relations/:sourceID/related/:targetID.
func (h *RelationHandler) Relate(c echo.Context) error {
	sourceID, err := parseID(c, "sourceID")
	if err != nil {
		return err
	}
	targetID, err := parseID(c, "targetID")
	if err != nil {
		return err
	}

	if err := h.relations.Relate(c.Request().Context(), sourceID, targetID); err != nil {
		return err
	}
	return c.NoContent(http.StatusCreated)
}

// RelateMany handles POST /api/issues/relations/:sourceID/related.
func (h *RelationHandler) RelateMany(c echo.Context) error {
	sourceID, err := parseID(c, "sourceID")
	if err != nil {
		return err
	}

	var req relateManyRequest
	if err := c.Bind(&req); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	if err := h.relations.RelateMany(c.Request().Context(), sourceID, req.TargetIDs); err != nil {
		return err
	}
	return c.NoContent(http.StatusCreated)
}

// Unrelate handles DELETE /api/issues/relations/:sourceID/unrelate/:targetID.
func (h *RelationHandler) Unrelate(c echo.Context) error {
	sourceID, err := parseID(c, "sourceID")
	if err != nil {
		return err
	}
	targetID, err := parseID(c, "targetID")
	if err != nil {
		return err
	}

	if err := h.relations.Unrelate(c.Request().Context(), sourceID, targetID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// UnrelateMany handles DELETE /api/issues/relations/:sourceID/unrelate.
func (h *RelationHandler) UnrelateMany(c echo.Context) error {
	sourceID, err := parseID(c, "sourceID")
	if err != nil {
		return err
	}

	var req relateManyRequest
	if err := c.Bind(&req); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	if err := h.relations.UnrelateMany(c.Request().Context(), sourceID, req.TargetIDs); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// Related handles GET /api/issues/relations/:id/related.
func (h *RelationHandler) Related(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}

	relations, err := h.relations.RelatedFrom(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, relations)
}

// RelatedTo handles GET /api/issues/relations/:id/related-to.
func (h *RelationHandler) RelatedTo(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}

	relations, err := h.relations.RelatedTo(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, relations)
}
