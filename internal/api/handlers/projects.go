// Package handlers contains the HTTP handler implementations for the
// Briefhub API.
//
// This file implements the project endpoints. Project creation is the
// entitlement-gated write: the handler consults the entitlement evaluator
// before inserting, and surfaces the quota denial with enough detail for
// the UI to render "2 of 2 used".
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"briefhub/internal/core"
	"briefhub/internal/types"
)

// --- Service Interfaces ---
//
// Interfaces are defined locally following the handler pattern used across
// this package: declare the contract where it is consumed and inject
// implementations via the constructor. This keeps handlers decoupled from
// concrete repositories and makes test mocking straightforward.

// ProjectStore is the subset of db.ProjectRepository the project handlers
// need.
type ProjectStore interface {
	Create(ctx context.Context, project *types.Project) error
	GetByID(ctx context.Context, id string, accountID string) (*types.Project, error)
	List(ctx context.Context, params types.ListProjectsParams) ([]*types.Project, *types.PageInfo, error)
	Archive(ctx context.Context, id string, accountID string) error
}

// EntitlementEvaluator decides whether an account may exercise a capability.
// Implemented by billing.Evaluator.
type EntitlementEvaluator interface {
	Can(ctx context.Context, accountID string, capability types.Capability) (*types.Decision, error)
}

// --- Request Models ---

// CreateProjectRequest is the request body for POST /v1/projects.
type CreateProjectRequest struct {
	Name       string `json:"name" validate:"required,min=1,max=200"`
	ClientName string `json:"client_name,omitempty" validate:"omitempty,max=200"`
}

// --- Projects Handler ---

// ProjectsHandler handles the project CRUD surface.
type ProjectsHandler struct {
	store        ProjectStore
	entitlements EntitlementEvaluator
	validator    *core.Validator
	logger       *slog.Logger
}

// NewProjectsHandler creates a ProjectsHandler with the provided dependencies.
func NewProjectsHandler(
	store ProjectStore,
	entitlements EntitlementEvaluator,
	v *core.Validator,
	l *slog.Logger,
) *ProjectsHandler {
	if l == nil {
		l = slog.Default()
	}
	return &ProjectsHandler{
		store:        store,
		entitlements: entitlements,
		validator:    v,
		logger:       l,
	}
}

// RegisterRoutes mounts the project endpoints. The parent router already
// applies the auth middleware.
func (h *ProjectsHandler) RegisterRoutes(r chi.Router) {
	r.Post("/projects", h.Create)
	r.Get("/projects", h.List)
	r.Post("/projects/{id}/archive", h.Archive)
}

// Create handles POST /v1/projects.
//
//  1. Decode and validate the request body.
//  2. Entitlement gate: ask the evaluator whether the account may create
//     another project. An evaluator error is a denial (fail closed), never
//     a grant.
//  3. Insert the project and return 201.
func (h *ProjectsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateProjectRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}

	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeAuthTokenMissing,
			"Authentication required",
			nil,
		))
		return
	}

	decision, err := h.entitlements.Can(r.Context(), actor.AccountID, types.CapCreateProject)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "entitlement check failed",
			"account_id", actor.AccountID,
			"capability", types.CapCreateProject,
			"error", err,
		)
		core.Error(w, r, err)
		return
	}

	if !decision.Allowed {
		core.Error(w, r, types.NewAppErrorWithDetails(
			types.ErrCodeLimitProjects,
			"Project limit reached for the current plan",
			nil,
			map[string]any{
				"current": decision.CurrentUsage,
				"limit":   decision.Limit,
				"plan":    decision.Plan,
				"reason":  decision.Reason,
			},
		))
		return
	}

	project := &types.Project{
		ID:         uuid.NewString(),
		AccountID:  actor.AccountID,
		Name:       req.Name,
		ClientName: req.ClientName,
		Status:     types.ProjectStatusActive,
	}

	if err := h.store.Create(r.Context(), project); err != nil {
		h.logger.ErrorContext(r.Context(), "failed to create project",
			"account_id", actor.AccountID,
			"error", err,
		)
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "project created",
		"project_id", project.ID,
		"account_id", actor.AccountID,
	)

	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: project})
}

// List handles GET /v1/projects.
//
// Query parameters:
//   - status: optional filter, "active" or "archived".
//   - limit: page size, 1..100, default 20.
//   - cursor: opaque pagination cursor from a previous response.
func (h *ProjectsHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeAuthTokenMissing,
			"Authentication required",
			nil,
		))
		return
	}

	params := types.ListProjectsParams{
		AccountID: actor.AccountID,
		Limit:     20,
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 1 || limit > 100 {
			core.Error(w, r, types.NewAppError(
				types.ErrCodeValidationMissingField,
				"limit must be a number between 1 and 100",
				nil,
			))
			return
		}
		params.Limit = limit
	}

	if statusStr := r.URL.Query().Get("status"); statusStr != "" {
		switch types.ProjectStatus(statusStr) {
		case types.ProjectStatusActive, types.ProjectStatusArchived:
			params.Status = types.ProjectStatus(statusStr)
		default:
			core.Error(w, r, types.NewAppError(
				types.ErrCodeValidationMissingField,
				"status must be 'active' or 'archived'",
				nil,
			))
			return
		}
	}

	params.Cursor = r.URL.Query().Get("cursor")

	projects, pageInfo, err := h.store.List(r.Context(), params)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{
		Data: projects,
		Meta: &types.ResponseMeta{Pagination: pageInfo},
	})
}

// Archive handles POST /v1/projects/{id}/archive.
//
// Archiving is the only project state transition; it frees quota for the
// active-project count. Archiving an already-archived project returns 409;
// an unknown or foreign project returns 404.
func (h *ProjectsHandler) Archive(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeAuthTokenMissing,
			"Authentication required",
			nil,
		))
		return
	}

	projectID := chi.URLParam(r, "id")
	if projectID == "" {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"project id is required",
			nil,
		))
		return
	}

	if err := h.store.Archive(r.Context(), projectID, actor.AccountID); err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "project archived",
		"project_id", projectID,
		"account_id", actor.AccountID,
	)

	project, err := h.store.GetByID(r.Context(), projectID, actor.AccountID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: project})
}
