package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"briefhub/internal/core"
	"briefhub/internal/types"
)

// ---------------------------------------------------------------------------
// Mock Implementations
// ---------------------------------------------------------------------------

// mockProjectStore implements ProjectStore for testing.
type mockProjectStore struct {
	created    []*types.Project
	archived   []string
	projects   []*types.Project
	pageInfo   *types.PageInfo
	getResult  *types.Project
	createErr  error
	listErr    error
	archiveErr error
	getErr     error

	listParams *types.ListProjectsParams
}

func (m *mockProjectStore) Create(ctx context.Context, project *types.Project) error {
	m.created = append(m.created, project)
	return m.createErr
}

func (m *mockProjectStore) GetByID(ctx context.Context, id string, accountID string) (*types.Project, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	if m.getResult != nil {
		return m.getResult, nil
	}
	return &types.Project{ID: id, AccountID: accountID, Status: types.ProjectStatusArchived}, nil
}

func (m *mockProjectStore) List(ctx context.Context, params types.ListProjectsParams) ([]*types.Project, *types.PageInfo, error) {
	m.listParams = &params
	if m.listErr != nil {
		return nil, nil, m.listErr
	}
	pageInfo := m.pageInfo
	if pageInfo == nil {
		pageInfo = &types.PageInfo{}
	}
	return m.projects, pageInfo, nil
}

func (m *mockProjectStore) Archive(ctx context.Context, id string, accountID string) error {
	m.archived = append(m.archived, id)
	return m.archiveErr
}

// mockEvaluator implements EntitlementEvaluator for testing.
type mockEvaluator struct {
	decision *types.Decision
	err      error

	lastAccountID  string
	lastCapability types.Capability
}

func (m *mockEvaluator) Can(ctx context.Context, accountID string, capability types.Capability) (*types.Decision, error) {
	m.lastAccountID = accountID
	m.lastCapability = capability
	if m.err != nil {
		return nil, m.err
	}
	return m.decision, nil
}

// ---------------------------------------------------------------------------
// Test Helpers
// ---------------------------------------------------------------------------

const testAccountID = "acct_test_1"

func newProjectsRouter(store *mockProjectStore, eval *mockEvaluator) chi.Router {
	h := NewProjectsHandler(store, eval, core.NewValidator(nil), nil)
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return r
}

// doAuthed performs a request with an authenticated API-token actor in the
// context, mirroring what the auth middleware injects.
func doAuthed(r chi.Router, method, target string, body []byte) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, target, reader)
	actor := types.Actor{
		ID:        "tok_1",
		Type:      types.ActorTypeToken,
		AccountID: testAccountID,
	}
	req = req.WithContext(types.WithActor(req.Context(), actor))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeErrorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp core.APIErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return resp.Error.Code
}

// ---------------------------------------------------------------------------
// Create
// ---------------------------------------------------------------------------

func TestCreateProject_Allowed(t *testing.T) {
	store := &mockProjectStore{}
	eval := &mockEvaluator{decision: &types.Decision{Allowed: true, Plan: types.PlanStarter}}
	r := newProjectsRouter(store, eval)

	body := []byte(`{"name":"Brand Refresh","client_name":"Acme Co"}`)
	rec := doAuthed(r, http.MethodPost, "/projects", body)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(store.created) != 1 {
		t.Fatalf("expected 1 create, got %d", len(store.created))
	}

	p := store.created[0]
	if p.AccountID != testAccountID {
		t.Errorf("account_id = %q, want %q", p.AccountID, testAccountID)
	}
	if p.Name != "Brand Refresh" || p.ClientName != "Acme Co" {
		t.Errorf("unexpected project fields: %+v", p)
	}
	if p.Status != types.ProjectStatusActive {
		t.Errorf("new projects must start active, got %q", p.Status)
	}
	if p.ID == "" {
		t.Error("project ID must be generated server-side")
	}
	if eval.lastCapability != types.CapCreateProject {
		t.Errorf("evaluated capability = %q, want create_project", eval.lastCapability)
	}
}

func TestCreateProject_QuotaDenied(t *testing.T) {
	store := &mockProjectStore{}
	eval := &mockEvaluator{decision: &types.Decision{
		Allowed:      false,
		Reason:       "limit reached",
		CurrentUsage: 2,
		Limit:        2,
		Plan:         types.PlanStarter,
	}}
	r := newProjectsRouter(store, eval)

	rec := doAuthed(r, http.MethodPost, "/projects", []byte(`{"name":"One Too Many"}`))

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if code := decodeErrorCode(t, rec); code != string(types.ErrCodeLimitProjects) {
		t.Errorf("error code = %q, want %q", code, types.ErrCodeLimitProjects)
	}
	if len(store.created) != 0 {
		t.Error("denied request must not create a project")
	}

	var resp core.APIErrorResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Error.Details["current"] != float64(2) || resp.Error.Details["limit"] != float64(2) {
		t.Errorf("expected quota details in error, got %v", resp.Error.Details)
	}
}

func TestCreateProject_EvaluatorErrorFailsClosed(t *testing.T) {
	store := &mockProjectStore{}
	eval := &mockEvaluator{err: errors.New("subscription store unavailable")}
	r := newProjectsRouter(store, eval)

	rec := doAuthed(r, http.MethodPost, "/projects", []byte(`{"name":"P"}`))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if len(store.created) != 0 {
		t.Error("evaluator failure must never grant a create")
	}
}

func TestCreateProject_ValidationFailure(t *testing.T) {
	store := &mockProjectStore{}
	eval := &mockEvaluator{decision: &types.Decision{Allowed: true}}
	r := newProjectsRouter(store, eval)

	rec := doAuthed(r, http.MethodPost, "/projects", []byte(`{"name":""}`))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if len(store.created) != 0 {
		t.Error("invalid request must not create a project")
	}
}

func TestCreateProject_Unauthenticated(t *testing.T) {
	store := &mockProjectStore{}
	eval := &mockEvaluator{decision: &types.Decision{Allowed: true}}
	r := newProjectsRouter(store, eval)

	req := httptest.NewRequest(http.MethodPost, "/projects", bytes.NewReader([]byte(`{"name":"P"}`)))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without an actor, got %d", rec.Code)
	}
}

// ---------------------------------------------------------------------------
// List
// ---------------------------------------------------------------------------

func TestListProjects_DefaultsAndFilters(t *testing.T) {
	store := &mockProjectStore{
		projects: []*types.Project{
			{ID: "p1", AccountID: testAccountID, Name: "A", Status: types.ProjectStatusActive},
		},
		pageInfo: &types.PageInfo{HasMore: true, NextCursor: "cur_next"},
	}
	r := newProjectsRouter(store, &mockEvaluator{})

	rec := doAuthed(r, http.MethodGet, "/projects?status=active&limit=5&cursor=cur_prev", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if store.listParams == nil {
		t.Fatal("List was not called")
	}
	if store.listParams.AccountID != testAccountID {
		t.Errorf("account scope = %q, want %q", store.listParams.AccountID, testAccountID)
	}
	if store.listParams.Status != types.ProjectStatusActive {
		t.Errorf("status filter = %q, want active", store.listParams.Status)
	}
	if store.listParams.Limit != 5 || store.listParams.Cursor != "cur_prev" {
		t.Errorf("pagination params = %d/%q, want 5/cur_prev",
			store.listParams.Limit, store.listParams.Cursor)
	}

	var resp struct {
		Meta types.ResponseMeta `json:"meta"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Meta.Pagination == nil || !resp.Meta.Pagination.HasMore {
		t.Errorf("expected pagination meta with has_more, got %+v", resp.Meta.Pagination)
	}
}

func TestListProjects_InvalidLimit(t *testing.T) {
	store := &mockProjectStore{}
	r := newProjectsRouter(store, &mockEvaluator{})

	rec := doAuthed(r, http.MethodGet, "/projects?limit=500", nil)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if store.listParams != nil {
		t.Error("List must not be called with an invalid limit")
	}
}

func TestListProjects_InvalidStatus(t *testing.T) {
	store := &mockProjectStore{}
	r := newProjectsRouter(store, &mockEvaluator{})

	rec := doAuthed(r, http.MethodGet, "/projects?status=paused", nil)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

// ---------------------------------------------------------------------------
// Archive
// ---------------------------------------------------------------------------

func TestArchiveProject_Success(t *testing.T) {
	store := &mockProjectStore{}
	r := newProjectsRouter(store, &mockEvaluator{})

	rec := doAuthed(r, http.MethodPost, "/projects/p1/archive", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(store.archived) != 1 || store.archived[0] != "p1" {
		t.Errorf("archived = %v, want [p1]", store.archived)
	}
}

func TestArchiveProject_AlreadyArchived(t *testing.T) {
	store := &mockProjectStore{
		archiveErr: types.NewAppError(types.ErrCodeConflictArchived, "project already archived", nil),
	}
	r := newProjectsRouter(store, &mockEvaluator{})

	rec := doAuthed(r, http.MethodPost, "/projects/p1/archive", nil)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	if code := decodeErrorCode(t, rec); code != string(types.ErrCodeConflictArchived) {
		t.Errorf("error code = %q, want %q", code, types.ErrCodeConflictArchived)
	}
}

func TestArchiveProject_NotFound(t *testing.T) {
	store := &mockProjectStore{
		archiveErr: types.NewAppError(types.ErrCodeNotFoundProject, "project not found", nil),
	}
	r := newProjectsRouter(store, &mockEvaluator{})

	rec := doAuthed(r, http.MethodPost, "/projects/missing/archive", nil)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
