package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"briefhub/internal/types"
)

// ProjectRepository provides data access for the projects table. The active
// project count it exposes is the authoritative input for plan limit
// enforcement, so all writes here go through committed transactions only.
type ProjectRepository struct {
	db DBTX
}

// NewProjectRepository creates a new ProjectRepository backed by the given
// database connection (pool or transaction).
func NewProjectRepository(db DBTX) *ProjectRepository {
	return &ProjectRepository{db: db}
}

// projectColumns defines the standard set of columns selected for project
// queries. Used consistently across all query methods to avoid column drift.
const projectColumns = `p.id, p.account_id, p.name, p.client_name, p.status,
	p.created_at, p.updated_at, p.deleted_at`

// scanProject scans a single project row into a types.Project struct.
// The columns must match the order defined in projectColumns.
func scanProject(row pgx.Row) (*types.Project, error) {
	var p types.Project
	var clientName *string

	err := row.Scan(
		&p.ID,
		&p.AccountID,
		&p.Name,
		&clientName,
		&p.Status,
		&p.CreatedAt,
		&p.UpdatedAt,
		&p.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	if clientName != nil {
		p.ClientName = *clientName
	}
	return &p, nil
}

// Create inserts a new project record. The caller must have passed the
// entitlement check before calling; this method performs no limit
// enforcement of its own.
func (r *ProjectRepository) Create(ctx context.Context, project *types.Project) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO projects (id, account_id, name, client_name, status,
		 created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()), COALESCE($7, NOW()))`,
		project.ID,
		project.AccountID,
		project.Name,
		nilIfEmpty(project.ClientName),
		project.Status,
		nilIfZeroTime(project.CreatedAt),
		nilIfZeroTime(project.UpdatedAt),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create project", err)
	}
	return nil
}

// GetByID retrieves a project scoped to an account. Excludes soft-deleted
// projects. Returns ErrCodeNotFoundProject if no matching project exists.
func (r *ProjectRepository) GetByID(ctx context.Context, id string, accountID string) (*types.Project, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+projectColumns+`
		 FROM projects p
		 WHERE p.id = $1 AND p.account_id = $2 AND p.deleted_at IS NULL`,
		id,
		accountID,
	)

	project, err := scanProject(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundProject, "project not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve project", err)
	}
	return project, nil
}

// List retrieves projects for an account with optional status filtering and
// cursor-based pagination. The cursor is the created_at timestamp of the
// last item from the previous page, in RFC3339Nano format.
func (r *ProjectRepository) List(ctx context.Context, params types.ListProjectsParams) ([]*types.Project, *types.PageInfo, error) {
	var conditions []string
	var args []any
	argIdx := 1

	conditions = append(conditions, fmt.Sprintf("p.account_id = $%d", argIdx))
	args = append(args, params.AccountID)
	argIdx++

	conditions = append(conditions, "p.deleted_at IS NULL")

	if params.Status != "" {
		conditions = append(conditions, fmt.Sprintf("p.status = $%d", argIdx))
		args = append(args, params.Status)
		argIdx++
	}

	if params.Cursor != "" {
		cursorTime, err := time.Parse(time.RFC3339Nano, params.Cursor)
		if err != nil {
			return nil, nil, types.NewAppError(
				types.ErrCodeValidationMissingField,
				"invalid cursor format; expected RFC3339 timestamp",
				err,
			)
		}
		conditions = append(conditions, fmt.Sprintf("p.created_at < $%d", argIdx))
		args = append(args, cursorTime)
		argIdx++
	}

	limit := params.Limit
	if limit <= 0 {
		limit = 20
	}

	query := fmt.Sprintf(
		`SELECT %s FROM projects p WHERE %s ORDER BY p.created_at DESC LIMIT $%d`,
		projectColumns,
		strings.Join(conditions, " AND "),
		argIdx,
	)
	args = append(args, limit+1)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query projects", err)
	}
	defer rows.Close()

	var results []*types.Project
	for rows.Next() {
		project, err := scanProject(rows)
		if err != nil {
			return nil, nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan project row", err)
		}
		results = append(results, project)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate project rows", err)
	}

	pageInfo := &types.PageInfo{}
	if len(results) > limit {
		results = results[:limit]
		pageInfo.HasMore = true
		pageInfo.NextCursor = results[len(results)-1].CreatedAt.Format(time.RFC3339Nano)
	}

	return results, pageInfo, nil
}

// Archive transitions a project to archived state, freeing its slot against
// the plan's project limit. Returns ErrCodeConflictArchived if the project
// is already archived, and ErrCodeNotFoundProject if it does not exist.
func (r *ProjectRepository) Archive(ctx context.Context, id string, accountID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE projects
		 SET status = $1,
		     updated_at = NOW()
		 WHERE id = $2 AND account_id = $3
		   AND status = $4
		   AND deleted_at IS NULL`,
		types.ProjectStatusArchived,
		id,
		accountID,
		types.ProjectStatusActive,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to archive project", err)
	}

	if tag.RowsAffected() == 0 {
		// Distinguish "already archived" from "not found" for the caller.
		var status types.ProjectStatus
		err := r.db.QueryRow(ctx,
			`SELECT status FROM projects
			 WHERE id = $1 AND account_id = $2 AND deleted_at IS NULL`,
			id,
			accountID,
		).Scan(&status)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return types.NewAppError(types.ErrCodeNotFoundProject, "project not found", nil)
			}
			return types.NewAppError(types.ErrCodeInternalDB, "failed to check project status", err)
		}
		return types.NewAppError(types.ErrCodeConflictArchived, "project is already archived", nil)
	}

	return nil
}

// CountActive performs the direct count query used for limit enforcement
// and the usage endpoint. Archived and soft-deleted projects do not consume
// plan capacity and are excluded.
func (r *ProjectRepository) CountActive(ctx context.Context, accountID string) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*)
		 FROM projects
		 WHERE account_id = $1
		   AND status = $2
		   AND deleted_at IS NULL`,
		accountID,
		types.ProjectStatusActive,
	).Scan(&count)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to count active projects", err)
	}
	return count, nil
}
