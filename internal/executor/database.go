package executor

import (
	"context"
	"database/sql"
	"encoding/json"

	"chronos/internal/models"
)

type databasePayload struct {
	Statement string `json:"statement"`
	Args      []any  `json:"args,omitempty"`
}

// DatabaseExecutor runs a SQL statement from the job payload against the
// configured database.
type DatabaseExecutor struct {
	db *sql.DB
}

func NewDatabaseExecutor(db *sql.DB) *DatabaseExecutor {
	return &DatabaseExecutor{db: db}
}

func (e *DatabaseExecutor) Execute(ctx context.Context, job *models.Job, run *models.JobRun) error {
	var p databasePayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return Fail(TagValidationError, "invalid database payload: %v", err)
	}
	if p.Statement == "" {
		return Fail(TagValidationError, "database payload requires statement")
	}

	if _, err := e.db.ExecContext(ctx, p.Statement, p.Args...); err != nil {
		if ctx.Err() != nil {
			return Fail(TagTimeout, "statement cancelled: %v", err)
		}
		return Fail(TagServerError, "statement failed: %v", err)
	}
	return nil
}
