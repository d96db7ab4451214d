// internal/repository/db_executor.go
package repository

import (
	"context"
	"database/sql"
)

// DBExecutor is the slice of *sqlx.DB / *sqlx.Tx the SQL repositories use. Repositories built on a
// *sqlx.Tx see the row locks taken earlier in the same unit of work.
type DBExecutor interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}
