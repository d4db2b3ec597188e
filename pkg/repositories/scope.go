package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ekaya-inc/tracking-engine/pkg/database"
)

// conn returns the user-scoped connection stored in ctx.
func conn(ctx context.Context) (*pgxpool.Conn, error) {
	scope, ok := database.GetUserScope(ctx)
	if !ok || scope.Conn == nil {
		return nil, fmt.Errorf("no user scope in context")
	}
	return scope.Conn, nil
}

// isUniqueViolation reports whether err is PostgreSQL error 23505.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// isForeignKeyViolation reports whether err is PostgreSQL error 23503.
func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
