package testhelpers

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/ekaya-inc/tracking-engine/pkg/database"
)

// CreateTestProfile inserts a profile and returns its ID plus a context scoped to it.
// The scope is closed and the profile deleted (cascading to everything it owns) on cleanup.
func CreateTestProfile(t *testing.T, engineDB *EngineDB, name string) (uuid.UUID, context.Context) {
	t.Helper()
	ctx := context.Background()
	userID := uuid.New()

	if _, err := engineDB.DB.Pool.Exec(ctx,
		`INSERT INTO profiles (id, name) VALUES ($1, $2)`, userID, name); err != nil {
		t.Fatalf("failed to create test profile: %v", err)
	}

	scope, err := engineDB.DB.WithUser(ctx, userID)
	if err != nil {
		t.Fatalf("failed to open user scope: %v", err)
	}

	t.Cleanup(func() {
		scope.Close()
		_, _ = engineDB.DB.Pool.Exec(context.Background(), `DELETE FROM profiles WHERE id = $1`, userID)
	})

	return userID, database.SetUserScope(ctx, scope)
}
