package db_migrator

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMigrationFailedError_Message(t *testing.T) {
	broken := &MigrationFailedError{
		Revision:  "003b",
		Direction: DirectionUpgrade,
		Operation: 0,
		SQLState:  "42P07",
		Err:       errors.New("relation already exists"),
	}
	assert.Equal(t,
		`upgrade of revision "003b" failed at operation 1 (sqlstate 42P07): relation already exists; the revision was rolled back, fix it and re-run`,
		broken.Error(),
	)

	for _, cause := range []error{context.Canceled, fmt.Errorf("exec: %w", context.DeadlineExceeded)} {
		interrupted := &MigrationFailedError{Revision: "003b", Direction: DirectionUpgrade, Operation: -1, Err: cause}
		assert.Contains(t, interrupted.Error(), "the run was canceled and the revision was rolled back, re-run to continue")
		assert.NotContains(t, interrupted.Error(), "fix it")
	}
}
