// Template for service tests
// Usage: Copy this template when writing new service tests. Shared
// in-memory fakes live in fakes_test.go; extend those rather than
// introducing a mocking library.

package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/S-Corkum/recall/pkg/models"
	"github.com/S-Corkum/recall/pkg/observability"
)

func Test{Service}{Method}(t *testing.T) {
	t.Run("{HappyPathName}", func(t *testing.T) {
		repo := newFake{Dependency}Repo()
		svc := New{Service}(repo, observability.NewNoopLogger(), observability.NewNoopMetricsClient())

		got, err := svc.{Method}(context.Background(), {input})
		require.NoError(t, err)
		assert.Equal(t, {want}, got)
	})

	t.Run("{ErrorPathName}", func(t *testing.T) {
		repo := newFake{Dependency}Repo()
		repo.{method}Err = models.Err{Condition}
		svc := New{Service}(repo, observability.NewNoopLogger(), observability.NewNoopMetricsClient())

		_, err := svc.{Method}(context.Background(), {input})
		assert.ErrorIs(t, err, models.Err{Condition})
	})
}
