package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canvasflow/engine/internal/domain/workflow"
	"github.com/canvasflow/engine/pkg/cache"
	"github.com/canvasflow/engine/pkg/logger"
)

func newCachedWorkflowRepo(t *testing.T) (*CachedWorkflowRepository, WorkflowRepository, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	inner := NewWorkflowRepository(newTestDB(t))
	c := cache.NewRedisCache(client, "canvasflow", time.Minute)
	return NewCachedWorkflowRepository(inner, c, logger.NewNop()), inner, mr
}

func TestCachedFindGraphServesFromCacheAfterFirstRead(t *testing.T) {
	repo, inner, mr := newCachedWorkflowRepo(t)
	ctx := context.Background()

	wf := &workflow.Workflow{
		Name:  "cached",
		Nodes: []workflow.Node{{ID: "t", Type: workflow.TypeTrigger}},
	}
	require.NoError(t, inner.Create(ctx, wf))

	first, err := repo.FindGraphByID(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, "cached", first.Name)
	assert.True(t, mr.Exists("canvasflow:workflow:"+wf.ID))

	// Change the row behind the cache's back. The cached graph wins
	// until the entry expires or a Save invalidates it.
	wf.Name = "renamed"
	require.NoError(t, inner.Save(ctx, wf))

	second, err := repo.FindGraphByID(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, "cached", second.Name)
}

func TestCachedSaveInvalidatesEntry(t *testing.T) {
	repo, _, mr := newCachedWorkflowRepo(t)
	ctx := context.Background()

	wf := &workflow.Workflow{
		Name:  "before",
		Nodes: []workflow.Node{{ID: "t", Type: workflow.TypeTrigger}},
	}
	require.NoError(t, repo.Create(ctx, wf))

	_, err := repo.FindGraphByID(ctx, wf.ID)
	require.NoError(t, err)
	require.True(t, mr.Exists("canvasflow:workflow:"+wf.ID))

	wf.Name = "after"
	require.NoError(t, repo.Save(ctx, wf))
	assert.False(t, mr.Exists("canvasflow:workflow:"+wf.ID))

	found, err := repo.FindGraphByID(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, "after", found.Name)
}

func TestCachedFindGraphSurvivesRedisOutage(t *testing.T) {
	repo, inner, mr := newCachedWorkflowRepo(t)
	ctx := context.Background()

	wf := &workflow.Workflow{
		Name:  "resilient",
		Nodes: []workflow.Node{{ID: "t", Type: workflow.TypeTrigger}},
	}
	require.NoError(t, inner.Create(ctx, wf))

	mr.Close()

	found, err := repo.FindGraphByID(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, "resilient", found.Name)
}
