package registry

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/complyops/jobrunner/internal/domain/model"
)

func okHandler(msg string) Handler {
	return HandlerFunc(func(_ context.Context, _ model.JobDefinition) (model.ExecutionResult, error) {
		return model.ExecutionResult{Success: true, Message: msg}, nil
	})
}

func TestRegistry_RegisterAndResolve(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("risk-snapshot", okHandler("snapshot done")))

	h, err := r.Resolve("risk-snapshot")
	require.NoError(t, err)

	res, err := h.Execute(context.Background(), model.JobDefinition{ID: "j1"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "snapshot done", res.Message)
}

func TestRegistry_ResolveUnknownType(t *testing.T) {
	r := New()
	_, err := r.Resolve("never-registered")
	assert.ErrorIs(t, err, model.ErrUnknownJobType)
	assert.Contains(t, err.Error(), "never-registered")
}

func TestRegistry_DuplicateRegistrationFails(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("digest-notify", okHandler("first")))
	err := r.Register("digest-notify", okHandler("second"))
	require.Error(t, err)

	// The original binding survives the rejected duplicate.
	h, err := r.Resolve("digest-notify")
	require.NoError(t, err)
	res, _ := h.Execute(context.Background(), model.JobDefinition{})
	assert.Equal(t, "first", res.Message)
}

func TestRegistry_RejectsEmptyTypeAndNilHandler(t *testing.T) {
	r := New()
	assert.Error(t, r.Register("", okHandler("x")))
	assert.Error(t, r.Register("feed-check", nil))
}

func TestRegistry_ConcurrentReads(t *testing.T) {
	r := New()
	types := []string{"risk-snapshot", "digest-notify", "feed-check"}
	for _, jt := range types {
		require.NoError(t, r.Register(jt, okHandler(jt)))
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			jt := types[i%len(types)]
			h, err := r.Resolve(jt)
			assert.NoError(t, err)
			assert.NotNil(t, h)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, []string{"digest-notify", "feed-check", "risk-snapshot"}, r.Types())
}
