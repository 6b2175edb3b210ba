package gather

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGroupCollectsAllResults(t *testing.T) {
	g := New[int](0)
	g.Add(func(ctx context.Context) (int, error) { return 1, nil })
	g.Add(func(ctx context.Context) (int, error) { return 2, nil })
	g.Add(func(ctx context.Context) (int, error) { return 0, errors.New("boom") })

	results := g.Wait(context.Background())
	assert.Len(t, results, 3)
	assert.Equal(t, 1, results[0].Value)
	assert.NoError(t, results[0].Err)
	assert.Equal(t, 2, results[1].Value)
	assert.Error(t, results[2].Err)
}

func TestGroupTimeoutFillsPendingSlots(t *testing.T) {
	g := New[string](20 * time.Millisecond)
	g.Add(func(ctx context.Context) (string, error) {
		return "fast", nil
	})
	g.Add(func(ctx context.Context) (string, error) {
		select {
		case <-time.After(time.Second):
			return "slow", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	})

	results := g.Wait(context.Background())
	assert.Equal(t, "fast", results[0].Value)
	assert.ErrorIs(t, results[1].Err, ErrGroupTimeout)
}

func TestGroupEmptyReturnsNil(t *testing.T) {
	g := New[int](0)
	assert.Nil(t, g.Wait(context.Background()))
}

func TestGroupRespectsParentCancellation(t *testing.T) {
	g := New[int](0)
	g.Add(func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results := g.Wait(ctx)
	assert.Error(t, results[0].Err)
}
