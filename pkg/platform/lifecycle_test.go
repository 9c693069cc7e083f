package platform

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingCloser struct {
	name  string
	order *[]string
	err   error
}

func (c recordingCloser) Close() error {
	*c.order = append(*c.order, "close "+c.name)
	return c.err
}

func TestLifecycle_StartAndStopOrder(t *testing.T) {
	ctx := context.Background()
	lc := NewLifecycle()
	var order []string

	lc.AddCloser("db", recordingCloser{name: "db", order: &order})
	lc.Add("cleanup",
		func(context.Context) error { order = append(order, "start cleanup"); return nil },
		func(context.Context) error { order = append(order, "stop cleanup"); return nil },
	)

	require.NoError(t, lc.Start(ctx))
	assert.True(t, lc.IsRunning())
	assert.Error(t, lc.Start(ctx))

	require.NoError(t, lc.Stop(ctx))
	assert.False(t, lc.IsRunning())
	assert.Equal(t, []string{"start cleanup", "stop cleanup", "close db"}, order)

	// Hooks are released after Stop.
	require.NoError(t, lc.Stop(ctx))
	assert.Len(t, order, 3)
}

func TestLifecycle_StartFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	lc := NewLifecycle()
	var order []string

	lc.AddCloser("db", recordingCloser{name: "db", order: &order})
	lc.Add("broken",
		func(context.Context) error { return errors.New("port in use") },
		func(context.Context) error { order = append(order, "stop broken"); return nil },
	)
	lc.AddCloser("late", recordingCloser{name: "late", order: &order})

	err := lc.Start(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "starting broken")
	assert.Equal(t, []string{"close db"}, order)
	assert.False(t, lc.IsRunning())

	// Remaining hooks are still released exactly once.
	require.NoError(t, lc.Stop(ctx))
	assert.Equal(t, []string{"close db", "close late", "stop broken"}, order)
}

func TestLifecycle_StopWithoutStart(t *testing.T) {
	lc := NewLifecycle()
	var order []string
	lc.AddCloser("db", recordingCloser{name: "db", order: &order, err: errors.New("already closed")})

	err := lc.Stop(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stopping db")
	assert.Equal(t, []string{"close db"}, order)
}
