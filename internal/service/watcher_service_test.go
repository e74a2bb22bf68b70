package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/imagicrafter/open-webui-infrastructure-sub002/internal/client"
	"github.com/imagicrafter/open-webui-infrastructure-sub002/internal/metrics"
	"github.com/imagicrafter/open-webui-infrastructure-sub002/internal/model"
	"github.com/imagicrafter/open-webui-infrastructure-sub002/internal/store"
)

func newTestWatcher(env *reconcileTestEnv, dispatcher *Dispatcher) *WatcherService {
	return NewWatcherService(
		env.runtime, env.registry, env.stateStore, dispatcher,
		metrics.NewMetrics(),
		5*time.Millisecond, 20*time.Millisecond,
		zap.NewNop(),
	)
}

func TestWatcherService_Qualifies(t *testing.T) {
	env := newReconcileTestEnv(t)
	watcher := newTestWatcher(env, nil)
	ctx := context.Background()

	ok, err := watcher.qualifies(ctx, client.Event{Action: healthyAction, ContainerRef: "abc123"})
	require.NoError(t, err)
	assert.True(t, ok, "health transition always qualifies")

	for _, action := range []string{"die", "stop", "destroy", "health_status: unhealthy"} {
		ok, err := watcher.qualifies(ctx, client.Event{Action: action, ContainerRef: "abc123"})
		require.NoError(t, err)
		assert.False(t, ok, "action %s must not qualify", action)
	}
}

func TestWatcherService_Qualifies_StartDependsOnHealthcheck(t *testing.T) {
	env := newReconcileTestEnv(t)
	watcher := newTestWatcher(env, nil)
	ctx := context.Background()

	env.runtime.On("Inspect", mock.Anything, "plain").
		Return(&client.ContainerState{Ref: "plain", Running: true}, nil)
	env.runtime.On("Inspect", mock.Anything, "checked").
		Return(&client.ContainerState{Ref: "checked", Running: true, HasHealthcheck: true}, nil)

	ok, err := watcher.qualifies(ctx, client.Event{Action: "start", ContainerRef: "plain"})
	require.NoError(t, err)
	assert.True(t, ok, "start qualifies without a healthcheck")

	ok, err = watcher.qualifies(ctx, client.Event{Action: "start", ContainerRef: "checked"})
	require.NoError(t, err)
	assert.False(t, ok, "start must defer to the health transition when a healthcheck exists")
}

func TestWatcherService_HandleEvent_Enqueues(t *testing.T) {
	env := newReconcileTestEnv(t)
	dispatcher := NewDispatcher(env.reconciler, metrics.NewMetrics(), 8, 1, zap.NewNop())
	watcher := newTestWatcher(env, dispatcher)

	env.stateStore.On("GetAssetSource", mock.Anything, "acme").Return(env.source(), nil)

	watcher.handleEvent(context.Background(), client.Event{
		Action:       healthyAction,
		ContainerRef: "abc123",
		Name:         "openwebui-acme",
	})

	assert.Len(t, dispatcher.queue, 1)
}

func TestWatcherService_HandleEvent_IgnoresForeignContainers(t *testing.T) {
	env := newReconcileTestEnv(t)
	dispatcher := NewDispatcher(env.reconciler, metrics.NewMetrics(), 8, 1, zap.NewNop())
	watcher := newTestWatcher(env, dispatcher)

	watcher.handleEvent(context.Background(), client.Event{
		Action:       healthyAction,
		ContainerRef: "def456",
		Name:         "postgres-main",
	})

	assert.Empty(t, dispatcher.queue)
	env.stateStore.AssertNotCalled(t, "GetAssetSource", mock.Anything, mock.Anything)
}

func TestWatcherService_Resync_EnqueuesTenantsWithSources(t *testing.T) {
	env := newReconcileTestEnv(t)
	dispatcher := NewDispatcher(env.reconciler, metrics.NewMetrics(), 8, 1, zap.NewNop())
	watcher := newTestWatcher(env, dispatcher)

	env.stateStore.On("GetAssetSource", mock.Anything, "acme").Return(env.source(), nil)

	watcher.Resync(context.Background())

	require.Len(t, dispatcher.queue, 1)
	job := <-dispatcher.queue
	assert.Equal(t, "acme", job.TenantID)
	assert.Equal(t, model.ReconcileTriggerResync, job.Trigger)
}

func TestWatcherService_Resync_SkipsTenantsWithoutSources(t *testing.T) {
	env := newReconcileTestEnv(t)
	dispatcher := NewDispatcher(env.reconciler, metrics.NewMetrics(), 8, 1, zap.NewNop())
	watcher := newTestWatcher(env, dispatcher)

	env.stateStore.On("GetAssetSource", mock.Anything, "acme").Return(nil, store.ErrNotFound)

	watcher.Resync(context.Background())

	assert.Empty(t, dispatcher.queue)
}

func TestWatcherService_HandleEvent_SkipsTenantWithoutSource(t *testing.T) {
	env := newReconcileTestEnv(t)
	dispatcher := NewDispatcher(env.reconciler, metrics.NewMetrics(), 8, 1, zap.NewNop())
	watcher := newTestWatcher(env, dispatcher)

	env.stateStore.On("GetAssetSource", mock.Anything, "acme").Return(nil, store.ErrNotFound)

	watcher.handleEvent(context.Background(), client.Event{
		Action:       healthyAction,
		ContainerRef: "abc123",
		Name:         "openwebui-acme",
	})

	assert.Empty(t, dispatcher.queue)
}

func TestWatcherService_EventLoop_ReconnectsAfterStreamError(t *testing.T) {
	env := newReconcileTestEnv(t)
	dispatcher := NewDispatcher(env.reconciler, metrics.NewMetrics(), 8, 1, zap.NewNop())
	watcher := newTestWatcher(env, dispatcher)

	events := make(chan client.Event, 4)
	errs := make(chan error, 4)
	var subscriptions atomic.Int32
	env.runtime.On("Events", mock.Anything).
		Run(func(mock.Arguments) { subscriptions.Add(1) }).
		Return((<-chan client.Event)(events), (<-chan error)(errs))
	env.stateStore.On("GetAssetSource", mock.Anything, "acme").Return(env.source(), nil)

	watcher.Start(context.Background())
	defer watcher.Stop(time.Second)

	events <- client.Event{Action: healthyAction, ContainerRef: "abc123", Name: "openwebui-acme"}
	require.Eventually(t, func() bool {
		return len(dispatcher.queue) == 1
	}, time.Second, 5*time.Millisecond, "event should be enqueued")

	// Break the stream; the watcher must resubscribe after backoff.
	errs <- errors.New("unexpected EOF")
	require.Eventually(t, func() bool {
		return subscriptions.Load() >= 2
	}, time.Second, 5*time.Millisecond, "watcher should resubscribe")

	// The fresh subscription delivers events again.
	events <- client.Event{Action: healthyAction, ContainerRef: "abc123", Name: "openwebui-acme"}
	require.Eventually(t, func() bool {
		return len(dispatcher.queue) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestWatcherService_StopTerminatesLoop(t *testing.T) {
	env := newReconcileTestEnv(t)
	dispatcher := NewDispatcher(env.reconciler, metrics.NewMetrics(), 8, 1, zap.NewNop())
	watcher := newTestWatcher(env, dispatcher)

	events := make(chan client.Event)
	errs := make(chan error)
	env.runtime.On("Events", mock.Anything).
		Return((<-chan client.Event)(events), (<-chan error)(errs))

	watcher.Start(context.Background())
	assert.NoError(t, watcher.Stop(time.Second))
}
