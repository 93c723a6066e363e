package convsync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/chirino/conversation-sync/internal/config"
	"github.com/chirino/conversation-sync/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRemote struct {
	mu      sync.Mutex
	calls   int
	saved   []model.Conversation
	list    []model.Conversation
	err     error
	deleted []string
	block   chan struct{}
}

func (f *fakeRemote) Upsert(ctx context.Context, conv model.Conversation) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return f.err
	}
	f.saved = append(f.saved, conv)
	return nil
}

func (f *fakeRemote) List(ctx context.Context) ([]model.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.list, f.err
}

func (f *fakeRemote) Delete(ctx context.Context, threadID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.deleted = append(f.deleted, threadID)
	return f.err
}

func (f *fakeRemote) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func enabledOptions() Options {
	opts := DefaultOptions()
	opts.ServerSide = true
	opts.ConnectionString = "mongodb://localhost:27017"
	opts.Timeout = time.Second
	return opts
}

func TestServiceDisabled(t *testing.T) {
	cases := map[string]Options{
		"no connection string": {ServerSide: true},
		"client side":          {ConnectionString: "mongodb://localhost:27017"},
	}
	for name, opts := range cases {
		t.Run(name, func(t *testing.T) {
			remote := &fakeRemote{}
			svc := NewService(remote, opts)
			ctx := context.Background()

			assert.False(t, svc.Enabled())
			svc.Save(ctx, model.Thread{ID: "t1"}, nil)
			convs := svc.Load(ctx)
			svc.Delete(ctx, "t1")
			assert.False(t, svc.SaveInBackground(model.Thread{ID: "t1"}, nil))

			assert.NotNil(t, convs)
			assert.Empty(t, convs)
			assert.Zero(t, remote.callCount())
			require.NoError(t, svc.Close(ctx))
		})
	}
}

func TestServiceNilRemoteIsDisabled(t *testing.T) {
	svc := NewService(nil, enabledOptions())
	assert.False(t, svc.Enabled())
	assert.Empty(t, svc.Load(context.Background()))
}

func TestServiceSaveAndLoad(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	remote := &fakeRemote{list: []model.Conversation{{ThreadID: "t1"}}}
	svc := NewService(remote, enabledOptions())
	defer svc.Close(context.Background())
	ctx := context.Background()

	svc.Save(ctx, model.Thread{ID: "t1", Title: "Hi", CreatedAt: ts}, []model.Item{
		{ID: "a", Query: "Hello", CreatedAt: ts.Add(time.Second)},
		{ID: "b", Answer: &model.Answer{Text: "Hi there"}, CreatedAt: ts.Add(2 * time.Second)},
	})
	require.Len(t, remote.saved, 1)
	assert.Equal(t, "t1", remote.saved[0].ThreadID)
	require.Len(t, remote.saved[0].Messages, 2)
	assert.Equal(t, model.RoleUser, remote.saved[0].Messages[0].Role)
	assert.Equal(t, model.RoleAssistant, remote.saved[0].Messages[1].Role)

	assert.Equal(t, remote.list, svc.Load(ctx))

	svc.Delete(ctx, "t1")
	assert.Equal(t, []string{"t1"}, remote.deleted)
}

func TestServiceSwallowsRemoteFailures(t *testing.T) {
	remote := &fakeRemote{err: errors.New("connection refused")}
	svc := NewService(remote, enabledOptions())
	defer svc.Close(context.Background())
	ctx := context.Background()

	assert.NotPanics(t, func() {
		svc.Save(ctx, model.Thread{ID: "t1"}, nil)
		svc.Delete(ctx, "t1")
	})
	convs := svc.Load(ctx)
	assert.NotNil(t, convs)
	assert.Empty(t, convs)
	assert.Equal(t, 3, remote.callCount())
}

func TestServiceLoadNormalizesNil(t *testing.T) {
	svc := NewService(&fakeRemote{}, enabledOptions())
	defer svc.Close(context.Background())
	convs := svc.Load(context.Background())
	assert.NotNil(t, convs)
	assert.Empty(t, convs)
}

func TestServiceSaveInBackground(t *testing.T) {
	remote := &fakeRemote{}
	svc := NewService(remote, enabledOptions())

	items := []model.Item{{ID: "a", Query: "Hello"}}
	require.True(t, svc.SaveInBackground(model.Thread{ID: "t1"}, items))
	// Mutating the caller's data after the call does not affect the save.
	items[0].Query = "changed"

	require.NoError(t, svc.Close(context.Background()))
	require.Len(t, remote.saved, 1)
	assert.Equal(t, "Hello", remote.saved[0].Messages[0].Content)
}

func TestServiceSaveInBackgroundDropsWhenFull(t *testing.T) {
	remote := &fakeRemote{block: make(chan struct{})}
	opts := enabledOptions()
	opts.Workers = 1
	opts.QueueSize = 1
	svc := NewService(remote, opts)

	accepted := 0
	for i := 0; i < 5; i++ {
		if svc.SaveInBackground(model.Thread{ID: "t1"}, nil) {
			accepted++
		}
	}
	// One job may be running and one queued; the rest are dropped.
	assert.LessOrEqual(t, accepted, 2)
	assert.GreaterOrEqual(t, accepted, 1)

	close(remote.block)
	require.NoError(t, svc.Close(context.Background()))
	assert.Equal(t, accepted, remote.callCount())
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DBURL = "  mongodb://db:27017  "
	cfg.SyncTimeout = 3 * time.Second
	cfg.SyncWorkers = 4
	cfg.SyncQueueSize = 16

	opts := OptionsFromConfig(&cfg)
	assert.Equal(t, "mongodb://db:27017", opts.ConnectionString)
	assert.Equal(t, 3*time.Second, opts.Timeout)
	assert.Equal(t, 4, opts.Workers)
	assert.Equal(t, 16, opts.QueueSize)
	assert.True(t, opts.ServerSide)

	assert.Equal(t, DefaultOptions(), OptionsFromConfig(nil))
}
