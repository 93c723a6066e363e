package convsync

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/conversation-sync/internal/model"
	"github.com/chirino/conversation-sync/internal/telemetry"
)

// Service mirrors local threads to a Remote on a best-effort basis. No method
// returns an error: failures are logged and a safe default is returned, so
// callers keep working when sync is down or disabled.
type Service struct {
	remote     Remote
	opts       Options
	dispatcher *Dispatcher
	now        func() time.Time
}

// NewService returns a Service. When sync is enabled a background dispatcher
// is started; release it with Close.
func NewService(remote Remote, opts Options) *Service {
	s := &Service{remote: remote, opts: opts, now: time.Now}
	if s.Enabled() {
		s.dispatcher = NewDispatcher(opts.Workers, opts.QueueSize, opts.Timeout)
	}
	return s
}

// Enabled reports whether sync runs: only server-side, with a connection
// string configured, and with a remote to talk to.
func (s *Service) Enabled() bool {
	return s.opts.ServerSide && s.opts.ConnectionString != "" && s.remote != nil
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opts.Timeout > 0 {
		return context.WithTimeout(ctx, s.opts.Timeout)
	}
	return context.WithCancel(ctx)
}

// Save translates thread and items and upserts them on the remote.
func (s *Service) Save(ctx context.Context, thread model.Thread, items []model.Item) {
	if !s.Enabled() {
		log.Debug("Conversation sync disabled - skipping save", "threadId", thread.ID)
		telemetry.CountSync("save", telemetry.ResultSkipped)
		return
	}
	s.upsert(ctx, fromLocal(thread, items, s.now()))
}

func (s *Service) upsert(ctx context.Context, conv model.Conversation) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.remote.Upsert(ctx, conv); err != nil {
		log.Warn("Failed to save conversation", "threadId", conv.ThreadID, "err", err)
		telemetry.CountSync("save", telemetry.ResultError)
		return
	}
	log.Debug("Conversation saved", "threadId", conv.ThreadID, "messages", len(conv.Messages))
	telemetry.CountSync("save", telemetry.ResultOK)
}

// SaveInBackground snapshots thread and items and queues the save without
// blocking. It returns false when the save was skipped or dropped.
func (s *Service) SaveInBackground(thread model.Thread, items []model.Item) bool {
	if !s.Enabled() || s.dispatcher == nil {
		log.Debug("Conversation sync disabled - skipping save", "threadId", thread.ID)
		telemetry.CountSync("save", telemetry.ResultSkipped)
		return false
	}
	conv := fromLocal(thread, items, s.now())
	ok := s.dispatcher.Submit("save "+conv.ThreadID, func(ctx context.Context) {
		s.upsert(ctx, conv)
	})
	if !ok {
		log.Warn("Sync queue full - dropping save", "threadId", conv.ThreadID)
		telemetry.CountSync("save", telemetry.ResultDropped)
	}
	return ok
}

// Load returns every conversation on the remote, most recent first. It returns
// an empty slice when sync is disabled or the remote fails.
func (s *Service) Load(ctx context.Context) []model.Conversation {
	if !s.Enabled() {
		telemetry.CountSync("load", telemetry.ResultSkipped)
		return []model.Conversation{}
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	convs, err := s.remote.List(ctx)
	if err != nil {
		log.Warn("Failed to load conversations", "err", err)
		telemetry.CountSync("load", telemetry.ResultError)
		return []model.Conversation{}
	}
	telemetry.CountSync("load", telemetry.ResultOK)
	if convs == nil {
		return []model.Conversation{}
	}
	return convs
}

// Delete removes a conversation from the remote. A missing conversation is
// logged like any other failure.
func (s *Service) Delete(ctx context.Context, threadID string) {
	if !s.Enabled() {
		telemetry.CountSync("delete", telemetry.ResultSkipped)
		return
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.remote.Delete(ctx, threadID); err != nil {
		log.Warn("Failed to delete conversation", "threadId", threadID, "err", err)
		telemetry.CountSync("delete", telemetry.ResultError)
		return
	}
	log.Debug("Conversation deleted", "threadId", threadID)
	telemetry.CountSync("delete", telemetry.ResultOK)
}

// Close drains queued background saves, giving up when ctx ends.
func (s *Service) Close(ctx context.Context) error {
	if s.dispatcher == nil {
		return nil
	}
	return s.dispatcher.Close(ctx)
}
