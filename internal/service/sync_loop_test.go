package service

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-inbox/internal/models"
	"github.com/noah-isme/gema-inbox/internal/session"
)

type loopFixture struct {
	sess     *session.Session
	chatRepo *stubChatRepo
	messages *stubMessageRepo
	chat     *ChatSession
	loop     *SyncLoop
	tab      atomic.Value
}

func newLoopFixture(t *testing.T) *loopFixture {
	t.Helper()
	f := &loopFixture{
		sess:     teacherSession(),
		chatRepo: newStubChatRepo(),
		messages: &stubMessageRepo{failRead: map[models.ID]error{}},
	}
	f.tab.Store(models.InboxTabChat)
	f.chatRepo.active = []models.ActiveContact{student("3", "Ana")}

	roster := NewContactRoster(f.sess, f.chatRepo, nil, zerolog.Nop())
	feed := NewNotificationFeed(f.sess, f.messages, &stubNotificationRepo{}, nil, nil, FeedConfig{}, zerolog.Nop())
	f.chat = NewChatSession(f.sess, f.chatRepo, roster, nil, zerolog.Nop())
	f.loop = NewSyncLoop(f.sess, SyncTargets{
		Roster: roster,
		Feed:   feed,
		Chat:   f.chat,
		Tab:    func() models.InboxTab { return f.tab.Load().(models.InboxTab) },
	}, 0, zerolog.Nop())
	return f
}

func (f *loopFixture) listCalls() int {
	f.messages.mu.Lock()
	defer f.messages.mu.Unlock()
	return f.messages.calls
}

func TestSyncLoopTickRunsOnlyApplicableTasks(t *testing.T) {
	f := newLoopFixture(t)

	f.loop.Tick()
	f.loop.Wait()
	require.Equal(t, 1, f.chatRepo.callCount("active"))
	require.Equal(t, 1, f.chatRepo.callCount("summaries"))
	require.Equal(t, 0, f.listCalls())
	require.Equal(t, 0, f.chatRepo.callCount("history"))

	f.tab.Store(models.InboxTabNotifications)
	_, err := f.chat.Select(context.Background(), contactOf("3", 0))
	require.NoError(t, err)
	require.Equal(t, 1, f.chatRepo.callCount("history"))

	f.loop.Tick()
	f.loop.Wait()
	require.Equal(t, 1, f.listCalls())
	require.Equal(t, 2, f.chatRepo.callCount("history"))
}

func TestSyncLoopSkipsTaskStillInFlight(t *testing.T) {
	f := newLoopFixture(t)
	release := make(chan struct{})
	f.chatRepo.mu.Lock()
	f.chatRepo.blockers["active"] = release
	f.chatRepo.mu.Unlock()

	require.True(t, f.loop.Trigger(SyncTaskContacts))
	require.False(t, f.loop.Trigger(SyncTaskContacts))
	f.loop.Tick()
	require.True(t, f.loop.Trigger(SyncTaskFeed))

	close(release)
	f.loop.Wait()
	require.Equal(t, 1, f.chatRepo.callCount("active"))

	require.True(t, f.loop.Trigger(SyncTaskContacts))
	f.loop.Wait()
	require.Equal(t, 2, f.chatRepo.callCount("active"))
}

func TestSyncLoopStopRefusesNewWork(t *testing.T) {
	f := newLoopFixture(t)
	f.loop.Start()
	f.loop.Wait()
	before := f.chatRepo.callCount("active")
	require.GreaterOrEqual(t, before, 1)

	f.loop.Stop()
	f.loop.Stop()
	require.False(t, f.loop.Trigger(SyncTaskContacts))
	f.loop.Tick()
	f.loop.Wait()
	require.Equal(t, before, f.chatRepo.callCount("active"))
}

func TestSyncLoopIgnoresClosedSession(t *testing.T) {
	f := newLoopFixture(t)
	f.sess.Close()
	require.False(t, f.loop.Trigger(SyncTaskUnread))
	require.Equal(t, 0, f.chatRepo.callCount("unread"))
}

func TestSyncLoopUnknownTask(t *testing.T) {
	f := newLoopFixture(t)
	require.False(t, f.loop.Trigger(SyncTask("bogus")))
}
