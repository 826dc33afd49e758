package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-inbox/internal/models"
	"github.com/noah-isme/gema-inbox/internal/observability"
	"github.com/noah-isme/gema-inbox/internal/session"
)

// DefaultSyncInterval is the polling cadence of an inbox.
const DefaultSyncInterval = 3 * time.Second

// SyncTask names one unit of periodic work.
type SyncTask string

const (
	SyncTaskUnread   SyncTask = "unread"
	SyncTaskContacts SyncTask = "contacts"
	SyncTaskFeed     SyncTask = "feed"
	SyncTaskChat     SyncTask = "chat"
)

var syncTasks = []SyncTask{SyncTaskUnread, SyncTaskContacts, SyncTaskFeed, SyncTaskChat}

// SyncTargets are the components a sync loop refreshes. Tab reports the visible tab.
type SyncTargets struct {
	Roster *ContactRoster
	Feed   *NotificationFeed
	Chat   *ChatSession
	Tab    func() models.InboxTab
}

// SyncLoop polls the portal on a fixed cadence. Ticks never wait for each other; a task still
// pending from an earlier tick is skipped.
type SyncLoop struct {
	session  *session.Session
	targets  SyncTargets
	interval time.Duration
	logger   zerolog.Logger

	inflight map[SyncTask]*atomic.Bool
	stopped  atomic.Bool
	running  sync.WaitGroup

	mu     sync.Mutex
	engine *cron.Cron
}

// NewSyncLoop constructs a loop. A non-positive interval selects DefaultSyncInterval.
func NewSyncLoop(sess *session.Session, targets SyncTargets, interval time.Duration, logger zerolog.Logger) *SyncLoop {
	if interval <= 0 {
		interval = DefaultSyncInterval
	}
	inflight := make(map[SyncTask]*atomic.Bool, len(syncTasks))
	for _, task := range syncTasks {
		inflight[task] = &atomic.Bool{}
	}
	return &SyncLoop{
		session:  sess,
		targets:  targets,
		interval: interval,
		logger:   logger.With().Str("component", "sync_loop").Str("user", sess.Identity().Key()).Logger(),
		inflight: inflight,
	}
}

// Start schedules the loop and runs a first tick right away.
func (l *SyncLoop) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.engine != nil || l.stopped.Load() {
		return
	}

	engine := cron.New(cron.WithLogger(cronLogger{logger: l.logger}))
	engine.Schedule(cron.Every(l.interval), cron.FuncJob(l.Tick))
	engine.Start()
	l.engine = engine
	l.logger.Debug().Dur("interval", l.interval).Msg("sync loop started")

	l.Tick()
}

// Stop cancels the schedule. Requests already sent are not aborted.
func (l *SyncLoop) Stop() {
	if !l.stopped.CompareAndSwap(false, true) {
		return
	}
	l.mu.Lock()
	engine := l.engine
	l.engine = nil
	l.mu.Unlock()

	if engine != nil {
		engine.Stop()
	}
	l.logger.Debug().Msg("sync loop stopped")
}

// Wait blocks until every task started so far has returned.
func (l *SyncLoop) Wait() {
	l.running.Wait()
}

// Tick fires every task that applies to the current view.
func (l *SyncLoop) Tick() {
	l.Trigger(SyncTaskUnread)
	l.Trigger(SyncTaskContacts)
	if l.targets.Feed != nil && l.tab() == models.InboxTabNotifications {
		l.Trigger(SyncTaskFeed)
	}
	if l.targets.Chat != nil {
		if _, open := l.targets.Chat.Current(); open {
			l.Trigger(SyncTaskChat)
		}
	}
}

// Trigger starts task in the background. It reports false when the task is still in flight or the
// loop has stopped.
func (l *SyncLoop) Trigger(task SyncTask) bool {
	guard, ok := l.inflight[task]
	if !ok || l.stopped.Load() || !l.session.Active() {
		return false
	}
	if !guard.CompareAndSwap(false, true) {
		observability.SyncTaskSkipped().WithLabelValues(string(task)).Inc()
		return false
	}

	l.running.Add(1)
	go func() {
		defer l.running.Done()
		defer guard.Store(false)
		l.run(task)
	}()
	return true
}

func (l *SyncLoop) run(task SyncTask) {
	started := time.Now()
	err := l.execute(context.Background(), task)
	observability.SyncTaskLatency().WithLabelValues(string(task)).Observe(time.Since(started).Seconds())

	if err != nil {
		observability.SyncTaskRuns().WithLabelValues(string(task), "error").Inc()
		l.logger.Warn().Err(err).Str("task", string(task)).Msg("sync task failed")
		return
	}
	observability.SyncTaskRuns().WithLabelValues(string(task), "ok").Inc()
}

func (l *SyncLoop) execute(ctx context.Context, task SyncTask) error {
	switch task {
	case SyncTaskUnread:
		var errs []error
		if l.targets.Roster != nil {
			if _, err := l.targets.Roster.RefreshUnread(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		if l.targets.Feed != nil {
			if _, err := l.targets.Feed.RefreshUnreadCount(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	case SyncTaskContacts:
		if l.targets.Roster == nil {
			return nil
		}
		_, err := l.targets.Roster.Refresh(ctx)
		return err
	case SyncTaskFeed:
		if l.targets.Feed == nil {
			return nil
		}
		_, err := l.targets.Feed.Refresh(ctx)
		return err
	case SyncTaskChat:
		if l.targets.Chat == nil {
			return nil
		}
		_, err := l.targets.Chat.Reconcile(ctx)
		return err
	}
	return fmt.Errorf("unknown sync task %q", task)
}

func (l *SyncLoop) tab() models.InboxTab {
	if l.targets.Tab == nil {
		return models.InboxTabChat
	}
	return l.targets.Tab()
}

// cronLogger routes cron's scheduler logs through zerolog.
type cronLogger struct {
	logger zerolog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
