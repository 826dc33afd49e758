package service

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/gema-inbox/internal/dto"
	"github.com/noah-isme/gema-inbox/internal/models"
	"github.com/noah-isme/gema-inbox/internal/repository"
	"github.com/noah-isme/gema-inbox/internal/session"
)

// Notifier is told which slice of inbox state changed.
type Notifier func(kind dto.InboxEventKind)

func (n Notifier) notify(kind dto.InboxEventKind) {
	if n != nil {
		n(kind)
	}
}

// ContactRoster holds the merged contact list of one session.
type ContactRoster struct {
	session *session.Session
	repo    repository.ChatRepository
	notify  Notifier
	logger  zerolog.Logger
	tracer  trace.Tracer

	mu          sync.RWMutex
	contacts    []models.Contact
	loaded      bool
	totalUnread int
}

// NewContactRoster constructs a roster for sess.
func NewContactRoster(sess *session.Session, repo repository.ChatRepository, notify Notifier, logger zerolog.Logger) *ContactRoster {
	return &ContactRoster{
		session:  sess,
		repo:     repo,
		notify:   notify,
		logger:   logger.With().Str("component", "contact_roster").Str("user", sess.Identity().Key()).Logger(),
		tracer:   otel.Tracer("github.com/noah-isme/gema-inbox/internal/service/roster"),
		contacts: []models.Contact{},
	}
}

// Refresh fetches both roster sources and publishes the merge. When either source fails the
// previous roster is kept and the error returned.
func (r *ContactRoster) Refresh(ctx context.Context) ([]models.Contact, error) {
	identity := r.session.Identity()
	ctx, span := r.tracer.Start(r.session.Context(ctx), "roster.refresh", trace.WithAttributes(
		attribute.String("user.key", identity.Key()),
	))
	defer span.End()

	var (
		active    []models.ActiveContact
		summaries []models.ChatSummary
	)
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		var err error
		active, err = r.repo.ActiveContacts(groupCtx, identity.Ref())
		return err
	})
	group.Go(func() error {
		var err error
		summaries, err = r.repo.Summaries(groupCtx, identity.Ref())
		return err
	})
	if err := group.Wait(); err != nil {
		span.RecordError(err)
		r.logger.Warn().Err(err).Msg("contact refresh failed, keeping previous roster")
		return r.Contacts(), err
	}

	merged := MergeContacts(active, summaries)
	if !r.session.Active() {
		return merged, nil
	}

	r.mu.Lock()
	changed := !r.loaded || !slices.EqualFunc(r.contacts, merged, models.Contact.Same)
	r.contacts = merged
	r.loaded = true
	r.mu.Unlock()
	if changed {
		r.notify.notify(dto.InboxEventContacts)
	}

	if _, err := r.RefreshUnread(ctx); err != nil {
		r.logger.Warn().Err(err).Msg("chat unread refresh failed")
	}

	return cloneContacts(merged), nil
}

// RefreshUnread reloads the total chat unread count.
func (r *ContactRoster) RefreshUnread(ctx context.Context) (int, error) {
	count, err := r.repo.UnreadCount(r.session.Context(ctx), r.session.Identity().Ref())
	if err != nil {
		return r.TotalUnread(), err
	}
	if count < 0 {
		count = 0
	}
	if !r.session.Active() {
		return count, nil
	}

	r.mu.Lock()
	changed := r.totalUnread != count
	r.totalUnread = count
	r.mu.Unlock()

	if changed {
		r.notify.notify(dto.InboxEventUnread)
	}
	return count, nil
}

// MarkContactRead zeroes one contact's unread count locally and lowers the total accordingly.
func (r *ContactRoster) MarkContactRead(key models.ContactKey) {
	r.mu.Lock()
	changed := false
	for i := range r.contacts {
		if r.contacts[i].Key() != key || r.contacts[i].UnreadCount == 0 {
			continue
		}
		r.totalUnread -= r.contacts[i].UnreadCount
		if r.totalUnread < 0 {
			r.totalUnread = 0
		}
		r.contacts[i].UnreadCount = 0
		changed = true
	}
	r.mu.Unlock()

	if changed {
		r.notify.notify(dto.InboxEventContacts)
	}
}

// Find returns the roster entry for key.
func (r *ContactRoster) Find(key models.ContactKey) (models.Contact, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, contact := range r.contacts {
		if contact.Key() == key {
			return contact, true
		}
	}
	return models.Contact{}, false
}

// Contacts returns a copy of the current roster.
func (r *ContactRoster) Contacts() []models.Contact {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneContacts(r.contacts)
}

// TotalUnread returns the chat unread total.
func (r *ContactRoster) TotalUnread() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.totalUnread
}

// Snapshot returns the roster and its unread total read under one lock.
func (r *ContactRoster) Snapshot() ([]models.Contact, int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneContacts(r.contacts), r.totalUnread
}

// MergeContacts left-joins active contacts with chat summaries on (contactId, contactType).
// Summaries without an active contact are dropped. Contacts with a last message come first,
// newest first; the rest keep their upstream order.
func MergeContacts(active []models.ActiveContact, summaries []models.ChatSummary) []models.Contact {
	bySummary := make(map[models.ContactKey]models.ChatSummary, len(summaries))
	for _, summary := range summaries {
		bySummary[models.ContactKey{ID: summary.ContactID, Type: summary.ContactType}] = summary
	}

	contacts := make([]models.Contact, 0, len(active))
	seen := make(map[models.ContactKey]struct{}, len(active))
	for _, candidate := range active {
		key := models.ContactKey{ID: candidate.ContactID, Type: candidate.ContactType}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		contact := models.Contact{
			ContactID:   candidate.ContactID,
			ContactType: candidate.ContactType,
			ContactName: candidate.ContactName,
			CourseName:  candidate.CourseName,
		}
		if summary, ok := bySummary[key]; ok {
			contact.LastMessage = summary.LastMessage
			contact.LastTime = summary.LastTime.Ptr()
			if summary.UnreadCount > 0 {
				contact.UnreadCount = summary.UnreadCount
			}
			if contact.ContactName == "" {
				contact.ContactName = summary.ContactName
			}
		}
		contacts = append(contacts, contact)
	}

	sort.SliceStable(contacts, func(i, j int) bool {
		left, right := contacts[i].LastTime, contacts[j].LastTime
		switch {
		case left != nil && right != nil:
			return left.After(*right)
		case left != nil:
			return true
		default:
			return false
		}
	})
	return contacts
}

func cloneContacts(contacts []models.Contact) []models.Contact {
	out := make([]models.Contact, len(contacts))
	copy(out, contacts)
	return out
}
