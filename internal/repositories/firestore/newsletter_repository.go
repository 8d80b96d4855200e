package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/chandanhastantram/artsstore-sub000/internal/domain"
	pfirestore "github.com/chandanhastantram/artsstore-sub000/internal/platform/firestore"
	"github.com/chandanhastantram/artsstore-sub000/internal/repositories"
)

const newsletterCollection = "newsletterSubscribers"

// NewsletterRepository persists the subscriber collection, keyed by the
// lowercased email address so repeat subscriptions stay idempotent.
type NewsletterRepository struct {
	provider    *pfirestore.Provider
	subscribers *pfirestore.BaseRepository[newsletterDocument]
}

func NewNewsletterRepository(provider *pfirestore.Provider) (*NewsletterRepository, error) {
	if provider == nil {
		return nil, errors.New("newsletter repository requires firestore provider")
	}
	subscribers := pfirestore.NewBaseRepository[newsletterDocument](provider, newsletterCollection, nil, nil)
	return &NewsletterRepository{provider: provider, subscribers: subscribers}, nil
}

// Upsert stores the subscriber, reactivating an unsubscribed record while
// keeping the original subscription metadata otherwise.
func (r *NewsletterRepository) Upsert(ctx context.Context, subscriber domain.NewsletterSubscriber) (domain.NewsletterSubscriber, error) {
	if r == nil || r.provider == nil {
		return domain.NewsletterSubscriber{}, errors.New("newsletter repository not initialised")
	}
	email := normalizeEmailKey(subscriber.Email)
	if email == "" {
		return domain.NewsletterSubscriber{}, errors.New("newsletter upsert: email is required")
	}

	var stored domain.NewsletterSubscriber
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		docRef, err := r.subscribers.DocumentRef(ctx, email)
		if err != nil {
			return err
		}
		snap, err := tx.Get(docRef)
		switch {
		case err == nil:
			var existing newsletterDocument
			if err := snap.DataTo(&existing); err != nil {
				return fmt.Errorf("decode subscriber %s: %w", email, err)
			}
			existing.UnsubscribedAt = nil
			if source := strings.TrimSpace(subscriber.Source); source != "" {
				existing.Source = source
			}
			stored = existing.toDomain(email)
			return tx.Set(docRef, existing)
		case status.Code(err) == codes.NotFound:
			doc := newsletterDocument{
				ID:           subscriber.ID,
				Email:        email,
				Source:       strings.TrimSpace(subscriber.Source),
				SubscribedAt: subscriber.SubscribedAt.UTC(),
			}
			stored = doc.toDomain(email)
			return tx.Set(docRef, doc)
		default:
			return err
		}
	})
	if err != nil {
		return domain.NewsletterSubscriber{}, pfirestore.WrapError("newsletter.upsert", err)
	}
	return stored, nil
}

func (r *NewsletterRepository) FindByEmail(ctx context.Context, email string) (domain.NewsletterSubscriber, error) {
	if r == nil || r.subscribers == nil {
		return domain.NewsletterSubscriber{}, errors.New("newsletter repository not initialised")
	}
	key := normalizeEmailKey(email)
	if key == "" {
		return domain.NewsletterSubscriber{}, errors.New("newsletter lookup: email is required")
	}

	doc, err := r.subscribers.Get(ctx, key)
	if err != nil {
		return domain.NewsletterSubscriber{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *NewsletterRepository) MarkUnsubscribed(ctx context.Context, email string, at time.Time) error {
	if r == nil || r.provider == nil {
		return errors.New("newsletter repository not initialised")
	}
	key := normalizeEmailKey(email)
	if key == "" {
		return errors.New("newsletter unsubscribe: email is required")
	}
	at = at.UTC()

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		docRef, err := r.subscribers.DocumentRef(ctx, key)
		if err != nil {
			return err
		}
		snap, err := tx.Get(docRef)
		if err != nil {
			return err
		}
		var doc newsletterDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode subscriber %s: %w", key, err)
		}
		if doc.UnsubscribedAt != nil {
			return nil
		}
		doc.UnsubscribedAt = &at
		return tx.Set(docRef, doc)
	})
	if err != nil {
		return pfirestore.WrapError("newsletter.markUnsubscribed", err)
	}
	return nil
}

// List returns subscribers ordered by email with offset-free cursoring on the
// document id.
func (r *NewsletterRepository) List(ctx context.Context, filter repositories.NewsletterListFilter) (domain.CursorPage[domain.NewsletterSubscriber], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.NewsletterSubscriber]{}, errors.New("newsletter repository not initialised")
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 500 {
		pageSize = 500
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.NewsletterSubscriber]{}, pfirestore.WrapError("newsletter.list", err)
	}

	query := client.Collection(newsletterCollection).Query.
		OrderBy(firestore.DocumentID, firestore.Asc).
		Limit(pageSize + 1)
	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		query = query.StartAfter(token)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var subscribers []domain.NewsletterSubscriber
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.NewsletterSubscriber]{}, pfirestore.WrapError("newsletter.list", err)
		}
		var doc newsletterDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.NewsletterSubscriber]{}, fmt.Errorf("decode subscriber %s: %w", snap.Ref.ID, err)
		}
		subscriber := doc.toDomain(snap.Ref.ID)
		if filter.ActiveOnly && !subscriber.Active() {
			continue
		}
		subscribers = append(subscribers, subscriber)
	}

	hasMore := len(subscribers) > pageSize
	if hasMore {
		subscribers = subscribers[:pageSize]
	}
	var nextToken string
	if hasMore && len(subscribers) > 0 {
		nextToken = normalizeEmailKey(subscribers[len(subscribers)-1].Email)
	}

	return domain.CursorPage[domain.NewsletterSubscriber]{Items: subscribers, NextPageToken: nextToken}, nil
}

// Helper structures ---------------------------------------------------------

type newsletterDocument struct {
	ID             string     `firestore:"id"`
	Email          string     `firestore:"email"`
	Source         string     `firestore:"source,omitempty"`
	SubscribedAt   time.Time  `firestore:"subscribedAt"`
	UnsubscribedAt *time.Time `firestore:"unsubscribedAt,omitempty"`
}

func (d newsletterDocument) toDomain(key string) domain.NewsletterSubscriber {
	email := d.Email
	if email == "" {
		email = key
	}
	return domain.NewsletterSubscriber{
		ID:             d.ID,
		Email:          email,
		Source:         d.Source,
		SubscribedAt:   d.SubscribedAt,
		UnsubscribedAt: d.UnsubscribedAt,
	}
}

func normalizeEmailKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
