package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/chandanhastantram/artsstore-sub000/internal/domain"
	"github.com/chandanhastantram/artsstore-sub000/internal/repositories"
)

type stubNewsletterRepository struct {
	upsertFn func(ctx context.Context, subscriber domain.NewsletterSubscriber) (domain.NewsletterSubscriber, error)
	findFn   func(ctx context.Context, email string) (domain.NewsletterSubscriber, error)
	markFn   func(ctx context.Context, email string, at time.Time) error
	listFn   func(ctx context.Context, filter repositories.NewsletterListFilter) (domain.CursorPage[domain.NewsletterSubscriber], error)
}

func (s *stubNewsletterRepository) Upsert(ctx context.Context, subscriber domain.NewsletterSubscriber) (domain.NewsletterSubscriber, error) {
	return s.upsertFn(ctx, subscriber)
}

func (s *stubNewsletterRepository) FindByEmail(ctx context.Context, email string) (domain.NewsletterSubscriber, error) {
	return s.findFn(ctx, email)
}

func (s *stubNewsletterRepository) MarkUnsubscribed(ctx context.Context, email string, at time.Time) error {
	return s.markFn(ctx, email, at)
}

func (s *stubNewsletterRepository) List(ctx context.Context, filter repositories.NewsletterListFilter) (domain.CursorPage[domain.NewsletterSubscriber], error) {
	return s.listFn(ctx, filter)
}

var newsletterTestNow = time.Date(2024, time.March, 15, 12, 0, 0, 0, time.UTC)

func newTestNewsletterService(t *testing.T, repo repositories.NewsletterRepository) NewsletterService {
	t.Helper()
	svc, err := NewNewsletterService(NewsletterServiceDeps{
		Subscribers: repo,
		Clock:       func() time.Time { return newsletterTestNow },
		IDGenerator: func() string { return "sub-1" },
	})
	if err != nil {
		t.Fatalf("NewNewsletterService: %v", err)
	}
	return svc
}

func TestNewsletterServiceSubscribeNormalizesEmail(t *testing.T) {
	var upserted domain.NewsletterSubscriber
	repo := &stubNewsletterRepository{
		upsertFn: func(_ context.Context, subscriber domain.NewsletterSubscriber) (domain.NewsletterSubscriber, error) {
			upserted = subscriber
			return subscriber, nil
		},
	}
	svc := newTestNewsletterService(t, repo)

	stored, err := svc.Subscribe(context.Background(), SubscribeCommand{
		Email:  "  Asha.Rao@Example.COM ",
		Source: "footer",
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if upserted.Email != "asha.rao@example.com" {
		t.Fatalf("upserted email = %q, want lowercased and trimmed", upserted.Email)
	}
	if upserted.ID != "sub-1" {
		t.Fatalf("upserted id = %q", upserted.ID)
	}
	if !upserted.SubscribedAt.Equal(newsletterTestNow) {
		t.Fatalf("subscribedAt = %v, want %v", upserted.SubscribedAt, newsletterTestNow)
	}
	if stored.Email != "asha.rao@example.com" {
		t.Fatalf("returned email = %q", stored.Email)
	}
}

func TestNewsletterServiceSubscribeSanitizesSource(t *testing.T) {
	repo := &stubNewsletterRepository{
		upsertFn: func(_ context.Context, subscriber domain.NewsletterSubscriber) (domain.NewsletterSubscriber, error) {
			return subscriber, nil
		},
	}
	svc := newTestNewsletterService(t, repo)

	stored, err := svc.Subscribe(context.Background(), SubscribeCommand{
		Email:  "a@example.com",
		Source: `<img src=x onerror=alert(1)>homepage`,
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if stored.Source != "homepage" {
		t.Fatalf("source = %q, want markup stripped", stored.Source)
	}
}

func TestNewsletterServiceSubscribeInvalidEmail(t *testing.T) {
	repo := &stubNewsletterRepository{
		upsertFn: func(context.Context, domain.NewsletterSubscriber) (domain.NewsletterSubscriber, error) {
			t.Fatal("Upsert should not be called for an invalid email")
			return domain.NewsletterSubscriber{}, nil
		},
	}
	svc := newTestNewsletterService(t, repo)

	for _, email := range []string{"", "   ", "no-at-sign"} {
		if _, err := svc.Subscribe(context.Background(), SubscribeCommand{Email: email}); !errors.Is(err, ErrNewsletterInvalidEmail) {
			t.Fatalf("Subscribe(%q) error = %v, want %v", email, err, ErrNewsletterInvalidEmail)
		}
	}
}

func TestNewsletterServiceUnsubscribe(t *testing.T) {
	var marked string
	repo := &stubNewsletterRepository{
		markFn: func(_ context.Context, email string, at time.Time) error {
			marked = email
			if !at.Equal(newsletterTestNow) {
				t.Fatalf("unsubscribe time = %v, want %v", at, newsletterTestNow)
			}
			return nil
		},
	}
	svc := newTestNewsletterService(t, repo)

	if err := svc.Unsubscribe(context.Background(), " Asha.Rao@Example.COM "); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	if marked != "asha.rao@example.com" {
		t.Fatalf("marked email = %q, want normalized", marked)
	}
}

func TestNewsletterServiceUnsubscribeNotFound(t *testing.T) {
	repo := &stubNewsletterRepository{
		markFn: func(context.Context, string, time.Time) error {
			return repoTestError{msg: "subscriber not found", notFound: true}
		},
	}
	svc := newTestNewsletterService(t, repo)

	err := svc.Unsubscribe(context.Background(), "unknown@example.com")
	if !errors.Is(err, ErrNewsletterNotSubscribed) {
		t.Fatalf("Unsubscribe error = %v, want %v", err, ErrNewsletterNotSubscribed)
	}
}

func TestNewsletterServiceListSubscribersPassesFilter(t *testing.T) {
	repo := &stubNewsletterRepository{
		listFn: func(_ context.Context, filter repositories.NewsletterListFilter) (domain.CursorPage[domain.NewsletterSubscriber], error) {
			if !filter.ActiveOnly {
				t.Fatal("activeOnly was not forwarded")
			}
			if filter.Pagination.PageSize != 25 || filter.Pagination.PageToken != "tok" {
				t.Fatalf("pagination = %+v", filter.Pagination)
			}
			return domain.CursorPage[domain.NewsletterSubscriber]{
				Items: []domain.NewsletterSubscriber{{ID: "sub-1", Email: "a@example.com", SubscribedAt: newsletterTestNow}},
			}, nil
		},
	}
	svc := newTestNewsletterService(t, repo)

	page, err := svc.ListSubscribers(context.Background(), ListSubscribersCommand{
		ActiveOnly: true,
		Pagination: Pagination{PageSize: 25, PageToken: "tok"},
	})
	if err != nil {
		t.Fatalf("ListSubscribers: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].Email != "a@example.com" {
		t.Fatalf("page = %+v", page)
	}
}
