package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	domain "github.com/chandanhastantram/artsstore-sub000/internal/domain"
	"github.com/chandanhastantram/artsstore-sub000/internal/repositories"
)

var (
	// ErrNewsletterInvalidEmail signals a malformed subscription email.
	ErrNewsletterInvalidEmail = errors.New("newsletter: invalid email")
	// ErrNewsletterNotSubscribed indicates no subscription exists for the email.
	ErrNewsletterNotSubscribed = errors.New("newsletter: not subscribed")
)

// NewsletterServiceDeps bundles dependencies for the newsletter service.
type NewsletterServiceDeps struct {
	Subscribers repositories.NewsletterRepository
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(context.Context, string, map[string]any)
}

type newsletterService struct {
	subscribers repositories.NewsletterRepository
	clock       func() time.Time
	idgen       func() string
	logger      func(context.Context, string, map[string]any)
	sanitizer   *bluemonday.Policy
}

// NewNewsletterService wires the subscriber collection owner.
func NewNewsletterService(deps NewsletterServiceDeps) (NewsletterService, error) {
	if deps.Subscribers == nil {
		return nil, errors.New("newsletter service: repository is required")
	}
	if deps.IDGenerator == nil {
		return nil, errors.New("newsletter service: id generator is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &newsletterService{
		subscribers: deps.Subscribers,
		clock:       func() time.Time { return clock().UTC() },
		idgen:       deps.IDGenerator,
		logger:      logger,
		sanitizer:   bluemonday.StrictPolicy(),
	}, nil
}

// Subscribe is idempotent per email: re-subscribing an existing address
// refreshes its entry instead of duplicating it.
func (s *newsletterService) Subscribe(ctx context.Context, cmd SubscribeCommand) (NewsletterSubscriber, error) {
	subscriber, err := domain.NewNewsletterSubscriber(s.idgen(), cmd.Email, s.sanitizer.Sanitize(cmd.Source), s.clock())
	if err != nil {
		return NewsletterSubscriber{}, fmt.Errorf("%w: %s", ErrNewsletterInvalidEmail, err)
	}

	stored, err := s.subscribers.Upsert(ctx, subscriber)
	if err != nil {
		return NewsletterSubscriber{}, err
	}
	s.logger(ctx, "newsletter_subscribed", map[string]any{"email": stored.Email, "source": stored.Source})
	return stored, nil
}

func (s *newsletterService) Unsubscribe(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return ErrNewsletterInvalidEmail
	}
	if err := s.subscribers.MarkUnsubscribed(ctx, email, s.clock()); err != nil {
		if repoErr, ok := err.(repositories.RepositoryError); ok && repoErr.IsNotFound() {
			return ErrNewsletterNotSubscribed
		}
		return err
	}
	s.logger(ctx, "newsletter_unsubscribed", map[string]any{"email": email})
	return nil
}

func (s *newsletterService) ListSubscribers(ctx context.Context, cmd ListSubscribersCommand) (domain.CursorPage[NewsletterSubscriber], error) {
	return s.subscribers.List(ctx, repositories.NewsletterListFilter{
		ActiveOnly: cmd.ActiveOnly,
		Pagination: cmd.Pagination,
	})
}
