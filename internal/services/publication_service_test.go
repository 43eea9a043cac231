package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"
	"time"

	domain "github.com/folioshelf/api/internal/domain"
	"github.com/folioshelf/api/internal/platform/storage"
	"github.com/folioshelf/api/internal/repositories"
)

type publicationFixture struct {
	svc           PublicationService
	merchants     *memoryMerchants
	publications  *memoryPublications
	reviews       *memoryReviews
	store         *storage.MemoryStore
	judge         *stubContentJudge
	events        *captureEvents
	notifications *captureNotifications
	metrics       *recordingMetrics
	logs          *captureLog
	now           time.Time
}

type fixtureOption func(*PublicationServiceDeps)

func newPublicationFixture(t *testing.T, opts ...fixtureOption) *publicationFixture {
	t.Helper()
	f := &publicationFixture{
		merchants: newMemoryMerchants(
			domain.Merchant{ID: "m_starter", UserID: "m_starter", Plan: domain.PlanStarter},
			domain.Merchant{ID: "m_other", UserID: "m_other", Plan: domain.PlanStarter},
			domain.Merchant{ID: "m_pro", UserID: "m_pro", Plan: domain.PlanPro, SubscriptionID: "sub_1", SubscriptionStatus: domain.SubscriptionActive},
		),
		publications:  newMemoryPublications(),
		reviews:       &memoryReviews{},
		store:         storage.NewMemoryStore("https://cdn.test"),
		judge:         &stubContentJudge{response: approvedReply},
		events:        &captureEvents{},
		notifications: &captureNotifications{},
		metrics:       &recordingMetrics{},
		logs:          &captureLog{},
		now:           time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
	}

	affiliates := &memoryAffiliates{}
	guard, err := NewDuplicateGuard(f.publications, affiliates)
	if err != nil {
		t.Fatalf("new guard: %v", err)
	}
	judge, err := NewModerationJudge(ModerationJudgeDeps{Judge: f.judge, Metrics: f.metrics, Logger: f.logs.log})
	if err != nil {
		t.Fatalf("new judge: %v", err)
	}
	assets, err := NewAssetIngestor(AssetIngestorDeps{Store: f.store, Logger: f.logs.log})
	if err != nil {
		t.Fatalf("new ingestor: %v", err)
	}
	notifier, err := NewNotifier(NotifierDeps{Notifications: f.notifications, Clock: fixedClock(f.now)})
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}

	deps := PublicationServiceDeps{
		Merchants:    f.merchants,
		Publications: f.publications,
		Reviews:      f.reviews,
		Quotas:       NewQuotaGate(defaultTestQuotas()),
		Guard:        guard,
		Judge:        judge,
		Assets:       assets,
		Notifier:     notifier,
		Events:       f.events,
		Metrics:      f.metrics,
		Clock:        fixedClock(f.now),
		IDGenerator:  sequenceIDs("pub"),
		Logger:       f.logs.log,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	svc, err := NewPublicationService(deps)
	if err != nil {
		t.Fatalf("new publication service: %v", err)
	}
	f.svc = svc
	return f
}

func submitCommand(merchantID, title string) SubmitPublicationCommand {
	req := validModerationRequest()
	return SubmitPublicationCommand{
		MerchantID:       merchantID,
		Title:            title,
		Author:           "Ana Ruiz",
		Language:         "EN-us",
		Category:         "Cooking",
		Pages:            212,
		Description:      "<p>A short <b>history</b> of custard.</p>",
		Price:            12.5,
		Discount:         10,
		EnableDownloads:  true,
		EnableAffiliates: true,
		Commission:       20,
		Document:         req.Document,
		Cover:            req.Cover,
	}
}

func TestPublicationServiceSubmitCreatesApprovedListing(t *testing.T) {
	f := newPublicationFixture(t)

	pub, err := f.svc.Submit(context.Background(), submitCommand("m_starter", "  Custard   Chronicles "))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if pub.ID != "pub_001" || pub.VendorID != "m_starter" {
		t.Fatalf("unexpected identity %s/%s", pub.ID, pub.VendorID)
	}
	if pub.Status != domain.PublicationApproved || pub.UnitsSold != 0 || pub.Earnings != 0 {
		t.Fatalf("expected approved listing with zero counters, got %+v", pub)
	}
	if pub.Title != "Custard Chronicles" || pub.Language != "en" {
		t.Fatalf("expected normalised title and language, got %q %q", pub.Title, pub.Language)
	}
	if pub.Description != "A short history of custard." {
		t.Fatalf("description should be stripped of markup, got %q", pub.Description)
	}
	if !pub.CreatedAt.Equal(f.now) || !pub.UpdatedAt.Equal(f.now) {
		t.Fatalf("timestamps should come from the clock, got %s", pub.CreatedAt)
	}
	if pub.Cover.URL == "" || pub.Document.ID == "" {
		t.Fatalf("expected asset references, got %+v %+v", pub.Cover, pub.Document)
	}
	if len(f.store.Keys()) != 2 {
		t.Fatalf("expected two uploads, got %v", f.store.Keys())
	}
	if _, err := f.publications.FindByID(context.Background(), pub.ID); err != nil {
		t.Fatalf("publication not persisted: %v", err)
	}

	if len(f.notifications.records) != 1 || f.notifications.records[0].UserID != "m_starter" {
		t.Fatalf("expected one notification, got %+v", f.notifications.records)
	}
	if len(f.events.events) != 1 || f.events.events[0].Type != EventPublicationCreated || f.events.events[0].PublicationID != pub.ID {
		t.Fatalf("expected publication.created event, got %+v", f.events.events)
	}
	if len(f.metrics.submissions) != 1 || f.metrics.submissions[0] != "created" {
		t.Fatalf("expected created metric, got %v", f.metrics.submissions)
	}
}

func TestPublicationServiceStarterQuota(t *testing.T) {
	f := newPublicationFixture(t)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		if _, err := f.svc.Submit(ctx, submitCommand("m_starter", fmt.Sprintf("Volume %d", i))); err != nil {
			t.Fatalf("listing %d: %v", i, err)
		}
	}
	_, err := f.svc.Submit(ctx, submitCommand("m_starter", "Volume 6"))
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("sixth listing should exceed quota, got %v", err)
	}
	if f.judge.callCount() != 5 {
		t.Fatalf("quota rejection must happen before moderation, judge called %d times", f.judge.callCount())
	}
}

func TestPublicationServiceDuplicateTitle(t *testing.T) {
	f := newPublicationFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Submit(ctx, submitCommand("m_starter", "Custard Chronicles")); err != nil {
		t.Fatalf("first listing: %v", err)
	}
	_, err := f.svc.Submit(ctx, submitCommand("m_starter", "Custard  Chronicles"))
	if !errors.Is(err, ErrDuplicateEntity) {
		t.Fatalf("expected duplicate entity, got %v", err)
	}
	if _, err := f.svc.Submit(ctx, submitCommand("m_other", "Custard Chronicles")); err != nil {
		t.Fatalf("another vendor may reuse the title: %v", err)
	}
	if _, err := f.svc.Submit(ctx, submitCommand("m_starter", "custard chronicles")); err != nil {
		t.Fatalf("titles differing in case are distinct: %v", err)
	}
}

func TestPublicationServiceUnparsableVerdictCreatesNothing(t *testing.T) {
	f := newPublicationFixture(t)
	f.judge.response = "I am unable to evaluate this file."

	_, err := f.svc.Submit(context.Background(), submitCommand("m_starter", "Custard Chronicles"))
	if !errors.Is(err, ErrModerationParseFailure) {
		t.Fatalf("expected parse failure, got %v", err)
	}
	if len(f.store.Keys()) != 0 {
		t.Fatalf("no uploads expected, got %v", f.store.Keys())
	}
	if n, _ := f.publications.CountByVendor(context.Background(), "m_starter"); n != 0 {
		t.Fatalf("no publication expected, got %d", n)
	}
	if len(f.events.events) != 0 || len(f.notifications.records) != 0 {
		t.Fatalf("no side effects expected")
	}
}

func TestPublicationServiceRejectionCarriesReason(t *testing.T) {
	f := newPublicationFixture(t)
	f.judge.response = `{"status":"Not Approved","reason":"The cover shows a third-party watermark."}`

	_, err := f.svc.Submit(context.Background(), submitCommand("m_starter", "Custard Chronicles"))
	var rejected *ModerationRejectedError
	if !errors.As(err, &rejected) || rejected.Reason != "The cover shows a third-party watermark." {
		t.Fatalf("expected verbatim rejection, got %v", err)
	}
	if len(f.store.Keys()) != 0 {
		t.Fatalf("rejected content must not be uploaded")
	}
}

func TestPublicationServiceRollsBackUploadsWhenCreateFails(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"conflict", &fakeRepoError{conflict: true}, ErrDuplicateEntity},
		{"limit", repositories.ErrLimitReached, ErrQuotaExceeded},
		{"unavailable", &fakeRepoError{}, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newPublicationFixture(t)
			f.publications.createErr = tc.err

			_, err := f.svc.Submit(context.Background(), submitCommand("m_starter", "Custard Chronicles"))
			if err == nil {
				t.Fatal("expected error")
			}
			if tc.sentinel != nil && !errors.Is(err, tc.sentinel) {
				t.Fatalf("expected %v, got %v", tc.sentinel, err)
			}
			if len(f.store.Keys()) != 0 {
				t.Fatalf("uploads should be rolled back, got %v", f.store.Keys())
			}
		})
	}
}

func TestPublicationServiceValidationListsEveryField(t *testing.T) {
	f := newPublicationFixture(t)
	cmd := SubmitPublicationCommand{MerchantID: "m_starter", Pages: 0, Discount: 150}

	_, err := f.svc.Submit(context.Background(), cmd)
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	want := []string{
		"title is required",
		"description is required",
		"pages must be at least 1",
		"discount must be less than or equal to 100",
		"file is required",
		"cover is required",
	}
	for _, msg := range want {
		if !slices.Contains(validation.Messages, msg) {
			t.Fatalf("missing message %q in %v", msg, validation.Messages)
		}
	}
	if f.judge.callCount() != 0 {
		t.Fatal("validation failures must not reach the judge")
	}
}

func TestPublicationServiceUnknownMerchant(t *testing.T) {
	f := newPublicationFixture(t)

	_, err := f.svc.Submit(context.Background(), submitCommand("m_ghost", "Custard Chronicles"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := f.svc.Submit(context.Background(), submitCommand("", "Custard Chronicles")); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestPublicationServiceLapsedSubscriptionFallsBackToStarter(t *testing.T) {
	verifier := &stubVerifier{status: domain.SubscriptionCanceled}
	f := newPublicationFixture(t, func(deps *PublicationServiceDeps) {
		deps.Subscriptions = verifier
	})
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		if _, err := f.svc.Submit(ctx, submitCommand("m_pro", fmt.Sprintf("Volume %d", i))); err != nil {
			t.Fatalf("listing %d: %v", i, err)
		}
	}
	_, err := f.svc.Submit(ctx, submitCommand("m_pro", "Volume 6"))
	var quotaErr *QuotaExceededError
	if !errors.As(err, &quotaErr) || quotaErr.Tier != domain.PlanStarter {
		t.Fatalf("lapsed pro merchant should be limited as starter, got %v", err)
	}
	if len(verifier.refs) == 0 || verifier.refs[0] != "sub_1" {
		t.Fatalf("expected subscription verification, got %v", verifier.refs)
	}
}

func TestPublicationServiceVerifierErrorUsesStoredStatus(t *testing.T) {
	f := newPublicationFixture(t, func(deps *PublicationServiceDeps) {
		deps.Subscriptions = &stubVerifier{err: errBoom}
	})
	ctx := context.Background()

	for i := 1; i <= 6; i++ {
		if _, err := f.svc.Submit(ctx, submitCommand("m_pro", fmt.Sprintf("Volume %d", i))); err != nil {
			t.Fatalf("pro listing %d: %v", i, err)
		}
	}
	if !f.logs.has("subscription_verify_failed") {
		t.Fatal("expected verification warning")
	}
}

func TestPublicationServiceSideEffectFailuresAreSwallowed(t *testing.T) {
	f := newPublicationFixture(t)
	f.events.err = errBoom
	f.notifications.err = errBoom

	if _, err := f.svc.Submit(context.Background(), submitCommand("m_starter", "Custard Chronicles")); err != nil {
		t.Fatalf("side effects must not fail the submission: %v", err)
	}
	if !f.logs.has("publication_event_failed") || !f.logs.has("publication_notification_failed") {
		t.Fatalf("expected side-effect failures to be logged, got %+v", f.logs.entries)
	}
}

func TestPublicationServiceGetPublication(t *testing.T) {
	f := newPublicationFixture(t)
	ctx := context.Background()
	pub, err := f.svc.Submit(ctx, submitCommand("m_starter", "Custard Chronicles"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	f.reviews.reviews = []domain.Review{{ID: "rev_1", PublicationID: pub.ID, Rating: 4, Comment: "Rich."}}

	detail, err := f.svc.GetPublication(ctx, pub.ID, GetPublicationOptions{ForAffiliates: true})
	if err != nil {
		t.Fatalf("get publication: %v", err)
	}
	if detail.Publication.ID != pub.ID || len(detail.Reviews) != 1 || !detail.ForAffiliates {
		t.Fatalf("unexpected detail %+v", detail)
	}

	if _, err := f.svc.GetPublication(ctx, "pub_missing", GetPublicationOptions{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
