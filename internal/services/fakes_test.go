package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	domain "github.com/folioshelf/api/internal/domain"
	"github.com/folioshelf/api/internal/platform/textutil"
	"github.com/folioshelf/api/internal/repositories"
)

type fakeRepoError struct {
	notFound bool
	conflict bool
}

func (e *fakeRepoError) Error() string {
	switch {
	case e.notFound:
		return "not found"
	case e.conflict:
		return "conflict"
	default:
		return "unavailable"
	}
}
func (e *fakeRepoError) IsNotFound() bool    { return e.notFound }
func (e *fakeRepoError) IsConflict() bool    { return e.conflict }
func (e *fakeRepoError) IsUnavailable() bool { return !e.notFound && !e.conflict }

type memoryMerchants struct {
	merchants map[string]domain.Merchant
}

func newMemoryMerchants(merchants ...domain.Merchant) *memoryMerchants {
	m := &memoryMerchants{merchants: map[string]domain.Merchant{}}
	for _, merchant := range merchants {
		m.merchants[merchant.ID] = merchant
	}
	return m
}

func (m *memoryMerchants) FindByID(_ context.Context, id string) (domain.Merchant, error) {
	merchant, ok := m.merchants[id]
	if !ok {
		return domain.Merchant{}, &fakeRepoError{notFound: true}
	}
	return merchant, nil
}

type memoryPublications struct {
	mu        sync.Mutex
	items     map[string]domain.Publication
	createErr error
	queries   []repositories.CatalogBucketQuery
}

func newMemoryPublications(items ...domain.Publication) *memoryPublications {
	repo := &memoryPublications{items: map[string]domain.Publication{}}
	for _, item := range items {
		repo.items[item.ID] = item
	}
	return repo
}

func (m *memoryPublications) Create(_ context.Context, publication domain.Publication, opts repositories.CreateOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	count := 0
	for _, existing := range m.items {
		if existing.VendorID != publication.VendorID {
			continue
		}
		if existing.Title == publication.Title {
			return &fakeRepoError{conflict: true}
		}
		count++
	}
	if opts.Limit > 0 && count >= opts.Limit {
		return repositories.ErrLimitReached
	}
	m.items[publication.ID] = publication
	return nil
}

func (m *memoryPublications) FindByID(_ context.Context, id string) (domain.Publication, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	publication, ok := m.items[id]
	if !ok {
		return domain.Publication{}, &fakeRepoError{notFound: true}
	}
	return publication, nil
}

func (m *memoryPublications) ExistsByVendorTitle(_ context.Context, vendorID, title string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.items {
		if existing.VendorID == vendorID && existing.Title == title {
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryPublications) CountByVendor(_ context.Context, vendorID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, existing := range m.items {
		if existing.VendorID == vendorID {
			count++
		}
	}
	return count, nil
}

func (m *memoryPublications) ListCatalog(_ context.Context, query repositories.CatalogBucketQuery) (repositories.CatalogBucketPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries = append(m.queries, query)

	var matched []domain.Publication
	for _, item := range m.items {
		if query.Filter.AffiliateOnly && !item.EnableAffiliates {
			continue
		}
		if query.Filter.TitleContains != "" && !textutil.ContainsFold(item.Title, query.Filter.TitleContains) {
			continue
		}
		if query.Filter.CategoryContains != "" && !textutil.ContainsFold(item.Category, query.Filter.CategoryContains) {
			continue
		}
		switch query.Match {
		case repositories.LanguageEquals:
			if item.Language != query.Language {
				continue
			}
		case repositories.LanguageExcludes:
			if item.Language == query.Language {
				continue
			}
		}
		matched = append(matched, item)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	page := repositories.CatalogBucketPage{Total: len(matched)}
	if query.Limit <= 0 || query.Offset >= len(matched) {
		return page, nil
	}
	end := min(query.Offset+query.Limit, len(matched))
	page.Items = append([]domain.Publication(nil), matched[query.Offset:end]...)
	return page, nil
}

type memoryAffiliates struct {
	mu        sync.Mutex
	items     []domain.Affiliate
	createErr error
}

func (m *memoryAffiliates) Create(_ context.Context, affiliate domain.Affiliate, opts repositories.CreateOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	count := 0
	for _, existing := range m.items {
		if existing.MerchantID != affiliate.MerchantID {
			continue
		}
		if existing.PublicationID == affiliate.PublicationID {
			return &fakeRepoError{conflict: true}
		}
		count++
	}
	if opts.Limit > 0 && count >= opts.Limit {
		return repositories.ErrLimitReached
	}
	m.items = append(m.items, affiliate)
	return nil
}

func (m *memoryAffiliates) Exists(_ context.Context, merchantID, publicationID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.items {
		if existing.MerchantID == merchantID && existing.PublicationID == publicationID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryAffiliates) CountByMerchant(_ context.Context, merchantID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, existing := range m.items {
		if existing.MerchantID == merchantID {
			count++
		}
	}
	return count, nil
}

type memoryReviews struct {
	reviews    []domain.Review
	ratingsErr error
	ratingIDs  [][]string
}

func (m *memoryReviews) ListByPublication(_ context.Context, publicationID string) ([]domain.Review, error) {
	var out []domain.Review
	for _, review := range m.reviews {
		if review.PublicationID == publicationID {
			out = append(out, review)
		}
	}
	return out, nil
}

func (m *memoryReviews) AverageRatings(_ context.Context, ids []string) (map[string]float64, error) {
	m.ratingIDs = append(m.ratingIDs, append([]string(nil), ids...))
	if m.ratingsErr != nil {
		return nil, m.ratingsErr
	}
	sums := map[string]float64{}
	counts := map[string]int{}
	for _, review := range m.reviews {
		sums[review.PublicationID] += review.Rating
		counts[review.PublicationID]++
	}
	out := map[string]float64{}
	for _, id := range ids {
		if counts[id] > 0 {
			out[id] = sums[id] / float64(counts[id])
		}
	}
	return out, nil
}

type stubContentJudge struct {
	mu       sync.Mutex
	response string
	err      error
	block    bool
	calls    int
	prompt   string
	attached []Attachment
}

func (s *stubContentJudge) Evaluate(ctx context.Context, prompt string, attachments []Attachment) (string, error) {
	s.mu.Lock()
	s.calls++
	s.prompt = prompt
	s.attached = attachments
	s.mu.Unlock()
	if s.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return s.response, s.err
}

func (s *stubContentJudge) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type captureEvents struct {
	events []DomainEvent
	err    error
}

func (c *captureEvents) PublishEvent(_ context.Context, event DomainEvent) (string, error) {
	if c.err != nil {
		return "", c.err
	}
	c.events = append(c.events, event)
	return "msg-1", nil
}

type captureNotifications struct {
	records []domain.Notification
	err     error
}

func (c *captureNotifications) Insert(_ context.Context, notification domain.Notification) error {
	if c.err != nil {
		return c.err
	}
	c.records = append(c.records, notification)
	return nil
}

type recordingMetrics struct {
	mu          sync.Mutex
	moderation  []string
	submissions []string
	promotions  []string
}

func (r *recordingMetrics) RecordModeration(_ context.Context, outcome string, _ time.Duration) {
	r.mu.Lock()
	r.moderation = append(r.moderation, outcome)
	r.mu.Unlock()
}

func (r *recordingMetrics) RecordSubmission(_ context.Context, outcome string) {
	r.mu.Lock()
	r.submissions = append(r.submissions, outcome)
	r.mu.Unlock()
}

func (r *recordingMetrics) RecordPromotion(_ context.Context, outcome string) {
	r.mu.Lock()
	r.promotions = append(r.promotions, outcome)
	r.mu.Unlock()
}

type stubVerifier struct {
	status domain.SubscriptionStatus
	err    error
	refs   []string
}

func (s *stubVerifier) Verify(_ context.Context, ref string) (domain.SubscriptionStatus, error) {
	s.refs = append(s.refs, ref)
	return s.status, s.err
}

type logEntry struct {
	event  string
	fields map[string]any
}

type captureLog struct {
	mu      sync.Mutex
	entries []logEntry
}

func (c *captureLog) log(_ context.Context, event string, fields map[string]any) {
	c.mu.Lock()
	c.entries = append(c.entries, logEntry{event: event, fields: fields})
	c.mu.Unlock()
}

func (c *captureLog) has(event string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, entry := range c.entries {
		if entry.event == event {
			return true
		}
	}
	return false
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func sequenceIDs(prefix string) func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s_%03d", prefix, n)
	}
}

var errBoom = errors.New("boom")

const approvedReply = "```json\n{\"status\":\"Approved\",\"reason\":\"\"}\n```"
