package services

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	domain "github.com/folioshelf/api/internal/domain"
	"github.com/folioshelf/api/internal/repositories"
)

var notificationTemplates = template.Must(template.New("notifications").Parse(`
{{- define "listed" -}}
<p>Your publication <strong>{{.Title}}</strong> by {{.Author}} passed review and is now listed in the catalog.</p>
{{- end -}}
{{- define "promoted" -}}
<p>You are now promoting <strong>{{.Title}}</strong>.</p><p>Share your link: <a href="{{.Link}}">{{.Link}}</a></p>
{{- end -}}
`))

// NotifierDeps bundles collaborators for the notification record writer.
type NotifierDeps struct {
	Notifications repositories.NotificationRepository
	Clock         func() time.Time
	IDGenerator   func() string
}

type recordNotifier struct {
	repo   repositories.NotificationRepository
	now    func() time.Time
	newID  func() string
	policy *bluemonday.Policy
}

// NewNotifier persists in-app notification records rendered from fixed templates.
func NewNotifier(deps NotifierDeps) (Notifier, error) {
	if deps.Notifications == nil {
		return nil, fmt.Errorf("%w: notification repository", ErrDependencyMissing)
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := deps.IDGenerator
	if newID == nil {
		newID = func() string { return newPrefixedID("ntf") }
	}
	policy := bluemonday.UGCPolicy()
	policy.RequireNoFollowOnLinks(true)
	return &recordNotifier{
		repo:   deps.Notifications,
		now:    func() time.Time { return clock().UTC() },
		newID:  newID,
		policy: policy,
	}, nil
}

func (n *recordNotifier) PublicationListed(ctx context.Context, merchant domain.Merchant, publication domain.Publication) error {
	body, err := n.render("listed", map[string]string{
		"Title":  publication.Title,
		"Author": publication.Author,
	})
	if err != nil {
		return err
	}
	return n.insert(ctx, merchant, "Your publication is live", body)
}

func (n *recordNotifier) PromotionCreated(ctx context.Context, merchant domain.Merchant, affiliate domain.Affiliate) error {
	body, err := n.render("promoted", map[string]string{
		"Title": affiliate.Title,
		"Link":  affiliate.Link,
	})
	if err != nil {
		return err
	}
	return n.insert(ctx, merchant, "Promotion link created", body)
}

func (n *recordNotifier) render(name string, data map[string]string) (string, error) {
	var buf bytes.Buffer
	if err := notificationTemplates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render notification %s: %w", name, err)
	}
	return n.policy.Sanitize(buf.String()), nil
}

func (n *recordNotifier) insert(ctx context.Context, merchant domain.Merchant, subject, body string) error {
	userID := strings.TrimSpace(merchant.UserID)
	if userID == "" {
		userID = merchant.ID
	}
	return n.repo.Insert(ctx, domain.Notification{
		ID:        n.newID(),
		UserID:    userID,
		Subject:   subject,
		Body:      body,
		CreatedAt: n.now(),
	})
}
