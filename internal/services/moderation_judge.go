package services

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultMaxAssetBytes is the per-asset ceiling applied before moderation.
	DefaultMaxAssetBytes = 10 << 20
	// DefaultModerationTimeout bounds a single judge call.
	DefaultModerationTimeout = 60 * time.Second

	assetDocument = "document"
	assetCover    = "cover"
)

var documentMediaTypes = map[string]struct{}{
	"application/pdf":      {},
	"application/epub+zip": {},
	"application/msword":   {},
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": {},
	"application/vnd.oasis.opendocument.text":                                 {},
	"application/rtf": {},
	"text/rtf":        {},
	"text/plain":      {},
}

// ModerationJudgeDeps bundles collaborators for the moderation judge.
type ModerationJudgeDeps struct {
	Judge         ContentJudge
	Timeout       time.Duration
	MaxAssetBytes int
	Metrics       Metrics
	Clock         func() time.Time
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type moderationJudge struct {
	judge    ContentJudge
	timeout  time.Duration
	maxBytes int
	metrics  Metrics
	now      func() time.Time
	log      func(ctx context.Context, event string, fields map[string]any)
}

// NewModerationJudge wires local asset validation in front of the content judge.
func NewModerationJudge(deps ModerationJudgeDeps) (ModerationJudge, error) {
	if deps.Judge == nil {
		return nil, fmt.Errorf("%w: content judge", ErrDependencyMissing)
	}
	timeout := deps.Timeout
	if timeout <= 0 {
		timeout = DefaultModerationTimeout
	}
	maxBytes := deps.MaxAssetBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxAssetBytes
	}
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &moderationJudge{
		judge:    deps.Judge,
		timeout:  timeout,
		maxBytes: maxBytes,
		metrics:  deps.Metrics,
		now:      now,
		log:      logger,
	}, nil
}

func (m *moderationJudge) Judge(ctx context.Context, req ModerationRequest) (ModerationVerdict, error) {
	if err := m.validateAssets(req); err != nil {
		return ModerationVerdict{}, err
	}

	prompt := BuildModerationPrompt(req)
	attachments := []Attachment{
		{Name: assetDocument, MimeType: mediaType(req.Document.ContentType), Data: req.Document.Data},
		{Name: assetCover, MimeType: mediaType(req.Cover.ContentType), Data: req.Cover.Data},
	}

	callCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	start := m.now()
	raw, err := m.judge.Evaluate(callCtx, prompt, attachments)
	elapsed := m.now().Sub(start)
	if err != nil {
		outcome := "error"
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			outcome = "timeout"
			err = fmt.Errorf("moderation judge timed out after %s: %w", m.timeout, err)
		} else {
			err = fmt.Errorf("moderation judge: %w", err)
		}
		m.record(ctx, outcome, elapsed)
		m.log(ctx, "moderation_judge_failed", map[string]any{"outcome": outcome, "error": err})
		return ModerationVerdict{}, err
	}

	verdict, err := ParseModerationVerdict(raw)
	if err != nil {
		m.record(ctx, "parse_failure", elapsed)
		var parseErr *ModerationParseError
		if errors.As(err, &parseErr) {
			m.log(ctx, "moderation_parse_failed", map[string]any{"detail": parseErr.Detail, "raw": truncate(parseErr.Raw, 2048)})
		}
		return ModerationVerdict{}, err
	}

	if verdict.Status == VerdictNotApproved {
		m.record(ctx, "rejected", elapsed)
		return verdict, &ModerationRejectedError{Reason: verdict.Reason}
	}
	m.record(ctx, "approved", elapsed)
	return verdict, nil
}

func (m *moderationJudge) validateAssets(req ModerationRequest) error {
	if len(req.Document.Data) == 0 {
		return newAssetError(assetDocument, "document file is empty", ErrAssetTypeInvalid)
	}
	if _, ok := documentMediaTypes[mediaType(req.Document.ContentType)]; !ok {
		return newAssetError(assetDocument, "document must be a PDF, EPUB, Word, OpenDocument, RTF or plain text file", ErrAssetTypeInvalid)
	}
	if len(req.Cover.Data) == 0 {
		return newAssetError(assetCover, "cover image is empty", ErrAssetTypeInvalid)
	}
	if !strings.HasPrefix(mediaType(req.Cover.ContentType), "image/") {
		return newAssetError(assetCover, "cover must be an image", ErrAssetTypeInvalid)
	}
	if len(req.Document.Data) > m.maxBytes {
		return newAssetError(assetDocument, "document exceeds "+humanBytes(m.maxBytes), ErrAssetTooLarge)
	}
	if len(req.Cover.Data) > m.maxBytes {
		return newAssetError(assetCover, "cover exceeds "+humanBytes(m.maxBytes), ErrAssetTooLarge)
	}
	return nil
}

func (m *moderationJudge) record(ctx context.Context, outcome string, elapsed time.Duration) {
	if m.metrics != nil {
		m.metrics.RecordModeration(ctx, outcome, elapsed)
	}
}

// BuildModerationPrompt renders the instruction sent to the content judge with the two attachments.
func BuildModerationPrompt(req ModerationRequest) string {
	var b strings.Builder
	b.WriteString("You are reviewing a digital publication submitted to an online marketplace.\n")
	b.WriteString("Two files are attached: the first is the full document, the second is its cover image.\n\n")
	b.WriteString("Submitted metadata:\n")
	fmt.Fprintf(&b, "- Title: %s\n", req.Title)
	fmt.Fprintf(&b, "- Author: %s\n", req.Author)
	fmt.Fprintf(&b, "- Language: %s\n", req.Language)
	fmt.Fprintf(&b, "- Page count: %s\n", strconv.Itoa(req.Pages))
	fmt.Fprintf(&b, "- Description: %s\n\n", req.Description)
	b.WriteString("Run the following checks strictly in order and stop at the first one that fails:\n")
	b.WriteString("1. Metadata consistency: the title, author, language, page count and description match the document and the cover.\n")
	b.WriteString("2. Sexual or harmful content: the document or cover contains no explicit sexual material and no content promoting harm.\n")
	b.WriteString("3. Proprietary markers: there are no registration numbers, watermarks or signatures showing the work belongs to someone else.\n")
	b.WriteString("4. Duplication: based on your knowledge, the work is not a copy or plagiarism of an existing publication.\n")
	b.WriteString("5. Other red flags: there are no malicious links, no leaked personal data and no legal or ethical violations.\n\n")
	b.WriteString("Respond with only a JSON object and no other text, in exactly this shape:\n")
	b.WriteString(`{"status": "Approved" | "Not Approved", "reason": "<string>"}` + "\n")
	b.WriteString("When approved, reason must be an empty string. When not approved, reason must be one concise sentence naming the failed check.\n")
	return b.String()
}

func mediaType(contentType string) string {
	parsed, _, err := mime.ParseMediaType(strings.TrimSpace(contentType))
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return parsed
}

func humanBytes(n int) string {
	if n%(1<<20) == 0 {
		return strconv.Itoa(n>>20) + " MiB"
	}
	return strconv.Itoa(n) + " bytes"
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit]
}
