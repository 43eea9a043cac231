package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/folioshelf/api/internal/domain"
	"github.com/folioshelf/api/internal/platform/auth"
	"github.com/folioshelf/api/internal/platform/httpx"
	"github.com/folioshelf/api/internal/platform/idempotency"
	"github.com/folioshelf/api/internal/platform/observability"
	"github.com/folioshelf/api/internal/platform/pagination"
	"github.com/folioshelf/api/internal/services"
)

const (
	// DefaultMaxUploadBytes caps the whole multipart submission.
	DefaultMaxUploadBytes = 25 << 20
	multipartMemory       = 32 << 20
	maxPromoteBodySize    = 4 * 1024

	publishedMessage = "Publication created and listed."
)

// PublicationHandlersConfig carries the collaborators of the /pub routes.
type PublicationHandlersConfig struct {
	Authn          *auth.Authenticator
	Publications   services.PublicationService
	Promotions     services.PromotionService
	Catalog        services.CatalogService
	Paging         pagination.Options
	MaxUploadBytes int64
	// Requests per minute per caller on the two write routes. Zero disables throttling.
	SubmissionsPerMinute int
	PromotionsPerMinute  int
	RateBurst            int
	// Replays retried promotions that carry an Idempotency-Key. Nil disables replay.
	Idempotency idempotency.Store
	Clock       func() time.Time
}

// PublicationHandlers serves catalog reads, submissions and promotions.
type PublicationHandlers struct {
	authn          *auth.Authenticator
	publications   services.PublicationService
	promotions     services.PromotionService
	catalog        services.CatalogService
	paging         pagination.Options
	maxUploadBytes int64
	submitLimiter  rateLimiter
	promoteLimiter rateLimiter
	replay         func(http.Handler) http.Handler
}

// NewPublicationHandlers constructs the handlers.
func NewPublicationHandlers(cfg PublicationHandlersConfig) *PublicationHandlers {
	maxUpload := cfg.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = DefaultMaxUploadBytes
	}
	return &PublicationHandlers{
		authn:          cfg.Authn,
		publications:   cfg.Publications,
		promotions:     cfg.Promotions,
		catalog:        cfg.Catalog,
		paging:         cfg.Paging,
		maxUploadBytes: maxUpload,
		submitLimiter:  newKeyedLimiter(cfg.SubmissionsPerMinute, cfg.RateBurst, cfg.Clock),
		promoteLimiter: newKeyedLimiter(cfg.PromotionsPerMinute, cfg.RateBurst, cfg.Clock),
		replay:         idempotency.Middleware(cfg.Idempotency, idempotency.WithClock(cfg.Clock)),
	}
}

// Routes registers the /pub endpoints.
func (h *PublicationHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/fetch", h.fetch)
	r.Get("/search", h.search)
	r.Get("/filter", h.filter)
	r.Get("/fetch-by-id", h.fetchByID)

	r.Group(func(authed chi.Router) {
		if h.authn != nil {
			authed.Use(h.authn.RequireFirebaseAuth())
		}
		authed.With(rateLimit(h.submitLimiter, "submission")).Post("/add", h.add)
		authed.With(rateLimit(h.promoteLimiter, "promotion"), h.replay).Post("/promote", h.promote)
	})
}

func (h *PublicationHandlers) add(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.publications == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "publication service unavailable", http.StatusServiceUnavailable))
		return
	}

	if r.ContentLength > h.maxUploadBytes {
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", fmt.Sprintf("upload exceeds %d MB", h.maxUploadBytes>>20), http.StatusRequestEntityTooLarge))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", fmt.Sprintf("upload exceeds %d MB", h.maxUploadBytes>>20), http.StatusRequestEntityTooLarge))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request must be multipart/form-data", http.StatusBadRequest))
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	cmd, problems := submitCommandFromForm(r.MultipartForm)
	if len(problems) > 0 {
		httpx.WriteError(ctx, w, httpx.NewValidationError(problems))
		return
	}
	cmd.MerchantID = callerUID(r)
	observability.TagCaller(ctx, cmd.MerchantID)

	if _, err := h.publications.Submit(ctx, cmd); err != nil {
		writePublicationError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, messageResponse{Success: true, Message: publishedMessage})
}

func (h *PublicationHandlers) promote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.promotions == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "promotion service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req promoteRequest
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPromoteBodySize))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		return
	}
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}
	id := strings.TrimSpace(req.ID)
	if id == "" {
		httpx.WriteError(ctx, w, httpx.NewValidationError([]string{"id is required"}))
		return
	}

	merchantID := callerUID(r)
	observability.TagCaller(ctx, merchantID)
	observability.TagPublication(ctx, id)

	affiliate, err := h.promotions.Promote(ctx, services.PromoteCommand{MerchantID: merchantID, PublicationID: id})
	if err != nil {
		writePublicationError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, linkResponse{Success: true, Link: affiliate.Link})
}

type catalogKind int

const (
	catalogList catalogKind = iota
	catalogSearch
	catalogFilter
)

func (h *PublicationHandlers) fetch(w http.ResponseWriter, r *http.Request) {
	h.serveCatalog(w, r, catalogList, "")
}

func (h *PublicationHandlers) search(w http.ResponseWriter, r *http.Request) {
	h.serveCatalog(w, r, catalogSearch, "title")
}

func (h *PublicationHandlers) filter(w http.ResponseWriter, r *http.Request) {
	h.serveCatalog(w, r, catalogFilter, "category")
}

func (h *PublicationHandlers) serveCatalog(w http.ResponseWriter, r *http.Request, kind catalogKind, queryParam string) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}
	values := r.URL.Query()
	params := pagination.FromRequest(r, h.paging)
	req := services.CatalogRequest{
		Language:      strings.TrimSpace(values.Get("language")),
		Page:          params.Page,
		Limit:         params.Limit,
		ForAffiliates: isYes(values.Get("forAffiliates")),
	}
	if queryParam != "" {
		req.Query = strings.TrimSpace(values.Get(queryParam))
		if req.Query == "" {
			httpx.WriteError(ctx, w, httpx.NewValidationError([]string{queryParam + " is required"}))
			return
		}
	}

	var (
		page services.CatalogPage
		err  error
	)
	switch kind {
	case catalogSearch:
		page, err = h.catalog.SearchPublications(ctx, req)
	case catalogFilter:
		page, err = h.catalog.FilterPublications(ctx, req)
	default:
		page, err = h.catalog.ListPublications(ctx, req)
	}
	if err != nil {
		writePublicationError(ctx, w, err)
		return
	}
	resp := catalogResponse{Success: true, Pubs: make([]catalogItem, 0, len(page.Items)), TotalPages: page.TotalPages}
	for _, entry := range page.Items {
		resp.Pubs = append(resp.Pubs, catalogItem{
			ID:         entry.ID,
			Title:      entry.Title,
			Author:     entry.Author,
			Cover:      entry.Cover,
			Price:      entry.Price,
			Discount:   entry.Discount,
			AvgRating:  entry.AvgRating,
			Commission: entry.Commission,
		})
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func (h *PublicationHandlers) fetchByID(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.publications == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "publication service unavailable", http.StatusServiceUnavailable))
		return
	}
	values := r.URL.Query()
	detail, err := h.publications.GetPublication(ctx, strings.TrimSpace(values.Get("id")), services.GetPublicationOptions{
		ForAffiliates: isYes(values.Get("forAffiliates")),
	})
	if err != nil {
		writePublicationError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, detailResponse{Success: true, Pub: buildPublicationPayload(detail)})
}

// submitCommandFromForm maps multipart fields onto the command. Numeric fields that do not
// parse are reported so the client sees every problem at once; range checks happen in the service.
func submitCommandFromForm(form *multipart.Form) (services.SubmitPublicationCommand, []string) {
	var problems []string
	field := func(name string) string {
		if form == nil || len(form.Value[name]) == 0 {
			return ""
		}
		return form.Value[name][0]
	}
	number := func(name string) float64 {
		raw := strings.TrimSpace(field(name))
		if raw == "" {
			return 0
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			problems = append(problems, name+" must be a number")
		}
		return v
	}

	cmd := services.SubmitPublicationCommand{
		Title:            field("title"),
		Author:           field("author"),
		Language:         field("language"),
		Category:         field("category"),
		Description:      field("description"),
		Price:            number("price"),
		Discount:         number("discount"),
		Commission:       number("commission"),
		EnableDownloads:  isYes(field("enableDownloads")),
		EnableAffiliates: isYes(field("enableAffiliates")),
	}
	if raw := strings.TrimSpace(field("pages")); raw != "" {
		pages, err := strconv.Atoi(raw)
		if err != nil {
			problems = append(problems, "pages must be a whole number")
		}
		cmd.Pages = pages
	}

	var err error
	if cmd.Document, err = readUpload(form, "file"); err != nil {
		problems = append(problems, err.Error())
	}
	if cmd.Cover, err = readUpload(form, "cover"); err != nil {
		problems = append(problems, err.Error())
	}
	return cmd, problems
}

// readUpload returns a zero Upload when the part is absent; the service reports it as required.
func readUpload(form *multipart.Form, name string) (services.Upload, error) {
	if form == nil || len(form.File[name]) == 0 {
		return services.Upload{}, nil
	}
	header := form.File[name][0]
	file, err := header.Open()
	if err != nil {
		return services.Upload{}, fmt.Errorf("%s could not be read", name)
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return services.Upload{}, fmt.Errorf("%s could not be read", name)
	}
	return services.Upload{
		FileName:    filepath.Base(header.Filename),
		ContentType: uploadContentType(header, data),
		Data:        data,
	}, nil
}

// uploadContentType trusts the part header unless it is missing or generic, then falls back to
// the file extension and finally to content sniffing.
func uploadContentType(header *multipart.FileHeader, data []byte) string {
	declared := strings.TrimSpace(header.Header.Get("Content-Type"))
	if declared != "" && !strings.HasPrefix(declared, "application/octet-stream") {
		return declared
	}
	if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(header.Filename))); byExt != "" {
		return byExt
	}
	return http.DetectContentType(data)
}

func callerUID(r *http.Request) string {
	if identity, ok := auth.IdentityFromContext(r.Context()); ok {
		return strings.TrimSpace(identity.UID)
	}
	return ""
}

func isYes(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "yes", "true", "1", "on":
		return true
	default:
		return false
	}
}

type promoteRequest struct {
	ID string `json:"id"`
}

type messageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type linkResponse struct {
	Success bool   `json:"success"`
	Link    string `json:"link"`
}

type catalogResponse struct {
	Success    bool          `json:"success"`
	Pubs       []catalogItem `json:"pubs"`
	TotalPages int           `json:"totalPages"`
}

type catalogItem struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	Author     string   `json:"author"`
	Cover      string   `json:"cover"`
	Price      float64  `json:"price"`
	Discount   float64  `json:"discount"`
	AvgRating  float64  `json:"avgRating"`
	Commission *float64 `json:"commission,omitempty"`
}

type detailResponse struct {
	Success bool               `json:"success"`
	Pub     publicationPayload `json:"pub"`
}

type publicationPayload struct {
	ID               string          `json:"id"`
	VendorID         string          `json:"vendorId"`
	Title            string          `json:"title"`
	Author           string          `json:"author"`
	Language         string          `json:"language"`
	Category         string          `json:"category"`
	Pages            int             `json:"pages"`
	Description      string          `json:"description"`
	Cover            string          `json:"cover"`
	Price            float64         `json:"price"`
	Discount         float64         `json:"discount"`
	EnableDownloads  bool            `json:"enableDownloads"`
	EnableAffiliates bool            `json:"enableAffiliates"`
	Commission       *float64        `json:"commission,omitempty"`
	Status           string          `json:"status"`
	CreatedAt        string          `json:"createdAt"`
	Reviews          []reviewPayload `json:"reviews"`
}

type reviewPayload struct {
	ID        string  `json:"id"`
	UserID    string  `json:"userId"`
	Rating    float64 `json:"rating"`
	Comment   string  `json:"comment"`
	CreatedAt string  `json:"createdAt"`
}

func buildPublicationPayload(detail services.PublicationDetail) publicationPayload {
	pub := detail.Publication
	payload := publicationPayload{
		ID:               pub.ID,
		VendorID:         pub.VendorID,
		Title:            pub.Title,
		Author:           pub.Author,
		Language:         pub.Language,
		Category:         pub.Category,
		Pages:            pub.Pages,
		Description:      pub.Description,
		Cover:            pub.Cover.URL,
		Price:            pub.Price,
		Discount:         pub.Discount,
		EnableDownloads:  pub.EnableDownloads,
		EnableAffiliates: pub.EnableAffiliates,
		Status:           string(pub.Status),
		CreatedAt:        formatTime(pub.CreatedAt),
		Reviews:          make([]reviewPayload, 0, len(detail.Reviews)),
	}
	if detail.ForAffiliates {
		commission := pub.Commission
		payload.Commission = &commission
	}
	for _, review := range detail.Reviews {
		payload.Reviews = append(payload.Reviews, buildReviewPayload(review))
	}
	return payload
}

func buildReviewPayload(review domain.Review) reviewPayload {
	return reviewPayload{
		ID:        review.ID,
		UserID:    review.UserID,
		Rating:    review.Rating,
		Comment:   review.Comment,
		CreatedAt: formatTime(review.CreatedAt),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
