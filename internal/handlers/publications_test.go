package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	domain "github.com/folioshelf/api/internal/domain"
	"github.com/folioshelf/api/internal/platform/auth"
	"github.com/folioshelf/api/internal/platform/idempotency"
	"github.com/folioshelf/api/internal/services"
)

type stubPublicationService struct {
	submitted services.SubmitPublicationCommand
	submitErr error
	detail    services.PublicationDetail
	detailErr error
	gotID     string
	gotOpts   services.GetPublicationOptions
}

func (s *stubPublicationService) Submit(_ context.Context, cmd services.SubmitPublicationCommand) (domain.Publication, error) {
	s.submitted = cmd
	if s.submitErr != nil {
		return domain.Publication{}, s.submitErr
	}
	return domain.Publication{ID: "pub_1", Title: cmd.Title}, nil
}

func (s *stubPublicationService) GetPublication(_ context.Context, id string, opts services.GetPublicationOptions) (services.PublicationDetail, error) {
	s.gotID = id
	s.gotOpts = opts
	return s.detail, s.detailErr
}

type stubPromotionService struct {
	cmd   services.PromoteCommand
	err   error
	calls int
}

func (s *stubPromotionService) Promote(_ context.Context, cmd services.PromoteCommand) (domain.Affiliate, error) {
	s.cmd = cmd
	s.calls++
	if s.err != nil {
		return domain.Affiliate{}, s.err
	}
	return domain.Affiliate{ID: "aff_1", Link: "https://folio.test/pub/" + cmd.PublicationID + "?ref=" + cmd.MerchantID}, nil
}

type stubCatalogService struct {
	page   services.CatalogPage
	err    error
	method string
	req    services.CatalogRequest
}

func (s *stubCatalogService) ListPublications(_ context.Context, req services.CatalogRequest) (services.CatalogPage, error) {
	s.method, s.req = "list", req
	return s.page, s.err
}

func (s *stubCatalogService) SearchPublications(_ context.Context, req services.CatalogRequest) (services.CatalogPage, error) {
	s.method, s.req = "search", req
	return s.page, s.err
}

func (s *stubCatalogService) FilterPublications(_ context.Context, req services.CatalogRequest) (services.CatalogPage, error) {
	s.method, s.req = "filter", req
	return s.page, s.err
}

func newTestRouter(cfg PublicationHandlersConfig) http.Handler {
	return NewRouter(WithPublicationRoutes(NewPublicationHandlers(cfg).Routes))
}

func withCaller(req *http.Request, uid string) *http.Request {
	return req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: uid}))
}

func multipartSubmission(t *testing.T, fields map[string]string, withFiles bool) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	if withFiles {
		part := func(field, name, contentType string, data []byte) {
			h := make(textproto.MIMEHeader)
			h.Set("Content-Disposition", `form-data; name="`+field+`"; filename="`+name+`"`)
			if contentType != "" {
				h.Set("Content-Type", contentType)
			}
			w, err := mw.CreatePart(h)
			if err != nil {
				t.Fatalf("create part: %v", err)
			}
			_, _ = w.Write(data)
		}
		part("file", "book.pdf", "application/pdf", []byte("%PDF-1.7 body"))
		part("cover", "cover.png", "", []byte("\x89PNG\r\n\x1a\n"))
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &body, mw.FormDataContentType()
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body %q: %v", rr.Body.String(), err)
	}
	return body
}

func TestAddPublicationMapsMultipartForm(t *testing.T) {
	pubs := &stubPublicationService{}
	router := newTestRouter(PublicationHandlersConfig{Publications: pubs})

	body, contentType := multipartSubmission(t, map[string]string{
		"title":            "Atlas of Tides",
		"author":           "M. Reyes",
		"language":         "en",
		"category":         "Science",
		"pages":            "212",
		"description":      "A survey.",
		"price":            "12.5",
		"discount":         "10",
		"enableDownloads":  "yes",
		"enableAffiliates": "true",
		"commission":       "15",
	}, true)
	req := withCaller(httptest.NewRequest(http.MethodPost, "/pub/add", body), "m_42")
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	resp := decodeBody(t, rr)
	if resp["success"] != true || resp["message"] != publishedMessage {
		t.Fatalf("unexpected body %v", resp)
	}

	cmd := pubs.submitted
	if cmd.MerchantID != "m_42" || cmd.Title != "Atlas of Tides" || cmd.Pages != 212 {
		t.Fatalf("unexpected command %+v", cmd)
	}
	if cmd.Price != 12.5 || cmd.Discount != 10 || cmd.Commission != 15 {
		t.Fatalf("numeric fields not parsed: %+v", cmd)
	}
	if !cmd.EnableDownloads || !cmd.EnableAffiliates {
		t.Fatalf("flags not parsed: %+v", cmd)
	}
	if cmd.Document.ContentType != "application/pdf" || cmd.Document.FileName != "book.pdf" {
		t.Fatalf("unexpected document %+v", cmd.Document)
	}
	if cmd.Cover.ContentType != "image/png" {
		t.Fatalf("expected cover type from extension, got %q", cmd.Cover.ContentType)
	}
}

func TestAddPublicationReportsUnparsableNumbers(t *testing.T) {
	pubs := &stubPublicationService{}
	router := newTestRouter(PublicationHandlersConfig{Publications: pubs})

	body, contentType := multipartSubmission(t, map[string]string{"pages": "many", "price": "free"}, true)
	req := withCaller(httptest.NewRequest(http.MethodPost, "/pub/add", body), "m_42")
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	errs, _ := decodeBody(t, rr)["errors"].([]any)
	if len(errs) != 2 {
		t.Fatalf("expected two field errors, got %v", errs)
	}
	if pubs.submitted.Title != "" {
		t.Fatal("service should not be called")
	}
}

func TestAddPublicationRejectsOversizedUpload(t *testing.T) {
	router := newTestRouter(PublicationHandlersConfig{Publications: &stubPublicationService{}, MaxUploadBytes: 64})

	body, contentType := multipartSubmission(t, map[string]string{"description": strings.Repeat("x", 256)}, true)
	req := withCaller(httptest.NewRequest(http.MethodPost, "/pub/add", body), "m_42")
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rr.Code)
	}
}

func TestAddPublicationErrorMapping(t *testing.T) {
	cases := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{"validation", &services.ValidationError{Messages: []string{"title is required"}}, http.StatusBadRequest, ""},
		{"unauthorized", services.ErrUnauthorized, http.StatusUnauthorized, "authentication required"},
		{"quota", &services.QuotaExceededError{Tier: domain.PlanStarter, Kind: services.QuotaListing, Limit: 5}, http.StatusBadRequest, "starter plan allows at most 5 listings; upgrade your plan to add more"},
		{"duplicate", &services.DuplicateEntityError{Entity: "publication"}, http.StatusBadRequest, "a publication with this title already exists in your catalog"},
		{"asset type", services.ErrAssetTypeInvalid, http.StatusBadRequest, ""},
		{"asset size", services.ErrAssetTooLarge, http.StatusRequestEntityTooLarge, ""},
		{"rejected", &services.ModerationRejectedError{Reason: "Cover shows a watermark."}, http.StatusBadRequest, "Cover shows a watermark."},
		{"unparsable", &services.ModerationParseError{Raw: "garbage", Detail: "no json"}, http.StatusInternalServerError, moderationUnavailableMessage},
		{"not found", &services.NotFoundError{Entity: "merchant", ID: "m_42"}, http.StatusNotFound, "merchant not found"},
		{"unknown", errors.New("firestore: deadline"), http.StatusInternalServerError, "internal server error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := newTestRouter(PublicationHandlersConfig{Publications: &stubPublicationService{submitErr: tc.err}})
			body, contentType := multipartSubmission(t, map[string]string{"title": "Atlas"}, true)
			req := withCaller(httptest.NewRequest(http.MethodPost, "/pub/add", body), "m_42")
			req.Header.Set("Content-Type", contentType)
			rr := httptest.NewRecorder()

			router.ServeHTTP(rr, req)

			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			resp := decodeBody(t, rr)
			if resp["success"] != false {
				t.Fatalf("expected success=false, got %v", resp)
			}
			if tc.message != "" && resp["message"] != tc.message {
				t.Fatalf("expected message %q, got %v", tc.message, resp["message"])
			}
		})
	}
}

func TestFetchCatalogShapesListing(t *testing.T) {
	commission := 12.0
	catalog := &stubCatalogService{page: services.CatalogPage{
		Items: []services.CatalogEntry{
			{ID: "pub_1", Title: "Atlas", Author: "A", Cover: "https://cdn/c.png", Price: 9, Discount: 0, AvgRating: 4.5, Commission: &commission},
		},
		TotalPages: 3,
	}}
	router := newTestRouter(PublicationHandlersConfig{Catalog: catalog})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/pub/fetch?language=en&page=2&limit=5&forAffiliates=yes", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if catalog.method != "list" {
		t.Fatalf("expected list, got %s", catalog.method)
	}
	if catalog.req.Page != 2 || catalog.req.Limit != 5 || catalog.req.Language != "en" || !catalog.req.ForAffiliates {
		t.Fatalf("unexpected request %+v", catalog.req)
	}
	var resp struct {
		Success    bool             `json:"success"`
		Pubs       []map[string]any `json:"pubs"`
		TotalPages int              `json:"totalPages"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Success || resp.TotalPages != 3 || len(resp.Pubs) != 1 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.Pubs[0]["avgRating"] != 4.5 || resp.Pubs[0]["commission"] != 12.0 {
		t.Fatalf("unexpected listing %v", resp.Pubs[0])
	}
}

func TestCatalogOmitsCommissionAndReturnsEmptyList(t *testing.T) {
	catalog := &stubCatalogService{page: services.CatalogPage{Items: []services.CatalogEntry{}}}
	router := newTestRouter(PublicationHandlersConfig{Catalog: catalog})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/pub/filter?category=History", nil))

	if catalog.method != "filter" || catalog.req.Query != "History" {
		t.Fatalf("unexpected call %s %+v", catalog.method, catalog.req)
	}
	if !strings.Contains(rr.Body.String(), `"pubs":[]`) || !strings.Contains(rr.Body.String(), `"totalPages":0`) {
		t.Fatalf("expected empty page, got %s", rr.Body.String())
	}
}

func TestSearchRequiresTitle(t *testing.T) {
	catalog := &stubCatalogService{}
	router := newTestRouter(PublicationHandlersConfig{Catalog: catalog})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/pub/search?title=%20", nil))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if catalog.method != "" {
		t.Fatal("catalog should not be queried")
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/pub/search?title=atl", nil))
	if catalog.method != "search" || catalog.req.Query != "atl" {
		t.Fatalf("unexpected call %s %+v", catalog.method, catalog.req)
	}
}

func TestFetchByIDIncludesReviewsAndCommission(t *testing.T) {
	created := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	pubs := &stubPublicationService{detail: services.PublicationDetail{
		Publication: domain.Publication{ID: "pub_1", Title: "Atlas", Commission: 20, Cover: domain.AssetRef{URL: "https://cdn/c.png"}, CreatedAt: created},
		Reviews:     []domain.Review{{ID: "rev_1", UserID: "u_1", Rating: 5, Comment: "Great", CreatedAt: created}},
	}}
	router := newTestRouter(PublicationHandlersConfig{Publications: pubs})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/pub/fetch-by-id?id=pub_1", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if pubs.gotID != "pub_1" || pubs.gotOpts.ForAffiliates {
		t.Fatalf("unexpected lookup %s %+v", pubs.gotID, pubs.gotOpts)
	}
	pub, _ := decodeBody(t, rr)["pub"].(map[string]any)
	if _, ok := pub["commission"]; ok {
		t.Fatalf("commission should be hidden outside the affiliate catalog: %v", pub)
	}
	if reviews, _ := pub["reviews"].([]any); len(reviews) != 1 {
		t.Fatalf("expected one review, got %v", pub["reviews"])
	}
	if pub["cover"] != "https://cdn/c.png" || pub["createdAt"] != "2025-03-01T09:00:00Z" {
		t.Fatalf("unexpected pub %v", pub)
	}

	pubs.detail.ForAffiliates = true
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/pub/fetch-by-id?id=pub_1&forAffiliates=yes", nil))
	pub, _ = decodeBody(t, rr)["pub"].(map[string]any)
	if !pubs.gotOpts.ForAffiliates || pub["commission"] != 20.0 {
		t.Fatalf("expected commission for affiliates, got %v", pub)
	}
}

func TestFetchByIDNotFound(t *testing.T) {
	pubs := &stubPublicationService{detailErr: &services.NotFoundError{Entity: "publication", ID: "pub_x"}}
	router := newTestRouter(PublicationHandlersConfig{Publications: pubs})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/pub/fetch-by-id?id=pub_x", nil))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestPromoteReturnsLink(t *testing.T) {
	promos := &stubPromotionService{}
	router := newTestRouter(PublicationHandlersConfig{Promotions: promos})

	req := withCaller(httptest.NewRequest(http.MethodPost, "/pub/promote", strings.NewReader(`{"id":" pub_9 "}`)), "m_7")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if promos.cmd.MerchantID != "m_7" || promos.cmd.PublicationID != "pub_9" {
		t.Fatalf("unexpected command %+v", promos.cmd)
	}
	if link := decodeBody(t, rr)["link"]; link != "https://folio.test/pub/pub_9?ref=m_7" {
		t.Fatalf("unexpected link %v", link)
	}
}

func TestPromoteReplaysRetriedKey(t *testing.T) {
	promos := &stubPromotionService{}
	router := newTestRouter(PublicationHandlersConfig{Promotions: promos, Idempotency: idempotency.NewMemoryStore()})

	send := func() *httptest.ResponseRecorder {
		req := withCaller(httptest.NewRequest(http.MethodPost, "/pub/promote", strings.NewReader(`{"id":"pub_9"}`)), "m_7")
		req.Header.Set(idempotency.HeaderName, "promo-retry-1")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		return rr
	}
	first := send()
	second := send()

	if promos.calls != 1 {
		t.Fatalf("expected one promotion, got %d", promos.calls)
	}
	if second.Code != http.StatusCreated || second.Header().Get(idempotency.ReplayHeader) != "true" {
		t.Fatalf("expected replayed 201, got %d headers %v", second.Code, second.Header())
	}
	if first.Body.String() != second.Body.String() {
		t.Fatalf("replayed body differs: %s vs %s", first.Body.String(), second.Body.String())
	}
}

func TestPromoteValidatesBody(t *testing.T) {
	router := newTestRouter(PublicationHandlersConfig{Promotions: &stubPromotionService{}})

	for body, status := range map[string]int{
		`{"id":""}`: http.StatusBadRequest,
		`not json`:  http.StatusBadRequest,
	} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, withCaller(httptest.NewRequest(http.MethodPost, "/pub/promote", strings.NewReader(body)), "m_7"))
		if rr.Code != status {
			t.Fatalf("body %q: expected %d, got %d", body, status, rr.Code)
		}
	}
}

func TestPromoteIsRateLimited(t *testing.T) {
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	router := newTestRouter(PublicationHandlersConfig{
		Promotions:          &stubPromotionService{},
		PromotionsPerMinute: 1,
		RateBurst:           1,
		Clock:               func() time.Time { return now },
	})

	send := func(uid string) int {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, withCaller(httptest.NewRequest(http.MethodPost, "/pub/promote", strings.NewReader(`{"id":"pub_1"}`)), uid))
		return rr.Code
	}
	if code := send("m_1"); code != http.StatusCreated {
		t.Fatalf("first request: expected 201, got %d", code)
	}
	if code := send("m_1"); code != http.StatusTooManyRequests {
		t.Fatalf("second request: expected 429, got %d", code)
	}
	if code := send("m_2"); code != http.StatusCreated {
		t.Fatalf("other caller: expected 201, got %d", code)
	}
}
