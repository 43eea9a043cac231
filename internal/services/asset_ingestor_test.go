package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/folioshelf/api/internal/platform/storage"
)

type failingStore struct {
	*storage.MemoryStore
	failOn  string
	deleted []string
}

func (f *failingStore) Upload(ctx context.Context, obj storage.Object) (storage.StoredObject, error) {
	if f.failOn != "" && obj.Folder == f.failOn {
		return storage.StoredObject{}, errBoom
	}
	return f.MemoryStore.Upload(ctx, obj)
}

func (f *failingStore) Delete(ctx context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	return f.MemoryStore.Delete(ctx, id)
}

func ingestRequest() IngestRequest {
	req := validModerationRequest()
	return IngestRequest{
		MerchantID:  "m_42",
		Title:       "  Crème   Brûlée: A History ",
		SubmittedAt: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
		Document:    req.Document,
		Cover:       req.Cover,
	}
}

func TestAssetIngestorUploadsCoverPublicAndDocumentPrivate(t *testing.T) {
	store := storage.NewMemoryStore("https://cdn.test")
	ingestor, err := NewAssetIngestor(AssetIngestorDeps{Store: store})
	if err != nil {
		t.Fatalf("new ingestor: %v", err)
	}

	result, err := ingestor.Ingest(context.Background(), ingestRequest())
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}

	if result.Cover.ID != "covers/m_42-creme-brulee-a-history-1740823200.png" {
		t.Fatalf("unexpected cover id %q", result.Cover.ID)
	}
	if result.Cover.URL != "https://cdn.test/"+result.Cover.ID {
		t.Fatalf("unexpected cover url %q", result.Cover.URL)
	}
	cover, ok := store.Get(result.Cover.ID)
	if !ok || cover.Private {
		t.Fatalf("cover should be stored publicly, got %+v", cover)
	}

	if !strings.HasPrefix(result.Document.ID, "documents/m_42-creme-brulee-a-history-") || !strings.HasSuffix(result.Document.ID, ".pdf") {
		t.Fatalf("unexpected document id %q", result.Document.ID)
	}
	document, ok := store.Get(result.Document.ID)
	if !ok || !document.Private || !document.UniqueSuffix {
		t.Fatalf("document should be private with a unique suffix, got %+v", document)
	}
	if document.ContentType != "application/pdf" {
		t.Fatalf("unexpected document content type %q", document.ContentType)
	}
}

func TestAssetIngestorRemovesCoverWhenDocumentFails(t *testing.T) {
	store := &failingStore{MemoryStore: storage.NewMemoryStore(""), failOn: "documents"}
	logs := &captureLog{}
	ingestor, _ := NewAssetIngestor(AssetIngestorDeps{Store: store, Logger: logs.log})

	_, err := ingestor.Ingest(context.Background(), ingestRequest())
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected upload error, got %v", err)
	}
	if len(store.Keys()) != 0 {
		t.Fatalf("cover should have been deleted, remaining %v", store.Keys())
	}
	if len(store.deleted) != 1 || !strings.HasPrefix(store.deleted[0], "covers/") {
		t.Fatalf("expected cover delete, got %v", store.deleted)
	}
}

func TestAssetIngestorRollbackIsIdempotent(t *testing.T) {
	store := &failingStore{MemoryStore: storage.NewMemoryStore("")}
	ingestor, _ := NewAssetIngestor(AssetIngestorDeps{Store: store})

	result, err := ingestor.Ingest(context.Background(), ingestRequest())
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result.Rollback(ctx)
	result.Rollback(ctx)

	if len(store.deleted) != 2 {
		t.Fatalf("expected two deletes, got %v", store.deleted)
	}
	if !strings.HasPrefix(store.deleted[0], "documents/") {
		t.Fatalf("document should be deleted first, got %v", store.deleted)
	}
	if len(store.Keys()) != 0 {
		t.Fatalf("expected empty store, got %v", store.Keys())
	}
}

func TestExtensionForFallsBackToMediaType(t *testing.T) {
	if got := extensionFor(Upload{FileName: "cover", ContentType: "image/png"}); got != ".png" {
		t.Fatalf("expected .png, got %q", got)
	}
	if got := extensionFor(Upload{FileName: "weird.ex$e", ContentType: "application/x-unknown"}); got != "" {
		t.Fatalf("expected no extension, got %q", got)
	}
}
