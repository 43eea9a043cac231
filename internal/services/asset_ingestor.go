package services

import (
	"context"
	"fmt"
	"mime"
	"path"
	"strings"
	"sync"
	"time"

	domain "github.com/folioshelf/api/internal/domain"
	"github.com/folioshelf/api/internal/platform/storage"
)

const (
	defaultCoverFolder    = "covers"
	defaultDocumentFolder = "documents"
	rollbackTimeout       = 15 * time.Second
)

// AssetIngestorDeps bundles collaborators for the asset ingestor.
type AssetIngestorDeps struct {
	Store          storage.ObjectStore
	CoverFolder    string
	DocumentFolder string
	Logger         func(ctx context.Context, event string, fields map[string]any)
}

type assetIngestor struct {
	store          storage.ObjectStore
	coverFolder    string
	documentFolder string
	log            func(ctx context.Context, event string, fields map[string]any)
}

// NewAssetIngestor wires the upload saga over an object store.
func NewAssetIngestor(deps AssetIngestorDeps) (AssetIngestor, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("%w: object store", ErrDependencyMissing)
	}
	coverFolder := strings.TrimSpace(deps.CoverFolder)
	if coverFolder == "" {
		coverFolder = defaultCoverFolder
	}
	documentFolder := strings.TrimSpace(deps.DocumentFolder)
	if documentFolder == "" {
		documentFolder = defaultDocumentFolder
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &assetIngestor{
		store:          deps.Store,
		coverFolder:    coverFolder,
		documentFolder: documentFolder,
		log:            logger,
	}, nil
}

// Ingest uploads the cover, then the document. When the document upload fails the cover is
// deleted before the error is returned.
func (a *assetIngestor) Ingest(ctx context.Context, req IngestRequest) (IngestResult, error) {
	coverName, err := storage.BuildCoverName(req.MerchantID, req.Title, req.SubmittedAt)
	if err != nil {
		return IngestResult{}, err
	}
	documentName, err := storage.BuildDocumentName(req.MerchantID, NormalizeTitle(req.Title))
	if err != nil {
		return IngestResult{}, err
	}

	saga := &uploadSaga{store: a.store, log: a.log}

	cover, err := a.store.Upload(ctx, storage.Object{
		Folder:      a.coverFolder,
		Name:        coverName + extensionFor(req.Cover),
		ContentType: mediaType(req.Cover.ContentType),
		Data:        req.Cover.Data,
	})
	if err != nil {
		return IngestResult{}, fmt.Errorf("upload cover: %w", err)
	}
	saga.completed(cover.ID)

	document, err := a.store.Upload(ctx, storage.Object{
		Folder:       a.documentFolder,
		Name:         documentName + extensionFor(req.Document),
		ContentType:  mediaType(req.Document.ContentType),
		Data:         req.Document.Data,
		Private:      true,
		UniqueSuffix: true,
	})
	if err != nil {
		saga.Rollback(ctx)
		return IngestResult{}, fmt.Errorf("upload document: %w", err)
	}
	saga.completed(document.ID)

	return IngestResult{
		Cover:    domain.AssetRef{ID: cover.ID, URL: cover.URL},
		Document: domain.AssetRef{ID: document.ID, URL: document.URL},
		Rollback: saga.Rollback,
	}, nil
}

// uploadSaga records completed uploads so later failures can compensate.
type uploadSaga struct {
	store storage.ObjectStore
	log   func(ctx context.Context, event string, fields map[string]any)

	mu  sync.Mutex
	ids []string
}

func (s *uploadSaga) completed(id string) {
	s.mu.Lock()
	s.ids = append(s.ids, id)
	s.mu.Unlock()
}

// Rollback deletes recorded uploads newest first. It detaches from ctx cancellation so a
// cancelled request still cleans up.
func (s *uploadSaga) Rollback(ctx context.Context) {
	s.mu.Lock()
	ids := s.ids
	s.ids = nil
	s.mu.Unlock()
	if len(ids) == 0 {
		return
	}

	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
	defer cancel()
	for i := len(ids) - 1; i >= 0; i-- {
		if err := s.store.Delete(cleanupCtx, ids[i]); err != nil {
			s.log(ctx, "asset_rollback_failed", map[string]any{"objectId": ids[i], "error": err})
			continue
		}
		s.log(ctx, "asset_rolled_back", map[string]any{"objectId": ids[i]})
	}
}

// extensionFor keeps a short alphanumeric extension from the upload's file name, or derives
// one from its media type.
func extensionFor(upload Upload) string {
	ext := strings.ToLower(path.Ext(strings.TrimSpace(upload.FileName)))
	if isSimpleExtension(ext) {
		return ext
	}
	if exts, err := mime.ExtensionsByType(mediaType(upload.ContentType)); err == nil {
		for _, candidate := range exts {
			if isSimpleExtension(candidate) {
				return candidate
			}
		}
	}
	return ""
}

func isSimpleExtension(ext string) bool {
	if len(ext) < 2 || len(ext) > 8 || ext[0] != '.' {
		return false
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}
