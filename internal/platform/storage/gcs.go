package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	gcs "cloud.google.com/go/storage"
)

// GCSStore writes objects to a Cloud Storage bucket. Public objects are expected to be served
// through publicBaseURL, which typically fronts the bucket with a CDN.
type GCSStore struct {
	client        *gcs.Client
	bucket        string
	publicBaseURL string
}

// NewGCSStore binds the store to bucket.
func NewGCSStore(client *gcs.Client, bucket, publicBaseURL string) (*GCSStore, error) {
	if client == nil {
		return nil, errors.New("storage: gcs client is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("storage: bucket name is required")
	}
	if strings.TrimSpace(publicBaseURL) == "" {
		publicBaseURL = "https://storage.googleapis.com/" + bucket
	}
	return &GCSStore{client: client, bucket: bucket, publicBaseURL: publicBaseURL}, nil
}

func (s *GCSStore) Upload(ctx context.Context, obj Object) (StoredObject, error) {
	if err := checkObject(obj); err != nil {
		return StoredObject{}, err
	}
	key, err := objectKey(obj)
	if err != nil {
		return StoredObject{}, err
	}

	writer := s.client.Bucket(s.bucket).Object(key).If(gcs.Conditions{DoesNotExist: true}).NewWriter(ctx)
	writer.ContentType = obj.ContentType
	if obj.Private {
		writer.CacheControl = "private, max-age=0"
	} else {
		writer.CacheControl = "public, max-age=86400"
	}
	if _, err := writer.Write(obj.Data); err != nil {
		_ = writer.Close()
		return StoredObject{}, fmt.Errorf("storage: write %s: %w", key, err)
	}
	if err := writer.Close(); err != nil {
		return StoredObject{}, fmt.Errorf("storage: finalize %s: %w", key, err)
	}

	url := publicURL(s.publicBaseURL, key)
	if obj.Private {
		url = fmt.Sprintf("gs://%s/%s", s.bucket, key)
	}
	return StoredObject{ID: key, URL: url}, nil
}

func (s *GCSStore) Delete(ctx context.Context, id string) error {
	err := s.client.Bucket(s.bucket).Object(id).Delete(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return ErrObjectNotFound
	}
	return err
}
