package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
)

const (
	cloudinaryImage = "image"
	cloudinaryRaw   = "raw"
)

// CloudinaryStore uploads covers with public delivery and documents with authenticated delivery.
// IDs take the form "<resource>/<delivery>/<public id>" so Delete can address the asset.
type CloudinaryStore struct {
	cld *cloudinary.Cloudinary
}

// NewCloudinaryStore builds a store from a cloudinary:// URL.
func NewCloudinaryStore(cloudinaryURL string) (*CloudinaryStore, error) {
	if strings.TrimSpace(cloudinaryURL) == "" {
		return nil, errors.New("storage: cloudinary url is required")
	}
	cld, err := cloudinary.NewFromURL(cloudinaryURL)
	if err != nil {
		return nil, fmt.Errorf("storage: cloudinary init: %w", err)
	}
	return NewCloudinaryStoreFromClient(cld), nil
}

// NewCloudinaryStoreFromClient wraps an existing client.
func NewCloudinaryStoreFromClient(cld *cloudinary.Cloudinary) *CloudinaryStore {
	return &CloudinaryStore{cld: cld}
}

func (s *CloudinaryStore) Upload(ctx context.Context, obj Object) (StoredObject, error) {
	if err := checkObject(obj); err != nil {
		return StoredObject{}, err
	}
	key, err := objectKey(obj)
	if err != nil {
		return StoredObject{}, err
	}

	delivery := api.Upload
	if obj.Private {
		delivery = api.Authenticated
	}

	// The SDK posts to /auto/upload, so the resource type is whatever Cloudinary detects.
	result, err := s.cld.Upload.Upload(ctx, bytes.NewReader(obj.Data), uploader.UploadParams{
		PublicID:  key,
		Overwrite: api.Bool(false),
		Type:      delivery,
	})
	if err != nil {
		return StoredObject{}, fmt.Errorf("storage: cloudinary upload %s: %w", key, err)
	}
	if result.Error.Message != "" {
		return StoredObject{}, fmt.Errorf("storage: cloudinary upload %s: %s", key, result.Error.Message)
	}
	return StoredObject{
		ID:  cloudinaryID(result, obj, key, string(delivery)),
		URL: result.SecureURL,
	}, nil
}

// cloudinaryID records the resource and delivery types Cloudinary assigned; Destroy must use the same pair.
func cloudinaryID(result *uploader.UploadResult, obj Object, key, delivery string) string {
	resource := strings.TrimSpace(result.ResourceType)
	if resource == "" {
		resource = cloudinaryRaw
		if strings.HasPrefix(obj.ContentType, "image/") {
			resource = cloudinaryImage
		}
	}
	if t := strings.TrimSpace(result.Type); t != "" {
		delivery = t
	}
	publicID := result.PublicID
	if publicID == "" {
		publicID = key
	}
	return fmt.Sprintf("%s/%s/%s", resource, delivery, publicID)
}

func (s *CloudinaryStore) Delete(ctx context.Context, id string) error {
	parts := strings.SplitN(id, "/", 3)
	if len(parts) != 3 {
		return fmt.Errorf("storage: malformed cloudinary id %q", id)
	}
	result, err := s.cld.Upload.Destroy(ctx, uploader.DestroyParams{
		PublicID:     parts[2],
		ResourceType: parts[0],
		Type:         parts[1],
	})
	if err != nil {
		return fmt.Errorf("storage: cloudinary destroy %s: %w", id, err)
	}
	switch result.Result {
	case "ok":
		return nil
	case "not found":
		return ErrObjectNotFound
	default:
		return fmt.Errorf("storage: cloudinary destroy %s: %s %s", id, result.Result, result.Error.Message)
	}
}
