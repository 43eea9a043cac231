package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/oklog/ulid/v2"
)

var (
	// ErrObjectNotFound is returned by Delete when the backend has no such object.
	ErrObjectNotFound = errors.New("storage: object not found")
	errEmptyObject    = errors.New("storage: object data is empty")
)

// Object is a single upload request.
type Object struct {
	Folder       string
	Name         string
	ContentType  string
	Data         []byte
	Private      bool
	UniqueSuffix bool
}

// StoredObject identifies an uploaded object. ID is opaque to callers and is accepted by Delete.
type StoredObject struct {
	ID  string
	URL string
}

// ObjectStore is the contract every storage backend satisfies.
type ObjectStore interface {
	Upload(ctx context.Context, obj Object) (StoredObject, error)
	Delete(ctx context.Context, id string) error
}

var suffixSource = func() string {
	return strings.ToLower(ulid.Make().String())
}

// objectKey joins folder and name, appending a unique suffix when requested.
func objectKey(obj Object) (string, error) {
	name, err := validateFileName(obj.Name)
	if err != nil {
		return "", err
	}
	if obj.UniqueSuffix {
		name = insertSuffix(name, suffixSource())
	}
	folder := strings.Trim(strings.TrimSpace(obj.Folder), "/")
	if folder == "" {
		return name, nil
	}
	for _, segment := range strings.Split(folder, "/") {
		if _, err := validateSegment("folder", segment); err != nil {
			return "", err
		}
	}
	return folder + "/" + name, nil
}

// insertSuffix places suffix before the extension so content sniffing by name still works.
func insertSuffix(name, suffix string) string {
	if idx := strings.LastIndex(name, "."); idx > 0 {
		return fmt.Sprintf("%s-%s%s", name[:idx], suffix, name[idx:])
	}
	return name + "-" + suffix
}

func checkObject(obj Object) error {
	if len(obj.Data) == 0 {
		return errEmptyObject
	}
	return nil
}

func publicURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + key
}
