package service

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/clipforge/api/internal/client"
)

// Artifact categories, used both as URL segments and object key prefixes.
const (
	CategoryPreviews = "previews"
	CategoryExports  = "exports"
)

// Publisher turns a finished local artifact into a URL clients can fetch.
type Publisher interface {
	Publish(ctx context.Context, category, path string) (string, error)
}

// LocalPublisher serves artifacts from the service's own /media routes.
// With an empty base the URL is host-relative.
type LocalPublisher struct {
	publicBase string
}

func NewLocalPublisher(publicBase string) *LocalPublisher {
	return &LocalPublisher{publicBase: publicBase}
}

func (p *LocalPublisher) Publish(_ context.Context, category, path string) (string, error) {
	return fmt.Sprintf("%s/media/%s/%s", p.publicBase, category, filepath.Base(path)), nil
}

// ObjectPublisher uploads artifacts to object storage.
type ObjectPublisher struct {
	storage client.StorageClient
	open    func(path string) (body fileBody, size int64, err error)
}

func NewObjectPublisher(storage client.StorageClient) *ObjectPublisher {
	return &ObjectPublisher{storage: storage, open: openFile}
}

func (p *ObjectPublisher) Publish(ctx context.Context, category, path string) (string, error) {
	body, size, err := p.open(path)
	if err != nil {
		return "", fmt.Errorf("open artifact: %w", err)
	}
	defer body.Close()

	key := category + "/" + filepath.Base(path)
	if err := p.storage.Upload(ctx, key, body, size, contentType(path)); err != nil {
		return "", err
	}
	return p.storage.URL(ctx, key)
}

func contentType(path string) string {
	switch filepath.Ext(path) {
	case ".mp4":
		return "video/mp4"
	case ".zip":
		return "application/zip"
	default:
		return "application/octet-stream"
	}
}
