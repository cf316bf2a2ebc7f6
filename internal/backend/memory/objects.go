package memory

import (
	"context"
	"strings"
	"sync"

	"mentorship/internal/apperr"
)

// Objects is an in-process object store.
type Objects struct {
	mu      sync.RWMutex
	baseURL string
	objects map[string][]byte
}

// NewObjects creates an object store whose public URLs start with baseURL.
func NewObjects(baseURL string) *Objects {
	return &Objects{baseURL: strings.TrimRight(baseURL, "/"), objects: map[string][]byte{}}
}

// UploadObject stores data at bucket/path, replacing any previous object.
func (o *Objects) UploadObject(ctx context.Context, bucket, path string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if bucket == "" || path == "" {
		return "", apperr.Invalid("bucket and path are required")
	}
	o.mu.Lock()
	o.objects[bucket+"/"+path] = append([]byte(nil), data...)
	o.mu.Unlock()
	return path, nil
}

// PublicURL returns the address an object would be served from.
func (o *Objects) PublicURL(bucket, path string) string {
	return o.baseURL + "/" + bucket + "/" + path
}

// Object returns a stored object.
func (o *Objects) Object(bucket, path string) ([]byte, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	data, ok := o.objects[bucket+"/"+path]
	return data, ok
}
