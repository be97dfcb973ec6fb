// Package storage keeps evidence blobs in object storage and hands out short-lived read URLs.
package storage

import (
	"context"
	"errors"
	"path"
	"strings"
	"time"
)

var ErrObjectNotFound = errors.New("object not found")

// ObjectStore is the evidence blob store. Pointers are opaque to callers.
type ObjectStore interface {
	Store(ctx context.Context, key string, data []byte, contentType string) (string, error)
	SignedURL(ctx context.Context, pointer string, ttl time.Duration) (string, error)
	// Delete removes an object; a missing object is not an error.
	Delete(ctx context.Context, pointer string) error
}

// EvidenceObjectKey lays out evidence as rifts/<transaction>/<asset>/<file>.
func EvidenceObjectKey(transactionId, assetId, fileName string) string {
	name := path.Base(strings.ReplaceAll(strings.TrimSpace(fileName), "\\", "/"))
	if name == "." || name == "/" || name == "" || strings.Contains(name, "..") {
		name = "evidence"
	}
	return path.Join("rifts", transactionId, assetId, name)
}
