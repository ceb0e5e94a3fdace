package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/google/uuid"
)

// MediaPrefix is the URL path under which stored objects are served.
const MediaPrefix = "/media/"

// Upload is a file received from a client.
type Upload struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

var errTooLarge = errors.New("file too large")

// read buffers the upload, failing with errTooLarge past limit bytes. It
// returns the content and its content type.
func (u Upload) read(limit int64) ([]byte, string, error) {
	if u.Body == nil {
		return nil, "", errors.New("missing file body")
	}
	if u.Size > limit {
		return nil, "", errTooLarge
	}
	data, err := io.ReadAll(io.LimitReader(u.Body, limit+1))
	if err != nil {
		return nil, "", err
	}
	if int64(len(data)) > limit {
		return nil, "", errTooLarge
	}
	head := data
	if len(head) > 512 {
		head = head[:512]
	}
	return data, sniffContentType(u.ContentType, u.Filename, head), nil
}

// putUpload stores data under key.
func putUpload(ctx context.Context, objects ObjectStore, key string, data []byte, contentType string) error {
	if err := objects.Put(ctx, key, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		return fmt.Errorf("store %s: %w", key, err)
	}
	return nil
}

// MediaURLs turns object keys into absolute URLs.
type MediaURLs struct {
	baseURL string
}

func NewMediaURLs(baseURL string) MediaURLs {
	return MediaURLs{baseURL: strings.TrimRight(baseURL, "/")}
}

// URL returns the absolute URL of key, or "" for an empty key.
func (m MediaURLs) URL(key string) string {
	if key == "" {
		return ""
	}
	return m.baseURL + MediaPrefix + key
}

// Ptr is URL returning nil for an empty key.
func (m MediaURLs) Ptr(key string) *string {
	if key == "" {
		return nil
	}
	u := m.URL(key)
	return &u
}

// objectKey builds "{dir}/{uuid}{ext}" keeping the upload's extension.
func objectKey(dir, filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	if len(ext) > 10 {
		ext = ""
	}
	return fmt.Sprintf("%s/%s%s", dir, uuid.NewString(), ext)
}

// sniffContentType prefers the sniffed type of head over the declared one.
func sniffContentType(declared, filename string, head []byte) string {
	if sniffed := http.DetectContentType(head); sniffed != "application/octet-stream" {
		return sniffed
	}
	if declared != "" {
		return declared
	}
	if byExt := mime.TypeByExtension(path.Ext(filename)); byExt != "" {
		return byExt
	}
	return "application/octet-stream"
}

// deleteObjects removes keys best effort, logging failures.
func deleteObjects(ctx context.Context, objects ObjectStore, logger *slog.Logger, keys ...string) {
	for _, key := range keys {
		if key == "" {
			continue
		}
		if err := objects.Delete(ctx, key); err != nil {
			logger.WarnContext(ctx, "delete object failed", "key", key, "error", err)
		}
	}
}
