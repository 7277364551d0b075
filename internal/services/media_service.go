package services

import (
	"context"
	"fmt"
	"path"
	"strings"

	desk_errors "relaydesk/pkg/errors"

	"github.com/google/uuid"
)

// MediaStore is the object store behind staff attachments.
type MediaStore interface {
	PresignPut(ctx context.Context, key, contentType string, sizeBytes int64) (string, map[string]string, error)
	LinkFor(ctx context.Context, key string) (string, error)
}

const maxMediaBytes = 100 << 20

var allowedMediaTypes = map[string]bool{
	"image/jpeg":         true,
	"image/png":          true,
	"image/webp":         true,
	"application/pdf":    true,
	"text/plain":         true,
	"application/msword": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":       true,
}

type MediaService struct {
	store MediaStore
}

func NewMediaService(store MediaStore) *MediaService {
	return &MediaService{store: store}
}

func (s *MediaService) Enabled() bool {
	return s != nil && s.store != nil
}

type PresignInput struct {
	UploaderID  string
	FileName    string
	ContentType string
	FileSize    int64
}

type PresignResult struct {
	UploadURL string            `json:"upload_url"`
	MediaKey  string            `json:"media_key"`
	Headers   map[string]string `json:"headers"`
}

func (s *MediaService) PresignUpload(ctx context.Context, input PresignInput) (PresignResult, error) {
	if !s.Enabled() {
		return PresignResult{}, fmt.Errorf("%w: media storage is not configured", desk_errors.ErrServiceUnavailable)
	}
	if input.UploaderID == "" || input.FileName == "" || input.ContentType == "" || input.FileSize <= 0 {
		return PresignResult{}, fmt.Errorf("%w: file name, content type and size are required", desk_errors.ErrInvalidInput)
	}
	if input.FileSize > maxMediaBytes {
		return PresignResult{}, fmt.Errorf("%w: file exceeds %d bytes", desk_errors.ErrInvalidInput, maxMediaBytes)
	}
	if !allowedMediaTypes[strings.ToLower(input.ContentType)] {
		return PresignResult{}, fmt.Errorf("%w: content type %q not allowed", desk_errors.ErrInvalidInput, input.ContentType)
	}

	key := buildObjectKey(input.UploaderID, input.FileName)
	url, headers, err := s.store.PresignPut(ctx, key, input.ContentType, input.FileSize)
	if err != nil {
		return PresignResult{}, err
	}
	return PresignResult{UploadURL: url, MediaKey: key, Headers: headers}, nil
}

// ResolveLink turns a media key into a URL the provider can fetch.
func (s *MediaService) ResolveLink(ctx context.Context, key string) (string, error) {
	if !s.Enabled() {
		return "", fmt.Errorf("%w: media storage is not configured", desk_errors.ErrServiceUnavailable)
	}
	if !strings.HasPrefix(key, "media/") || strings.Contains(key, "..") {
		return "", fmt.Errorf("%w: unknown media key", desk_errors.ErrInvalidInput)
	}
	return s.store.LinkFor(ctx, key)
}

func buildObjectKey(uploaderID, fileName string) string {
	ext := strings.ToLower(path.Ext(fileName))
	base := fmt.Sprintf("media/%s/%s", sanitizeKeySegment(uploaderID), uuid.NewString())
	if ext == "" {
		return base
	}
	return base + ext
}

func sanitizeKeySegment(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
}
