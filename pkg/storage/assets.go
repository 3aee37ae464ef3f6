package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"
	"time"

	"github.com/harun/mosaic/internal/config"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Kind classifies a stored asset.
type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
)

// ErrInvalidKey is returned for keys that were not minted by an AssetStore.
var ErrInvalidKey = errors.New("storage: invalid asset key")

// Asset describes a stored object.
type Asset struct {
	Key       string    `json:"key"`
	URL       string    `json:"url"`
	MIME      string    `json:"mime"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// AssetStore names, writes and resolves generated assets on a FileStore.
type AssetStore struct {
	files   FileStore
	baseURL string
}

// NewAssetStore wraps files. baseURL prefixes every asset key to form its URL.
func NewAssetStore(files FileStore, baseURL string) *AssetStore {
	return &AssetStore{
		files:   files,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// NewAssetStoreFromConfig builds the configured backend.
func NewAssetStoreFromConfig(cfg config.AssetsConfig) (*AssetStore, error) {
	switch cfg.Backend {
	case "", "local":
		local, err := NewLocal(cfg.Dir)
		if err != nil {
			return nil, err
		}
		base := cfg.PublicBaseURL
		if base == "" {
			base = "/outputs"
		}
		return NewAssetStore(local, base), nil
	case "s3":
		client := NewS3Client(S3Options{
			Region:          cfg.Region,
			Endpoint:        cfg.Endpoint,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
			UsePathStyle:    cfg.UsePathStyle,
		})
		base := cfg.PublicBaseURL
		if base == "" {
			base = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
			if cfg.Prefix != "" {
				base += "/" + strings.Trim(cfg.Prefix, "/")
			}
		}
		return NewAssetStore(NewS3(client, cfg.Bucket, strings.Trim(cfg.Prefix, "/")), base), nil
	default:
		return nil, fmt.Errorf("storage: unknown backend %q", cfg.Backend)
	}
}

// Files returns the underlying FileStore.
func (s *AssetStore) Files() FileStore {
	return s.files
}

// Put stores the content of r under a fresh key like "image_<id>.png".
func (s *AssetStore) Put(ctx context.Context, kind Kind, ext string, r io.Reader) (Asset, error) {
	ext = strings.TrimPrefix(ext, ".")
	if ext == "" {
		return Asset{}, fmt.Errorf("storage: extension is required")
	}

	id, err := gonanoid.Generate("0123456789abcdefghijklmnopqrstuvwxyz", 16)
	if err != nil {
		return Asset{}, fmt.Errorf("storage: generate key: %w", err)
	}
	key := fmt.Sprintf("%s_%s.%s", kind, id, ext)

	w, err := s.files.Write(ctx, key)
	if err != nil {
		return Asset{}, fmt.Errorf("storage: open %s: %w", key, err)
	}
	n, err := io.Copy(w, r)
	if err != nil {
		w.Close()
		s.files.Delete(context.WithoutCancel(ctx), key)
		return Asset{}, fmt.Errorf("storage: write %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return Asset{}, fmt.Errorf("storage: close %s: %w", key, err)
	}

	return Asset{
		Key:       key,
		URL:       s.URL(key),
		MIME:      MIMEType(key),
		Size:      n,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Open reads a previously stored asset.
func (s *AssetStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if !ValidKey(key) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return s.files.Read(ctx, key)
}

// Delete removes a stored asset.
func (s *AssetStore) Delete(ctx context.Context, key string) error {
	if !ValidKey(key) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return s.files.Delete(ctx, key)
}

// URL returns the public URL of key.
func (s *AssetStore) URL(key string) string {
	return s.baseURL + "/" + key
}

// ValidKey reports whether key is a flat asset name without path components.
func ValidKey(key string) bool {
	if key == "" || len(key) > 128 {
		return false
	}
	return !strings.ContainsAny(key, `/\`) && !strings.Contains(key, "..")
}

// MIMEType guesses the content type from the key's extension.
func MIMEType(key string) string {
	i := strings.LastIndexByte(key, '.')
	if i < 0 {
		return "application/octet-stream"
	}
	switch ext := strings.ToLower(key[i:]); ext {
	case ".png":
		return "image/png"
	case ".mp4":
		return "video/mp4"
	default:
		if t := mime.TypeByExtension(ext); t != "" {
			return t
		}
		return "application/octet-stream"
	}
}
