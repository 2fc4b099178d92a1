// Package photo stores customer photos on the local filesystem. Uploaded
// images are cropped to a square, scaled down, and re-encoded as JPEG so every
// stored photo has the same shape regardless of what was uploaded.
package photo

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	// DefaultURLPrefix is where stored photos are served from.
	DefaultURLPrefix = "/uploads/customers"
	// DefaultSize is the edge length of stored photos in pixels.
	DefaultSize = 200
	// DefaultQuality is the JPEG quality stored photos are encoded with.
	DefaultQuality = 80
	// MaxUploadBytes bounds how much of an upload is read.
	MaxUploadBytes = 10 << 20
	// MaxPixels bounds the decoded size of an upload.
	MaxPixels = 40_000_000
)

var (
	// ErrInvalidImage is returned when an upload cannot be decoded.
	ErrInvalidImage = errors.New("photo: invalid image")
	// ErrTooLarge is returned when an upload declares more than the allowed
	// number of pixels. It wraps ErrInvalidImage.
	ErrTooLarge = fmt.Errorf("%w: too many pixels", ErrInvalidImage)
	// ErrForeignURL is returned when asked to remove a photo this store did
	// not hand out.
	ErrForeignURL = errors.New("photo: url not managed by this store")
)

// FileStore writes photos below a directory.
type FileStore struct {
	dir       string
	urlPrefix string
	size      int
	quality   int
	maxPixels int64
	logger    *slog.Logger
}

// Option customises a FileStore.
type Option func(*FileStore)

// WithURLPrefix overrides DefaultURLPrefix.
func WithURLPrefix(prefix string) Option {
	return func(s *FileStore) {
		if prefix != "" {
			s.urlPrefix = "/" + strings.Trim(prefix, "/")
		}
	}
}

// WithSize overrides DefaultSize.
func WithSize(size int) Option {
	return func(s *FileStore) {
		if size > 0 {
			s.size = size
		}
	}
}

// WithMaxPixels overrides MaxPixels.
func WithMaxPixels(n int64) Option {
	return func(s *FileStore) {
		if n > 0 {
			s.maxPixels = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *FileStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewFileStore creates dir if needed and returns a store writing into it.
func NewFileStore(dir string, opts ...Option) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("photo: directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("photo: creating %s: %w", dir, err)
	}

	s := &FileStore{
		dir:       dir,
		urlPrefix: DefaultURLPrefix,
		size:      DefaultSize,
		quality:   DefaultQuality,
		maxPixels: MaxPixels,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Dir is the directory photos are written to.
func (s *FileStore) Dir() string {
	return s.dir
}

// URLPrefix is the path photos are served under.
func (s *FileStore) URLPrefix() string {
	return s.urlPrefix
}

// Save decodes r, normalises it, and writes it. The returned URL names
// the file by session and content hash.
func (s *FileStore) Save(ctx context.Context, sessionID string, r io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	encoded, err := s.normalise(io.LimitReader(r, MaxUploadBytes))
	if err != nil {
		return "", err
	}

	sum := blake2b.Sum256(encoded)
	name := fmt.Sprintf("%s-%s.jpg", safeName(sessionID), hex.EncodeToString(sum[:])[:16])

	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("photo: creating temp file: %w", err)
	}
	if _, err := tmp.Write(encoded); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("photo: writing %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("photo: closing %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, name)); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("photo: storing %s: %w", name, err)
	}

	url := path.Join(s.urlPrefix, name)
	s.logger.DebugContext(ctx, "photo stored", "session_id", sessionID, "url", url, "bytes", len(encoded))
	return url, nil
}

// Remove deletes the photo behind url. Removing a photo that is already gone
// succeeds.
func (s *FileStore) Remove(ctx context.Context, url string) error {
	name, ok := strings.CutPrefix(url, s.urlPrefix+"/")
	if !ok || name == "" || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return fmt.Errorf("%w: %s", ErrForeignURL, url)
	}

	if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("photo: removing %s: %w", name, err)
	}
	s.logger.DebugContext(ctx, "photo removed", "url", url)
	return nil
}

// normalise checks the declared dimensions before decoding so the bitmap it
// allocates stays within maxPixels.
func (s *FileStore) normalise(r io.Reader) ([]byte, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("photo: reading upload: %w", err)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: empty image", ErrInvalidImage)
	}
	if int64(cfg.Width)*int64(cfg.Height) > s.maxPixels {
		return nil, fmt.Errorf("%w: %dx%d", ErrTooLarge, cfg.Width, cfg.Height)
	}

	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}

	dst := image.NewRGBA(image.Rect(0, 0, s.size, s.size))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, coverCrop(src.Bounds()), draw.Src, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: s.quality}); err != nil {
		return nil, fmt.Errorf("photo: encoding: %w", err)
	}
	return buf.Bytes(), nil
}

// coverCrop returns the largest centred square inside b.
func coverCrop(b image.Rectangle) image.Rectangle {
	w, h := b.Dx(), b.Dy()
	side := min(w, h)
	x0 := b.Min.X + (w-side)/2
	y0 := b.Min.Y + (h-side)/2
	return image.Rect(x0, y0, x0+side, y0+side)
}

func safeName(id string) string {
	var b strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "photo"
	}
	return b.String()
}
