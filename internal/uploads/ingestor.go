package uploads

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"seedream-proxy/internal/upstream"
)

var ErrTooLarge = errors.New("upload exceeds size limit")

// UnreachableError means the file was stored but its public URL could not be
// fetched back, usually because the externally visible host is wrong.
type UnreachableError struct {
	URL string
	Err error
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("saved but not reachable at %s: %v", e.URL, e.Err)
}

func (e *UnreachableError) Unwrap() error { return e.Err }

type UploadedAsset struct {
	MimeType string
	Size     int
	FileName string
	URL      string
}

type IngestorOptions struct {
	Store    Store
	MaxBytes int
	// Verifier is used for the reachability check. Nil disables it.
	Verifier upstream.Caller
	Logger   *zap.Logger
}

type Ingestor struct {
	store    Store
	maxBytes int
	verifier upstream.Caller
	logger   *zap.Logger
}

func NewIngestor(opts IngestorOptions) *Ingestor {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Ingestor{
		store:    opts.Store,
		maxBytes: opts.MaxBytes,
		verifier: opts.Verifier,
		logger:   opts.Logger,
	}
}

// Ingest decodes a data URL, stores it under a random name and returns the
// public URL it can be fetched from.
func (i *Ingestor) Ingest(ctx context.Context, dataURL, publicBase string) (*UploadedAsset, error) {
	mime, data, err := ParseDataURL(dataURL)
	if err != nil {
		return nil, err
	}
	if i.maxBytes > 0 && len(data) > i.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrTooLarge, len(data), i.maxBytes)
	}

	name := RandomName(ExtensionFor(mime))
	if err := i.store.Put(ctx, name, mime, data); err != nil {
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}

	asset := &UploadedAsset{
		MimeType: mime,
		Size:     len(data),
		FileName: name,
		URL:      i.store.URL(publicBase, name),
	}

	if i.verifier != nil {
		if err := i.verify(ctx, asset.URL); err != nil {
			i.logger.Warn("uploaded file is not reachable",
				zap.String("url", asset.URL),
				zap.Error(err),
			)
			return nil, &UnreachableError{URL: asset.URL, Err: err}
		}
	}

	i.logger.Info("upload stored",
		zap.String("file", name),
		zap.String("mime", mime),
		zap.Int("size", len(data)),
	)
	return asset, nil
}

// verify fetches the URL back with HEAD, falling back to GET for servers that
// reject HEAD.
func (i *Ingestor) verify(ctx context.Context, url string) error {
	_, headErr := i.verifier.Call(ctx, url, upstream.RequestSpec{Method: http.MethodHead}, "upload verify (HEAD)")
	if headErr == nil {
		return nil
	}
	_, getErr := i.verifier.Call(ctx, url, upstream.RequestSpec{Method: http.MethodGet}, "upload verify (GET)")
	return getErr
}

// RandomName returns 32 lowercase hex characters from a v4 UUID plus ext.
func RandomName(ext string) string {
	return strings.ReplaceAll(uuid.New().String(), "-", "") + ext
}

// PublicBase derives the externally visible origin of a request. A configured
// override wins; otherwise forwarding headers are honoured before the
// connection's own scheme and Host.
func PublicBase(r *http.Request, override string) string {
	if override != "" {
		return strings.TrimSuffix(override, "/")
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := firstHeaderValue(r.Header.Get("X-Forwarded-Proto")); proto != "" {
		scheme = proto
	}

	host := r.Host
	if fwd := firstHeaderValue(r.Header.Get("X-Forwarded-Host")); fwd != "" {
		host = fwd
	}
	return scheme + "://" + host
}

func firstHeaderValue(v string) string {
	first, _, _ := strings.Cut(v, ",")
	return strings.TrimSpace(first)
}
