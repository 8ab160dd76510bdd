package workers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"

	"tunishome/identity"
	"tunishome/models"
	"tunishome/storage"
)

const (
	maxImageSize      = 20 << 20
	maxMirrorAttempts = 3
)

// MediaWorker mirrors listing images into object storage, keyed by content hash.
type MediaWorker struct {
	store      storage.ImageStore
	uploader   storage.ObjectStore
	httpClient *http.Client
	pause      time.Duration
	trigger    chan struct{}
}

func NewMediaWorker(store storage.ImageStore, uploader storage.ObjectStore, client *http.Client) *MediaWorker {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &MediaWorker{
		store:      store,
		uploader:   uploader,
		httpClient: client,
		pause:      200 * time.Millisecond,
		trigger:    make(chan struct{}, 1),
	}
}

type MediaProcessResult struct {
	StorageKey  string
	ContentHash string
	Size        int64
}

// Process downloads one image, hashes it and uploads it under its content key.
func (w *MediaWorker) Process(ctx context.Context, img *models.PropertyImage) (*MediaProcessResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, img.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")
	req.Header.Set("Accept", "image/*,*/*")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download status: %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageSize))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty body")
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	hash := identity.ContentHash(data)
	key := storage.ImageKey(hash, guessExtension(img.URL, contentType))

	if err := w.uploader.Upload(ctx, key, bytes.NewReader(data), contentType); err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}
	return &MediaProcessResult{StorageKey: key, ContentHash: hash, Size: int64(len(data))}, nil
}

func guessExtension(rawURL, contentType string) string {
	p := rawURL
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	ext := strings.ToLower(path.Ext(p))
	if isImageExt(ext) {
		if ext == ".jpeg" {
			return ".jpg"
		}
		return ext
	}

	mediaType, _, _ := mime.ParseMediaType(contentType)
	switch mediaType {
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}

func isImageExt(ext string) bool {
	switch ext {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp", ".bmp":
		return true
	}
	return false
}

// Run mirrors pending images every interval until ctx ends.
func (w *MediaWorker) Run(ctx context.Context, batchSize int, interval time.Duration) {
	loop(ctx, "media", interval, w.trigger, func(ctx context.Context) {
		w.ProcessBatch(ctx, batchSize)
	})
}

func (w *MediaWorker) Trigger() {
	wake(w.trigger)
}

// ProcessBatch returns how many images were mirrored and how many failed this pass.
func (w *MediaWorker) ProcessBatch(ctx context.Context, batchSize int) (mirrored, failed int) {
	images, err := w.store.ListPendingImages(ctx, batchSize)
	if err != nil {
		slog.Error("media worker: list pending images", "err", err)
		return 0, 0
	}
	if len(images) == 0 {
		return 0, 0
	}
	slog.Info("media worker: processing", "images", len(images))

	for i := range images {
		if ctx.Err() != nil {
			break
		}
		img := &images[i]

		res, err := w.Process(ctx, img)
		if err != nil {
			failed++
			attempts := img.Attempts + 1
			status := models.MirrorStatusPending
			if attempts >= maxMirrorAttempts {
				status = models.MirrorStatusFailed
			}
			slog.Warn("media worker: mirror failed", "url", img.URL, "attempt", attempts, "err", err)
			if err := w.store.MarkImageAttempt(ctx, img.ID, attempts, status); err != nil {
				slog.Error("media worker: record attempt", "image", img.ID, "err", err)
			}
			continue
		}

		if err := w.store.MarkImageMirrored(ctx, img.ID, res.StorageKey, res.ContentHash); err != nil {
			slog.Error("media worker: mark mirrored", "image", img.ID, "err", err)
			failed++
			continue
		}
		mirrored++
		slog.Debug("media worker: mirrored", "url", img.URL, "key", res.StorageKey, "bytes", res.Size)

		if w.pause > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(w.pause):
			}
		}
	}

	slog.Info("media worker: batch done", "mirrored", mirrored, "failed", failed)
	return mirrored, failed
}
