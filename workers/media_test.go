package workers

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/uuid"

	"tunishome/identity"
	"tunishome/models"
	"tunishome/storage"
)

type memUploader struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func (u *memUploader) Upload(ctx context.Context, key string, data io.Reader, contentType string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.objects == nil {
		u.objects = make(map[string][]byte)
		u.types = make(map[string]string)
	}
	u.objects[key] = b
	u.types[key] = contentType
	return nil
}

var pngBytes = []byte("\x89PNG\r\n\x1a\nfake-image")

func imageServer() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/photo.png":
			w.Header().Set("Content-Type", "image/png")
			w.Write(pngBytes)
		case "/noext":
			w.Write(pngBytes)
		default:
			http.NotFound(w, r)
		}
	}))
}

func seedImages(t *testing.T, store *storage.MemoryStore, urls ...string) uuid.UUID {
	t.Helper()
	p := &models.Property{
		ID:          uuid.New(),
		SourceURL:   "http://x.tn/1",
		Source:      models.SourceTunisieAnnonce,
		Status:      models.StatusActive,
		ListingType: models.ListingSale,
		Title:       "Villa",
		Currency:    "TND",
	}
	ctx := context.Background()
	if err := store.InsertProperty(ctx, p); err != nil {
		t.Fatal(err)
	}
	if err := store.SyncImages(ctx, p.ID, urls, true); err != nil {
		t.Fatal(err)
	}
	return p.ID
}

func TestMediaWorker_MirrorsByContentHash(t *testing.T) {
	srv := imageServer()
	defer srv.Close()

	store := storage.NewMemoryStore()
	id := seedImages(t, store, srv.URL+"/photo.png", srv.URL+"/noext")
	up := &memUploader{}
	w := NewMediaWorker(store, up, srv.Client())
	w.pause = 0

	mirrored, failed := w.ProcessBatch(context.Background(), 10)
	if mirrored != 2 || failed != 0 {
		t.Fatalf("mirrored = %d failed = %d", mirrored, failed)
	}

	hash := identity.ContentHash(pngBytes)
	wantKey := "images/" + hash[:2] + "/" + hash + ".png"
	if string(up.objects[wantKey]) != string(pngBytes) {
		t.Errorf("objects = %v, want key %s", keys(up.objects), wantKey)
	}

	imgs, _ := store.ListImages(context.Background(), id)
	for _, img := range imgs {
		if img.MirrorStatus != models.MirrorStatusMirrored || img.StorageKey == nil || *img.ContentHash != hash {
			t.Errorf("image %s = %+v", img.URL, img)
		}
	}
	if pending, _ := store.ListPendingImages(context.Background(), 10); len(pending) != 0 {
		t.Errorf("pending = %d, want 0", len(pending))
	}
}

func TestMediaWorker_FailsAfterThreeAttempts(t *testing.T) {
	srv := imageServer()
	defer srv.Close()

	store := storage.NewMemoryStore()
	id := seedImages(t, store, srv.URL+"/gone.jpg")
	w := NewMediaWorker(store, &memUploader{}, srv.Client())
	w.pause = 0

	for i := 1; i <= maxMirrorAttempts; i++ {
		if _, failed := w.ProcessBatch(context.Background(), 10); failed != 1 {
			t.Fatalf("pass %d: failed = %d", i, failed)
		}
	}

	imgs, _ := store.ListImages(context.Background(), id)
	if imgs[0].MirrorStatus != models.MirrorStatusFailed || imgs[0].Attempts != maxMirrorAttempts {
		t.Errorf("image = %+v", imgs[0])
	}
	if _, failed := w.ProcessBatch(context.Background(), 10); failed != 0 {
		t.Error("failed images should not be retried")
	}
}

func TestGuessExtension(t *testing.T) {
	tests := []struct {
		url, contentType, want string
	}{
		{"http://img.tn/a.JPEG", "", ".jpg"},
		{"http://img.tn/a.png?w=200", "image/jpeg", ".png"},
		{"http://img.tn/photo.asp?id=3", "image/webp", ".webp"},
		{"http://img.tn/photo", "image/gif; charset=binary", ".gif"},
		{"http://img.tn/photo", "", ".jpg"},
	}
	for _, tt := range tests {
		if got := guessExtension(tt.url, tt.contentType); got != tt.want {
			t.Errorf("guessExtension(%q, %q) = %q, want %q", tt.url, tt.contentType, got, tt.want)
		}
	}
}

func keys(m map[string][]byte) []string {
	var out []string
	for k := range m {
		out = append(out, k)
	}
	return out
}
