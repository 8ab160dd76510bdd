package scraper

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"tunishome/models"
)

func TestFetch_DecodesWindows1252(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "text/html")
		// windows-1252: 0xE9 é, 0xB2 ², 0x80 €, 0x9C œ
		w.Write([]byte("<p>Caf\xe9 150 m\xb2 \x80 \x9cuvre</p>"))
	}))
	defer srv.Close()

	f, err := NewFetcher(srv.Client(), nil, "windows-1252", "tunishome-test")
	if err != nil {
		t.Fatalf("new fetcher: %v", err)
	}
	body, err := f.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if body != "<p>Café 150 m² € œuvre</p>" {
		t.Errorf("body = %q", body)
	}
	if gotUA != "tunishome-test" {
		t.Errorf("user agent = %q", gotUA)
	}
}

func TestFetch_Non200IsFetchError(t *testing.T) {
	tests := []struct {
		status    int
		temporary bool
	}{
		{http.StatusNotFound, false},
		{http.StatusInternalServerError, true},
		{http.StatusTooManyRequests, true},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))

		f, _ := NewFetcher(srv.Client(), nil, "windows-1252", "")
		_, err := f.Fetch(context.Background(), srv.URL)
		srv.Close()

		var fe *models.FetchError
		if !errors.As(err, &fe) {
			t.Fatalf("status %d: err = %v, want FetchError", tt.status, err)
		}
		if fe.StatusCode != tt.status {
			t.Errorf("status code = %d, want %d", fe.StatusCode, tt.status)
		}
		if fe.Temporary() != tt.temporary {
			t.Errorf("status %d: temporary = %v", tt.status, fe.Temporary())
		}
	}
}

func TestFetch_NetworkErrorIsTemporary(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	f, _ := NewFetcher(nil, nil, "windows-1252", "")
	_, err := f.Fetch(context.Background(), url)
	var fe *models.FetchError
	if !errors.As(err, &fe) || !fe.Temporary() {
		t.Errorf("err = %v, want temporary FetchError", err)
	}
}

func TestFetch_CancelledContext(t *testing.T) {
	f, _ := NewFetcher(nil, nil, "windows-1252", "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.Fetch(ctx, "http://127.0.0.1:1/")
	if models.StageOf(err) != models.StageFetch {
		t.Errorf("err = %v, want fetch stage", err)
	}
}

func TestNewFetcher_UnknownEncoding(t *testing.T) {
	if _, err := NewFetcher(nil, nil, "klingon-8", ""); err == nil {
		t.Error("expected error for unknown encoding")
	}
}
