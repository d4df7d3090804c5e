package media

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"listingbot/internal/models"
)

type fakeResolver struct {
	base string
}

func (f fakeResolver) FileURL(_ context.Context, fileID string) (string, error) {
	if strings.HasPrefix(fileID, "unresolvable") {
		return "", errors.New("file expired")
	}
	return f.base + "/photos/" + fileID + ".jpg", nil
}

func TestUploadKeepsSuccessesInOrder(t *testing.T) {
	var flaky int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "broken"):
			http.Error(w, "gone", http.StatusNotFound)
		case strings.Contains(r.URL.Path, "flaky") && atomic.AddInt32(&flaky, 1) == 1:
			http.Error(w, "try again", http.StatusBadGateway)
		default:
			w.Write([]byte("jpeg-bytes:" + r.URL.Path))
		}
	}))
	defer srv.Close()

	dir := t.TempDir()
	u := NewUploader(fakeResolver{base: srv.URL}, Options{
		BaseDir:        dir,
		BaseURL:        "https://cdn.example/media/",
		MaxConcurrency: 2,
		MaxRetries:     2,
	})
	refs := []models.MediaRef{
		{FileID: "a"}, {FileID: "broken"}, {FileID: "flaky"}, {FileID: "unresolvable-1"}, {FileID: "e"},
	}
	urls, err := u.Upload(context.Background(), 7, "listing-1", refs)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if len(urls) != 3 {
		t.Fatalf("expected 3 stored photos, got %d: %v", len(urls), urls)
	}
	for _, url := range urls {
		if !strings.HasPrefix(url, "https://cdn.example/media/7/listing-1/") || !strings.HasSuffix(url, ".jpg") {
			t.Fatalf("unexpected url %s", url)
		}
	}
	entries, err := os.ReadDir(filepath.Join(dir, "7", "listing-1"))
	if err != nil || len(entries) != 3 {
		t.Fatalf("expected 3 files on disk, got %d (%v)", len(entries), err)
	}
	first, err := os.ReadFile(filepath.Join(dir, "7", "listing-1", filepath.Base(urls[0])))
	if err != nil || string(first) != "jpeg-bytes:/photos/a.jpg" {
		t.Fatalf("first url does not map to the first ref: %q %v", first, err)
	}

	if err := u.Remove(context.Background(), 7, "listing-1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "7", "listing-1")); !os.IsNotExist(err) {
		t.Fatalf("listing dir should be gone, stat err=%v", err)
	}
}

func TestUploadRejectsUnsafeListingID(t *testing.T) {
	u := NewUploader(fakeResolver{}, Options{BaseDir: t.TempDir()})
	if _, err := u.Upload(context.Background(), 1, "../escape", []models.MediaRef{{FileID: "a"}}); err == nil {
		t.Fatalf("expected invalid listing id error")
	}
}

func TestRetryStopsOnSuccess(t *testing.T) {
	calls := 0
	err := retryPolicy{maxAttempts: 3}.do(context.Background(), "op", func() error {
		calls++
		if calls < 2 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil || calls != 2 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}

	boom := errors.New("permanent")
	calls = 0
	err = retryPolicy{maxAttempts: 3}.do(context.Background(), "op", func() error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) || calls != 3 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}
