// Package media stores listing photos on local disk.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"listingbot/internal/models"

	"github.com/google/uuid"
)

// maxFileBytes matches the platform's bot download limit.
const maxFileBytes = 20 << 20

// Resolver exchanges a media reference for a short-lived download url.
type Resolver interface {
	FileURL(ctx context.Context, fileID string) (string, error)
}

type Options struct {
	BaseDir        string
	BaseURL        string
	MaxConcurrency int
	MaxRetries     int
	RetryDelay     time.Duration
	HTTPClient     *http.Client
}

// Uploader downloads photos and keeps them under
// <BaseDir>/<owner>/<listing>/, served from BaseURL.
type Uploader struct {
	resolver Resolver
	client   *http.Client
	baseDir  string
	baseURL  string
	workers  int
	retry    retryPolicy
}

func NewUploader(resolver Resolver, opts Options) *Uploader {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	workers := opts.MaxConcurrency
	if workers <= 0 {
		workers = 4
	}
	return &Uploader{
		resolver: resolver,
		client:   client,
		baseDir:  opts.BaseDir,
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		workers:  workers,
		retry:    retryPolicy{maxAttempts: opts.MaxRetries, baseDelay: opts.RetryDelay},
	}
}

func (u *Uploader) listingDir(ownerID int64, listingID string) string {
	return filepath.Join(u.baseDir, strconv.FormatInt(ownerID, 10), listingID)
}

// Upload stores every ref it can and returns the public urls of the stored
// files in input order. Individual failures are logged and skipped; the
// error is reserved for failures that prevent any upload.
func (u *Uploader) Upload(ctx context.Context, ownerID int64, listingID string, refs []models.MediaRef) ([]string, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	if listingID == "" || strings.ContainsAny(listingID, `/\.`) {
		return nil, fmt.Errorf("invalid listing id %q", listingID)
	}
	dir := u.listingDir(ownerID, listingID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create media dir: %w", err)
	}

	results := make([]string, len(refs))
	sem := make(chan struct{}, u.workers)
	var wg sync.WaitGroup
	for i, ref := range refs {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, ref models.MediaRef) {
			defer wg.Done()
			defer func() { <-sem }()

			var name string
			err := u.retry.do(ctx, "upload "+ref.FileID, func() error {
				var err error
				name, err = u.store(ctx, dir, ref)
				return err
			})
			if err != nil {
				log.Printf("media upload for user %d listing %s failed: %v", ownerID, listingID, err)
				return
			}
			results[i] = fmt.Sprintf("%s/%d/%s/%s", u.baseURL, ownerID, listingID, name)
		}(i, ref)
	}
	wg.Wait()

	urls := make([]string, 0, len(refs))
	for _, r := range results {
		if r != "" {
			urls = append(urls, r)
		}
	}
	return urls, nil
}

func (u *Uploader) store(ctx context.Context, dir string, ref models.MediaRef) (string, error) {
	src, err := u.resolver.FileURL(ctx, ref.FileID)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	resp, err := u.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download: unexpected status %d", resp.StatusCode)
	}

	ext := strings.ToLower(path.Ext(req.URL.Path))
	if ext == "" || len(ext) > 5 {
		ext = ".jpg"
	}
	name := uuid.NewString() + ext
	target := filepath.Join(dir, name)
	f, err := os.Create(target)
	if err != nil {
		return "", fmt.Errorf("create file: %w", err)
	}
	n, err := io.Copy(f, io.LimitReader(resp.Body, maxFileBytes+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && n > maxFileBytes {
		err = errors.New("file exceeds size limit")
	}
	if err != nil {
		os.Remove(target)
		return "", fmt.Errorf("write file: %w", err)
	}
	return name, nil
}

// Remove deletes every stored file of a listing.
func (u *Uploader) Remove(_ context.Context, ownerID int64, listingID string) error {
	if listingID == "" || strings.ContainsAny(listingID, `/\.`) {
		return fmt.Errorf("invalid listing id %q", listingID)
	}
	if err := os.RemoveAll(u.listingDir(ownerID, listingID)); err != nil {
		return fmt.Errorf("remove media: %w", err)
	}
	return nil
}
