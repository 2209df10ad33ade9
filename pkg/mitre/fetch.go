// Package mitre downloads the enterprise ATT&CK attack patterns from the
// mitre/cti GitHub repository and turns them into catalog patterns.
package mitre

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/shiran1989/magshimim-cyber-homework/internal/util"
	"github.com/shiran1989/magshimim-cyber-homework/pkg/logger"
)

const (
	ContentsURL = "https://api.github.com/repos/mitre/cti/contents/enterprise-attack/attack-pattern"

	BatchSize          = 100
	DefaultParallel    = 8
	DefaultRatePerSec  = 20
	downloadTries      = 3
	downloadRetryDelay = 500 * time.Millisecond
	progressEvery      = 50
)

// FileInfo is one entry of the GitHub contents listing.
type FileInfo struct {
	Name        string `json:"name"`
	DownloadURL string `json:"download_url"`
	Type        string `json:"type"`
}

// FetchResult is what a Source produced. Fallback is set when the sample
// pattern was used because the repository could not be listed.
type FetchResult struct {
	Objects     []Object
	FilesListed int
	FilesFailed int
	Fallback    bool
}

// Source yields STIX attack-pattern objects.
type Source interface {
	Fetch(ctx context.Context) (*FetchResult, error)
	Name() string
}

type Fetcher struct {
	http        *http.Client
	contentsURL string
	parallel    int
	limiter     *rate.Limiter
}

type FetcherOption func(*Fetcher)

func WithHTTPClient(c *http.Client) FetcherOption {
	return func(f *Fetcher) {
		f.http = c
	}
}

// WithContentsURL points the fetcher at another contents listing.
func WithContentsURL(url string) FetcherOption {
	return func(f *Fetcher) {
		f.contentsURL = url
	}
}

// WithParallel bounds the number of concurrent downloads within a batch.
func WithParallel(n int) FetcherOption {
	return func(f *Fetcher) {
		if n > 0 {
			f.parallel = n
		}
	}
}

// WithRate limits downloads to perSec requests per second. Zero or less
// disables the limit.
func WithRate(perSec float64) FetcherOption {
	return func(f *Fetcher) {
		if perSec <= 0 {
			f.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		f.limiter = rate.NewLimiter(rate.Limit(perSec), max(int(perSec), 1))
	}
}

func NewFetcher(opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		http:        &http.Client{Timeout: 60 * time.Second},
		contentsURL: ContentsURL,
		parallel:    DefaultParallel,
		limiter:     rate.NewLimiter(rate.Limit(DefaultRatePerSec), DefaultRatePerSec),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Fetcher) Name() string {
	return f.contentsURL
}

// Fetch lists the attack-pattern directory and downloads every JSON bundle
// in batches of BatchSize. Files that fail are logged and skipped. If the
// listing itself fails, the sample pattern is returned with Fallback set.
func (f *Fetcher) Fetch(ctx context.Context) (*FetchResult, error) {
	files, err := util.RetryWithContext(ctx, downloadTries, downloadRetryDelay, f.list)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logger.Error("[Mitre] Failed to list attack patterns, using sample data", "err", err)
		return &FetchResult{Fallback: true}, nil
	}

	var jsonFiles []FileInfo
	for _, file := range files {
		if strings.HasSuffix(file.Name, ".json") && file.DownloadURL != "" {
			jsonFiles = append(jsonFiles, file)
		}
	}
	logger.Info("[Mitre] Found JSON files to process", "files", len(jsonFiles))

	res := &FetchResult{FilesListed: len(jsonFiles)}
	var (
		mu        sync.Mutex
		processed int
	)
	batches := (len(jsonFiles) + BatchSize - 1) / BatchSize

	for start := 0; start < len(jsonFiles); start += BatchSize {
		batch := jsonFiles[start:min(start+BatchSize, len(jsonFiles))]
		logger.Info("[Mitre] Processing batch", "batch", start/BatchSize+1, "batches", batches, "files", len(batch))

		perFile := make([][]Object, len(batch))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(f.parallel)
		for i, file := range batch {
			g.Go(func() error {
				objects, err := util.RetryWithContext(gctx, downloadTries, downloadRetryDelay, func(ctx context.Context) ([]Object, error) {
					return f.download(ctx, file)
				})

				mu.Lock()
				defer mu.Unlock()
				processed++
				if err != nil {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					res.FilesFailed++
					logger.Warn("[Mitre] Failed to process file", "file", file.Name, "err", err)
				} else {
					perFile[i] = objects
				}
				if processed%progressEvery == 0 {
					logger.Info("[Mitre] Progress", "processed", processed, "files", len(jsonFiles))
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		for _, objects := range perFile {
			res.Objects = append(res.Objects, objects...)
		}
	}

	logger.Info("[Mitre] Fetched attack patterns", "patterns", len(res.Objects), "failed_files", res.FilesFailed)
	return res, nil
}

func (f *Fetcher) list(ctx context.Context) ([]FileInfo, error) {
	body, err := f.get(ctx, f.contentsURL)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var files []FileInfo
	if err := json.NewDecoder(body).Decode(&files); err != nil {
		return nil, fmt.Errorf("failed to decode listing: %w", err)
	}
	return files, nil
}

func (f *Fetcher) download(ctx context.Context, file FileInfo) ([]Object, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	body, err := f.get(ctx, file.DownloadURL)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return DecodeBundle(body)
}

func (f *Fetcher) get(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	res, err := f.http.Do(req)
	if err != nil {
		return nil, err
	}
	if res.StatusCode != http.StatusOK {
		res.Body.Close()
		return nil, fmt.Errorf("GET %s: unexpected status %d", url, res.StatusCode)
	}
	return res.Body, nil
}

// FileSource reads a bundle from disk instead of GitHub.
type FileSource struct {
	Path string
}

func (s FileSource) Name() string {
	return "file://" + s.Path
}

func (s FileSource) Fetch(_ context.Context) (*FetchResult, error) {
	file, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open bundle: %w", err)
	}
	defer file.Close()

	objects, err := DecodeBundle(file)
	if err != nil {
		return nil, err
	}
	if len(objects) == 0 {
		return nil, errors.New("bundle contains no attack patterns")
	}
	return &FetchResult{Objects: objects, FilesListed: 1}, nil
}
