package predictor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Fetcher downloads url into dst. Implementations must only make dst visible once it is complete.
type Fetcher interface {
	Fetch(ctx context.Context, url, dst string) error
}

// ProvisionerOptions configures a Provisioner.
type ProvisionerOptions struct {
	URL          string
	Path         string
	PollInterval time.Duration
	PollAttempts int
	Timeout      time.Duration
	Fetcher      Fetcher
	Logger       *zap.Logger
}

// Provisioner makes sure the model artifact exists on local disk.
// A download runs in the background bounded by Timeout; callers wait for it
// only for the poll window and later calls join the same download.
type Provisioner struct {
	url      string
	path     string
	interval time.Duration
	attempts int
	timeout  time.Duration
	fetcher  Fetcher
	logger   *zap.Logger
	group    singleflight.Group

	mu     sync.Mutex
	job    *fetchJob
	closed bool
	wg     sync.WaitGroup
}

type fetchJob struct {
	done   chan struct{}
	err    error
	cancel context.CancelFunc
}

// NewProvisioner applies defaults to opts and returns a provisioner.
// PollAttempts below MinPollAttempts is raised to it.
func NewProvisioner(opts ProvisionerOptions) *Provisioner {
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.PollAttempts < MinPollAttempts {
		if opts.PollAttempts > 0 {
			opts.Logger.Warn("poll attempts raised to minimum",
				zap.Int("configured", opts.PollAttempts), zap.Int("minimum", MinPollAttempts))
		}
		opts.PollAttempts = MinPollAttempts
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Minute
	}
	if opts.Fetcher == nil {
		opts.Fetcher = &HTTPFetcher{}
	}
	return &Provisioner{
		url:      opts.URL,
		path:     opts.Path,
		interval: opts.PollInterval,
		attempts: opts.PollAttempts,
		timeout:  opts.Timeout,
		fetcher:  opts.Fetcher,
		logger:   opts.Logger,
	}
}

// Path returns the local artifact location.
func (p *Provisioner) Path() string { return p.path }

// Fetching reports whether a download is still in flight.
func (p *Provisioner) Fetching() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.job != nil
}

// EnsureAvailable reports whether a non-empty artifact is present, fetching it first if needed.
// Concurrent callers share one fetch. Failures are logged and reported as false.
func (p *Provisioner) EnsureAvailable(ctx context.Context) bool {
	if artifactPresent(p.path) {
		return true
	}
	ch := p.group.DoChan("artifact", func() (any, error) {
		return p.provision(), nil
	})
	select {
	case res := <-ch:
		ok, _ := res.Val.(bool)
		return ok
	case <-ctx.Done():
		return false
	}
}

// Close cancels an in-flight download and waits for it to stop.
func (p *Provisioner) Close() error {
	p.mu.Lock()
	p.closed = true
	if p.job != nil {
		p.job.cancel()
	}
	p.mu.Unlock()
	p.wg.Wait()
	return nil
}

func (p *Provisioner) provision() bool {
	if artifactPresent(p.path) {
		return true
	}
	if p.url == "" {
		p.logger.Error("model artifact missing and no download url configured", zap.String("path", p.path))
		return false
	}
	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		p.logger.Error("create model dir", zap.Error(err))
		return false
	}
	job := p.startFetch()
	if job == nil {
		return false
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for attempt := 1; attempt <= p.attempts; attempt++ {
		select {
		case <-job.done:
			if job.err != nil {
				p.logger.Error("model download failed", zap.Error(job.err))
				return false
			}
			if artifactPresent(p.path) {
				p.logger.Info("model artifact ready", zap.String("path", p.path))
				return true
			}
			p.logger.Error("model download produced no artifact", zap.String("path", p.path))
			return false
		case <-ticker.C:
			if artifactPresent(p.path) {
				p.logger.Info("model artifact ready", zap.String("path", p.path), zap.Int("polls", attempt))
				return true
			}
		}
	}
	p.logger.Warn("model artifact not ready yet; download continues in background",
		zap.String("path", p.path),
		zap.Duration("waited", time.Duration(p.attempts)*p.interval),
		zap.Duration("download_timeout", p.timeout))
	return false
}

// startFetch returns the running download, starting one if none is in flight.
func (p *Provisioner) startFetch() *fetchJob {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	if p.job != nil {
		return p.job
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	job := &fetchJob{done: make(chan struct{}), cancel: cancel}
	p.job = job
	p.wg.Add(1)
	p.logger.Info("downloading model artifact", zap.String("path", p.path), zap.Duration("timeout", p.timeout))
	go func() {
		defer p.wg.Done()
		defer cancel()
		job.err = p.fetcher.Fetch(ctx, p.url, p.path)
		p.mu.Lock()
		p.job = nil
		p.mu.Unlock()
		close(job.done)
	}()
	return job
}

func artifactPresent(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}

var (
	confirmQueryPattern = regexp.MustCompile(`confirm=([0-9A-Za-z_\-]+)`)
	confirmInputPattern = regexp.MustCompile(`name="confirm"\s+value="([^"]+)"`)
	uuidInputPattern    = regexp.MustCompile(`name="uuid"\s+value="([^"]+)"`)
)

// HTTPFetcher downloads artifacts over HTTP, following the Google Drive
// large-file confirmation page when one is served instead of the file.
type HTTPFetcher struct {
	Client *http.Client
}

// Fetch streams url into dst+".part" and renames it into place on success.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL, dst string) error {
	resp, err := f.get(ctx, rawURL)
	if err != nil {
		return err
	}
	if isHTML(resp) {
		next, err := confirmURL(rawURL, resp)
		resp.Body.Close()
		if err != nil {
			return err
		}
		if resp, err = f.get(ctx, next); err != nil {
			return err
		}
		if isHTML(resp) {
			resp.Body.Close()
			return errors.New("download returned an html page instead of the artifact")
		}
	}
	defer resp.Body.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}
	tmp := dst + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create temp artifact: %w", err)
	}
	n, copyErr := io.Copy(out, resp.Body)
	closeErr := out.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write artifact: %w", errors.Join(copyErr, closeErr))
	}
	if n == 0 {
		_ = os.Remove(tmp)
		return errors.New("downloaded artifact is empty")
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename artifact: %w", err)
	}
	return nil
}

func (f *HTTPFetcher) get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, fmt.Errorf("download: unexpected status %s", resp.Status)
	}
	return resp, nil
}

func isHTML(resp *http.Response) bool {
	mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	return err == nil && mediaType == "text/html"
}

// confirmURL extracts the confirmation token from a Drive interstitial and
// returns the URL that serves the file itself.
func confirmURL(rawURL string, resp *http.Response) (string, error) {
	token := ""
	for _, c := range resp.Cookies() {
		if strings.HasPrefix(c.Name, "download_warning") {
			token = c.Value
			break
		}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read confirmation page: %w", err)
	}
	if token == "" {
		if m := confirmInputPattern.FindSubmatch(body); m != nil {
			token = string(m[1])
		} else if m := confirmQueryPattern.FindSubmatch(body); m != nil {
			token = string(m[1])
		}
	}
	if token == "" {
		return "", errors.New("download returned an html page without a confirmation token")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	q := u.Query()
	q.Set("confirm", token)
	if m := uuidInputPattern.FindSubmatch(body); m != nil {
		q.Set("uuid", string(m[1]))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
