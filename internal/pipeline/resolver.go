package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/clipforge/api/internal/client"
	"github.com/clipforge/api/internal/config"
)

const (
	opResolve     = "resolve source"
	opRemux       = "remux source"
	downloadChunk = 1 << 20
	maxFetchDiag  = 500
)

// SourceRef names where the input video comes from: an uploaded stream or a
// remote URL. Exactly one must be set.
type SourceRef struct {
	Upload     io.Reader
	UploadName string
	URL        string
}

// LocalSource is a materialized input file inside a per-request work
// directory. Release removes the directory and is safe to call repeatedly.
type LocalSource struct {
	Path      string
	Dir       string
	Name      string
	SizeBytes int64

	once sync.Once
	err  error
}

// BaseName is the sanitized stem used to name outputs derived from this source.
func (s *LocalSource) BaseName() string {
	stem := strings.TrimSuffix(s.Name, filepath.Ext(s.Name))
	return SafeName(stem)
}

func (s *LocalSource) Release() error {
	s.once.Do(func() {
		if s.Dir != "" {
			s.err = os.RemoveAll(s.Dir)
		}
	})
	return s.err
}

// Resolver materializes sources. Known hosting domains go through the media
// fetcher; every other URL is downloaded with a plain GET.
type Resolver struct {
	fetcher    client.Fetcher
	transcoder client.Transcoder
	httpClient *http.Client
	cfg        *config.FetcherConfig
	workRoot   string
	diagLimit  int
	logger     *slog.Logger
}

// NewResolver creates a Resolver that allocates work directories under workRoot.
func NewResolver(fetcher client.Fetcher, transcoder client.Transcoder, cfg *config.FetcherConfig, workRoot string, logger *slog.Logger) *Resolver {
	r := &Resolver{
		fetcher:    fetcher,
		transcoder: transcoder,
		cfg:        cfg,
		workRoot:   workRoot,
		diagLimit:  maxFetchDiag,
		logger:     logger.With("component", "resolver"),
	}
	r.httpClient = &http.Client{
		Timeout:   cfg.HTTPTimeout,
		Transport: r.transport(),
	}
	return r
}

// transport refuses to dial private addresses unless explicitly allowed.
// The check runs on the resolved address, so redirects and DNS changes
// are covered too.
func (r *Resolver) transport() *http.Transport {
	dialer := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}
	if !r.cfg.AllowPrivateHosts {
		dialer.Control = func(network, address string, _ syscall.RawConn) error {
			host, _, err := net.SplitHostPort(address)
			if err != nil {
				return err
			}
			if ip := net.ParseIP(host); ip != nil && !isPublicIP(ip) {
				return fmt.Errorf("refusing to connect to non-public address %s", ip)
			}
			return nil
		}
	}
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.DialContext = dialer.DialContext
	return t
}

// WithSource resolves ref, runs fn, and releases the work directory on every
// exit path.
func (r *Resolver) WithSource(ctx context.Context, ref SourceRef, fn func(*LocalSource) error) error {
	src, err := r.Resolve(ctx, ref)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := src.Release(); rerr != nil {
			r.logger.Warn("failed to release work dir", "dir", src.Dir, "error", rerr)
		}
	}()
	return fn(src)
}

// Resolve materializes ref into a fresh work directory. On failure the
// directory is already removed. The caller owns Release on success.
func (r *Resolver) Resolve(ctx context.Context, ref SourceRef) (*LocalSource, error) {
	hasUpload := ref.Upload != nil
	hasURL := strings.TrimSpace(ref.URL) != ""
	switch {
	case hasUpload && hasURL:
		return nil, newError(KindInvalidRequest, opResolve, "provide either a file or a url, not both")
	case !hasUpload && !hasURL:
		return nil, newError(KindInvalidRequest, opResolve, "no source provided")
	}

	var target *url.URL
	if hasURL {
		u, err := r.checkURL(ctx, strings.TrimSpace(ref.URL))
		if err != nil {
			return nil, err
		}
		target = u
	}

	dir := filepath.Join(r.workRoot, uuid.NewString())
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, &Error{Kind: KindSourceFetchFailure, Op: opResolve, Message: "cannot create work directory", Err: err}
	}
	src := &LocalSource{Dir: dir}

	var err error
	switch {
	case hasUpload:
		err = r.storeUpload(src, ref)
	case r.isHosted(target.Hostname()):
		err = r.fetchHosted(ctx, src, target)
	default:
		err = r.download(ctx, src, target)
	}
	if err == nil {
		err = checkSource(src)
	}
	if err != nil {
		_ = src.Release()
		return nil, err
	}

	r.logger.Debug("source resolved", "name", src.Name, "size", src.SizeBytes)
	return src, nil
}

func (r *Resolver) storeUpload(src *LocalSource, ref SourceRef) error {
	name := ref.UploadName
	if name == "" {
		name = "upload.mp4"
	}
	src.Name = SafeName(filepath.Base(name))
	src.Path = filepath.Join(src.Dir, "upload_"+src.Name)

	f, err := os.Create(src.Path)
	if err != nil {
		return &Error{Kind: KindSourceFetchFailure, Op: opResolve, Message: "cannot store upload", Err: err}
	}
	defer f.Close()

	if _, err := io.CopyBuffer(f, ref.Upload, make([]byte, downloadChunk)); err != nil {
		return &Error{Kind: KindSourceFetchFailure, Op: opResolve, Message: "upload interrupted", Err: err}
	}
	return f.Close()
}

func (r *Resolver) fetchHosted(ctx context.Context, src *LocalSource, u *url.URL) error {
	if r.fetcher == nil {
		return newError(KindSourceFetchFailure, opResolve, "media fetcher not configured")
	}

	fctx := ctx
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		fctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	res, err := r.fetcher.Fetch(fctx, u.String(), src.Dir)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return &Error{Kind: KindCanceled, Op: opResolve, Message: "canceled", Err: ctx.Err()}
		case fctx.Err() != nil:
			return &Error{Kind: KindTimeout, Op: opResolve, Message: fmt.Sprintf("media fetcher exceeded %s", r.cfg.Timeout), Err: err}
		}
		return &Error{Kind: KindSourceFetchFailure, Op: opResolve, Message: "media fetcher did not run", Err: err}
	}
	if res.ExitCode != 0 {
		return &Error{
			Kind:       KindSourceFetchFailure,
			Op:         opResolve,
			Message:    fmt.Sprintf("media fetcher exited with code %d", res.ExitCode),
			Diagnostic: Truncate(res.Diagnostics, r.diagLimit),
		}
	}
	if res.Path == "" {
		return &Error{Kind: KindSourceFetchFailure, Op: opResolve, Message: "media fetcher produced no file", Diagnostic: Truncate(res.Diagnostics, r.diagLimit)}
	}

	src.Name = SafeName(strings.TrimPrefix(u.Hostname(), "www.")) + ".mp4"
	src.Path = res.Path
	if strings.EqualFold(filepath.Ext(res.Path), ".mp4") {
		return nil
	}
	return r.remux(ctx, src)
}

// remux rewrites a fetched non-mp4 container into mp4 without re-encoding.
// It runs under its own timeout; an expiry is reported as a timeout and any
// other failure as a fetch failure.
func (r *Resolver) remux(ctx context.Context, src *LocalSource) error {
	if r.transcoder == nil {
		return newError(KindSourceFetchFailure, opResolve, "cannot remux %s: transcoder not configured", filepath.Ext(src.Path))
	}
	out := filepath.Join(src.Dir, "source_remux.mp4")
	err := runBounded(ctx, r.transcoder, opRemux, &client.TranscodeRequest{
		InputPath:  src.Path,
		OutputPath: out,
		StreamCopy: true,
		FastStart:  true,
	}, r.cfg.RemuxTimeout, r.diagLimit)
	if err != nil {
		if pe, ok := AsError(err); ok && (pe.Kind == KindTranscodeFailure || pe.Kind == KindOutputMissing) {
			pe.Kind = KindSourceFetchFailure
		}
		return err
	}
	_ = os.Remove(src.Path)
	src.Path = out
	return nil
}

func (r *Resolver) download(ctx context.Context, src *LocalSource, u *url.URL) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return &Error{Kind: KindInvalidRequest, Op: opResolve, Message: "invalid url", Err: err}
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return &Error{Kind: KindCanceled, Op: opResolve, Message: "canceled", Err: ctx.Err()}
		}
		return &Error{Kind: KindSourceFetchFailure, Op: opResolve, Message: "download failed", Diagnostic: Truncate(err.Error(), r.diagLimit), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return newError(KindSourceFetchFailure, opResolve, "HTTP %d while fetching URL", resp.StatusCode)
	}

	name := path.Base(u.Path)
	if name == "" || name == "/" || name == "." {
		name = "download.mp4"
	}
	src.Name = SafeName(name)
	src.Path = filepath.Join(src.Dir, "download_"+src.Name)

	f, err := os.Create(src.Path)
	if err != nil {
		return &Error{Kind: KindSourceFetchFailure, Op: opResolve, Message: "cannot store download", Err: err}
	}
	defer f.Close()

	body := io.Reader(resp.Body)
	limit := int64(r.cfg.MaxDownloadMB) * 1024 * 1024
	if limit > 0 {
		body = io.LimitReader(resp.Body, limit+1)
	}
	n, err := io.CopyBuffer(f, body, make([]byte, downloadChunk))
	if err != nil {
		return &Error{Kind: KindSourceFetchFailure, Op: opResolve, Message: "download interrupted", Diagnostic: Truncate(err.Error(), r.diagLimit), Err: err}
	}
	if limit > 0 && n > limit {
		return newError(KindSourceFetchFailure, opResolve, "download exceeds %d MB", r.cfg.MaxDownloadMB)
	}
	return f.Close()
}

// checkSource rejects missing or empty inputs before any transcode runs.
func checkSource(src *LocalSource) error {
	info, err := os.Stat(src.Path)
	if err != nil {
		return &Error{Kind: KindSourceFetchFailure, Op: opResolve, Message: "source file missing", Err: err}
	}
	if info.Size() == 0 {
		return newError(KindSourceFetchFailure, opResolve, "source file is empty")
	}
	src.SizeBytes = info.Size()
	return nil
}

func (r *Resolver) checkURL(ctx context.Context, raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return nil, newError(KindInvalidRequest, opResolve, "invalid url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, newError(KindInvalidRequest, opResolve, "unsupported url scheme %q", u.Scheme)
	}
	if r.cfg.AllowPrivateHosts {
		return u, nil
	}

	host := strings.ToLower(u.Hostname())
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return nil, newError(KindInvalidRequest, opResolve, "url not allowed")
	}
	if ip := net.ParseIP(host); ip != nil {
		if !isPublicIP(ip) {
			return nil, newError(KindInvalidRequest, opResolve, "url not allowed")
		}
		return u, nil
	}
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, &Error{Kind: KindSourceFetchFailure, Op: opResolve, Message: "cannot resolve host", Err: err}
	}
	for _, a := range addrs {
		if !isPublicIP(a.IP) {
			return nil, newError(KindInvalidRequest, opResolve, "url not allowed")
		}
	}
	return u, nil
}

func isPublicIP(ip net.IP) bool {
	return !(ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsUnspecified() || ip.IsMulticast())
}

// isHosted matches host against the configured domains and their subdomains.
func (r *Resolver) isHosted(host string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	for _, d := range r.cfg.HostedDomains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			continue
		}
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}
