package fetcher

import (
	"context"
	"io"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
)

// ErrNetworkDisabled is returned when a request is attempted without the network capability.
var ErrNetworkDisabled = eris.New("fetcher: network access disabled")

// Network is the capability that every downloader carries. Requests are refused
// at the point they would be issued unless Allowed is set.
type Network struct {
	Allowed bool
}

// Check returns ErrNetworkDisabled (wrapped with the target URL) if network access is not allowed.
func (n Network) Check(rawURL string) error {
	if !n.Allowed {
		return eris.Wrapf(ErrNetworkDisabled, "request to %s", rawURL)
	}
	return nil
}

// Fetcher defines the interface for downloading remote raw corpus files.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// DownloadToFile fetches the URL and writes it to the given path. Returns bytes written.
	DownloadToFile(ctx context.Context, url string, path string) (int64, error)
}

// Router dispatches downloads to the HTTP or FTP fetcher by URL scheme.
type Router struct {
	HTTP *HTTPFetcher
	FTP  *FTPFetcher
}

// NewRouter builds HTTP and FTP fetchers that share one network capability.
func NewRouter(httpOpts HTTPOptions, ftpOpts FTPOptions) *Router {
	ftpOpts.Network = httpOpts.Network
	return &Router{
		HTTP: NewHTTPFetcher(httpOpts),
		FTP:  NewFTPFetcher(ftpOpts),
	}
}

func (r *Router) pick(rawURL string) (Fetcher, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: parse url %s", rawURL)
	}
	switch u.Scheme {
	case "http", "https":
		return r.HTTP, nil
	case "ftp":
		return r.FTP, nil
	default:
		return nil, eris.Errorf("fetcher: unsupported scheme %q", u.Scheme)
	}
}

// Download fetches the URL with the fetcher matching its scheme.
func (r *Router) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	f, err := r.pick(rawURL)
	if err != nil {
		return nil, err
	}
	return f.Download(ctx, rawURL)
}

// DownloadToFile writes the URL to path with the fetcher matching its scheme.
func (r *Router) DownloadToFile(ctx context.Context, rawURL string, path string) (int64, error) {
	f, err := r.pick(rawURL)
	if err != nil {
		return 0, err
	}
	return f.DownloadToFile(ctx, rawURL, path)
}

// Expand resolves rawURL to the file URLs it stands for: an FTP directory URL
// (trailing slash) becomes its listed corpus files, anything else is itself.
func (r *Router) Expand(ctx context.Context, rawURL string) ([]string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: parse url %s", rawURL)
	}
	if u.Scheme == "ftp" && strings.HasSuffix(u.Path, "/") {
		return r.FTP.List(ctx, rawURL)
	}
	return []string{rawURL}, nil
}
