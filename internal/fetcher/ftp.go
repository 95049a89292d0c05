package fetcher

import (
	"context"
	"io"
	"net"
	"net/url"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// FTPOptions configures FTP transfers.
type FTPOptions struct {
	Network Network
	Timeout time.Duration
}

// FTPFetcher retrieves raw corpus files and directory listings over FTP. Credentials
// come from the URL's userinfo; without one the session logs in anonymously.
type FTPFetcher struct {
	opts FTPOptions
	log  *zap.Logger
}

// NewFTPFetcher creates a new FTPFetcher with the given options.
func NewFTPFetcher(opts FTPOptions) *FTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	return &FTPFetcher{opts: opts, log: zap.L().With(zap.String("component", "ftp"))}
}

// ftpTarget is an FTP URL split into what one session needs.
type ftpTarget struct {
	addr    string
	path    string
	user    string
	pass    string
	display string // URL with the password redacted
}

// isDir reports whether the URL names a directory (trailing slash).
func (t ftpTarget) isDir() bool { return strings.HasSuffix(t.path, "/") }

func parseFTPTarget(rawURL string) (ftpTarget, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ftpTarget{}, eris.Wrap(err, "fetcher: parse ftp url")
	}
	if u.Scheme != "ftp" {
		return ftpTarget{}, eris.Errorf("fetcher: expected ftp scheme, got %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return ftpTarget{}, eris.Errorf("fetcher: ftp url %s has no host", u.Redacted())
	}
	if u.Path == "" {
		return ftpTarget{}, eris.Errorf("fetcher: ftp url %s has no path", u.Redacted())
	}

	t := ftpTarget{
		addr:    u.Host,
		path:    u.Path,
		user:    "anonymous",
		pass:    "anonymous@",
		display: u.Redacted(),
	}
	if u.Port() == "" {
		t.addr = net.JoinHostPort(u.Hostname(), "21")
	}
	if u.User != nil && u.User.Username() != "" {
		t.user = u.User.Username()
		t.pass, _ = u.User.Password()
	}
	return t, nil
}

// login opens a logged-in session for t. The caller must Quit the connection.
func (f *FTPFetcher) login(ctx context.Context, t ftpTarget) (*ftp.ServerConn, error) {
	if err := f.opts.Network.Check(t.display); err != nil {
		return nil, err
	}
	f.log.Debug("connecting", zap.String("addr", t.addr), zap.String("user", t.user), zap.String("path", t.path))

	conn, err := ftp.Dial(t.addr, ftp.DialWithTimeout(f.opts.Timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: ftp dial %s", t.addr)
	}
	if err := conn.Login(t.user, t.pass); err != nil {
		_ = conn.Quit()
		return nil, eris.Wrapf(err, "fetcher: ftp login to %s as %s", t.addr, t.user)
	}
	return conn, nil
}

// ftpBody is a RETR stream that ends its session when closed.
type ftpBody struct {
	*ftp.Response
	conn *ftp.ServerConn
}

func (b ftpBody) Close() error {
	err := b.Response.Close()
	if quitErr := b.conn.Quit(); err == nil {
		err = quitErr
	}
	return eris.Wrap(err, "fetcher: close ftp transfer")
}

// Download retrieves one file. Closing the returned body ends the session.
func (f *FTPFetcher) Download(ctx context.Context, ftpURL string) (io.ReadCloser, error) {
	t, err := parseFTPTarget(ftpURL)
	if err != nil {
		return nil, err
	}
	if t.isDir() {
		return nil, eris.Errorf("fetcher: %s is a directory; list it first", t.display)
	}

	conn, err := f.login(ctx, t)
	if err != nil {
		return nil, err
	}
	resp, err := conn.Retr(t.path)
	if err != nil {
		_ = conn.Quit()
		return nil, eris.Wrapf(err, "fetcher: ftp retrieve %s", t.display)
	}
	return ftpBody{Response: resp, conn: conn}, nil
}

// DownloadToFile writes one FTP file to dest. Returns bytes written.
func (f *FTPFetcher) DownloadToFile(ctx context.Context, ftpURL string, dest string) (int64, error) {
	body, err := f.Download(ctx, ftpURL)
	if err != nil {
		return 0, err
	}
	defer body.Close() //nolint:errcheck

	return writeFile(dest, body)
}

// List returns the URLs of the tabular and ZIP files directly under an FTP
// directory URL, sorted by name. Subdirectories are not descended.
func (f *FTPFetcher) List(ctx context.Context, dirURL string) ([]string, error) {
	t, err := parseFTPTarget(dirURL)
	if err != nil {
		return nil, err
	}
	if !t.isDir() {
		return nil, eris.Errorf("fetcher: %s is not a directory url", t.display)
	}

	conn, err := f.login(ctx, t)
	if err != nil {
		return nil, err
	}
	defer conn.Quit() //nolint:errcheck

	entries, err := conn.List(t.path)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: ftp list %s", t.display)
	}
	names := corpusEntries(entries)
	f.log.Info("listed directory",
		zap.String("url", t.display),
		zap.Int("entries", len(entries)),
		zap.Int("corpus_files", len(names)),
	)

	base, err := url.Parse(dirURL)
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: parse ftp url")
	}
	out := make([]string, len(names))
	for i, name := range names {
		out[i] = base.JoinPath(name).String()
	}
	return out, nil
}

// corpusEntries keeps the regular, non-hidden files worth fetching into a raw corpus.
func corpusEntries(entries []*ftp.Entry) []string {
	var names []string
	for _, e := range entries {
		if e == nil || e.Type != ftp.EntryTypeFile || strings.HasPrefix(e.Name, ".") {
			continue
		}
		ext := strings.ToLower(path.Ext(e.Name))
		if tabularExts[ext] || ext == ".zip" {
			names = append(names, e.Name)
		}
	}
	sort.Strings(names)
	return names
}
