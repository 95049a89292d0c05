package main

import (
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/exofeat/internal/config"
	"github.com/sells-group/exofeat/internal/fetcher"
)

const fetchConcurrency = 4

var fetchCmd = &cobra.Command{
	Use:   "fetch <url>...",
	Short: "Download raw corpus files into the raw directory",
	Long: "Downloads HTTP(S) or FTP URLs into --dest. An FTP URL ending in / fetches every tabular or ZIP " +
		"file in that directory. ZIP archives are unpacked to their tabular members. " +
		"Refused unless network.allowed is true.",
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		dest, _ := cmd.Flags().GetString("dest")
		if dest == "" {
			dest = cfg.Corpus.RawDir
		}
		if dest == "" {
			return eris.New("fetch: --dest (or corpus.raw_dir) is required")
		}
		extract, _ := cmd.Flags().GetBool("extract")

		if err := os.MkdirAll(dest, 0o755); err != nil {
			return eris.Wrap(err, "fetch: create destination")
		}

		router := newRouter(cfg.Network)
		log := zap.L().With(zap.String("component", "fetch"))

		var urls []string
		for _, arg := range args {
			expanded, err := router.Expand(ctx, arg)
			if err != nil {
				return err
			}
			urls = append(urls, expanded...)
		}
		jobs, err := downloadTargets(urls, dest)
		if err != nil {
			return err
		}

		results := make([][]string, len(jobs))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(fetchConcurrency)
		for i, job := range jobs {
			g.Go(func() error {
				target := job.target
				n, err := router.DownloadToFile(gctx, job.url, target)
				if err != nil {
					return eris.Wrapf(err, "fetch: %s", displayURL(job.url))
				}
				log.Info("downloaded", zap.String("url", displayURL(job.url)), zap.String("path", target), zap.Int64("bytes", n))

				if !extract || !fetcher.IsArchive(target) {
					results[i] = []string{target}
					return nil
				}
				files, err := fetcher.ExtractTabular(target, dest)
				if err != nil {
					return err
				}
				if err := os.Remove(target); err != nil {
					log.Warn("failed to remove archive", zap.String("path", target), zap.Error(err))
				}
				results[i] = files
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		for _, files := range results {
			for _, f := range files {
				fmt.Fprintln(os.Stdout, f)
			}
		}
		return nil
	},
}

func newRouter(n config.NetworkConfig) *fetcher.Router {
	network := fetcher.Network{Allowed: n.Allowed}
	timeout := time.Duration(n.TimeoutSecs) * time.Second
	return fetcher.NewRouter(
		fetcher.HTTPOptions{
			Network:    network,
			UserAgent:  n.UserAgent,
			Timeout:    timeout,
			MaxRetries: n.MaxRetries,
		},
		fetcher.FTPOptions{Network: network, Timeout: timeout},
	)
}

// fileName is the last path segment of rawURL.
func fileName(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", eris.Wrapf(err, "fetch: parse url %s", rawURL)
	}
	name := path.Base(u.Path)
	if name == "" || name == "." || name == "/" {
		return "", eris.Errorf("fetch: url %s has no file name", rawURL)
	}
	return name, nil
}

// download is one URL and the file it is written to.
type download struct {
	url    string
	target string
}

// downloadTargets places each URL under dest by file name. URLs that would share
// a target are rejected before anything is fetched.
func downloadTargets(urls []string, dest string) ([]download, error) {
	jobs := make([]download, 0, len(urls))
	seen := make(map[string]string, len(urls))
	for _, rawURL := range urls {
		name, err := fileName(rawURL)
		if err != nil {
			return nil, err
		}
		if prev, ok := seen[name]; ok {
			return nil, eris.Errorf("fetch: %s and %s would both be written to %s",
				displayURL(prev), displayURL(rawURL), name)
		}
		seen[name] = rawURL
		jobs = append(jobs, download{url: rawURL, target: filepath.Join(dest, name)})
	}
	return jobs, nil
}

// displayURL is rawURL with any password redacted, for logs and errors.
func displayURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Redacted()
}

func init() {
	fetchCmd.Flags().String("dest", "", "download directory (defaults to corpus.raw_dir)")
	fetchCmd.Flags().Bool("extract", true, "unpack ZIP archives to their tabular members")
	rootCmd.AddCommand(fetchCmd)
}
