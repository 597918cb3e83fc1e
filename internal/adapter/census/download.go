// Package census loads ZCTA boundaries and the CDC Heat & Health Index table
// and joins them into one attribute layer.
package census

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Fetcher resolves a source (URL or local path) to a local file or directory,
// downloading and unpacking zip archives into the data directory once.
type Fetcher struct {
	httpClient *http.Client
	dataDir    string
	logger     *slog.Logger
}

// NewFetcher creates a Fetcher that caches downloads under dataDir.
func NewFetcher(httpClient *http.Client, dataDir string, logger *slog.Logger) *Fetcher {
	return &Fetcher{httpClient: httpClient, dataDir: dataDir, logger: logger}
}

// Resolve returns a local path for source. Zip archives resolve to the
// directory they were extracted into.
func (f *Fetcher) Resolve(ctx context.Context, source string) (string, error) {
	local := source
	if isURL(source) {
		u, err := url.Parse(source)
		if err != nil {
			return "", fmt.Errorf("parse source url: %w", err)
		}
		local = filepath.Join(f.dataDir, path.Base(u.Path))
		if err := f.download(ctx, source, local); err != nil {
			return "", err
		}
	}
	if !strings.EqualFold(filepath.Ext(local), ".zip") {
		return local, nil
	}
	dir := strings.TrimSuffix(local, filepath.Ext(local))
	if info, err := os.Stat(dir); err == nil && info.IsDir() {
		return dir, nil
	}
	if err := extract(local, dir); err != nil {
		return "", err
	}
	f.logger.Info("archive extracted", "archive", local, "dir", dir)
	return dir, nil
}

func (f *Fetcher) download(ctx context.Context, source, dst string) error {
	if _, err := os.Stat(dst); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", source, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download %s: status %d", source, resp.StatusCode)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".download-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	n, err := io.Copy(tmp, resp.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("download %s: %w", source, err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("store download: %w", err)
	}
	f.logger.Info("source downloaded", "url", source, "path", dst, "bytes", n)
	return nil
}

// extract unpacks archive into dir via a sibling temp directory so a
// half-extracted archive is never mistaken for a complete one.
func extract(archive, dir string) error {
	r, err := zip.OpenReader(archive)
	if err != nil {
		return fmt.Errorf("open archive %s: %w", archive, err)
	}
	defer r.Close()

	tmp, err := os.MkdirTemp(filepath.Dir(dir), ".extract-*")
	if err != nil {
		return fmt.Errorf("create extract dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	for _, zf := range r.File {
		if err := extractFile(zf, tmp); err != nil {
			return fmt.Errorf("extract %s: %w", archive, err)
		}
	}
	return os.Rename(tmp, dir)
}

func extractFile(zf *zip.File, root string) error {
	name := filepath.Clean(filepath.FromSlash(zf.Name))
	if filepath.IsAbs(name) || name == ".." || strings.HasPrefix(name, ".."+string(filepath.Separator)) {
		return fmt.Errorf("entry %q escapes archive", zf.Name)
	}
	dst := filepath.Join(root, name)
	if zf.FileInfo().IsDir() {
		return os.MkdirAll(dst, 0o755)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	src, err := zf.Open()
	if err != nil {
		return err
	}
	defer src.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// findFile returns path itself when it is a file, or the first file under it
// (walk order) whose extension is one of exts.
func findFile(p string, exts ...string) (string, error) {
	info, err := os.Stat(p)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return p, nil
	}
	var found string
	err = filepath.WalkDir(p, func(fp string, d os.DirEntry, err error) error {
		if err != nil || found != "" || d.IsDir() {
			return err
		}
		if strings.HasPrefix(d.Name(), "~$") {
			return nil
		}
		for _, ext := range exts {
			if strings.EqualFold(filepath.Ext(fp), ext) {
				found = fp
				return filepath.SkipAll
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if found == "" {
		return "", fmt.Errorf("no %s file under %s", strings.Join(exts, "/"), p)
	}
	return found, nil
}
