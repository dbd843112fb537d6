// Package pkgmanager installs Eiko module packages into the project's
// package root, where the module resolver picks them up.
//
// Two spec forms are accepted: "GH://owner/name" fetches the tarball of
// the repository's "main" branch from GitHub, and "name@version" fetches a released
// archive from the package index.
package pkgmanager

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/eikobot/eikobot/pkg/project"
)

const (
	githubPrefix = "GH://"
	indexURL     = "https://pkg.eikobot.io"

	downloadTimeout = 5 * time.Minute
)

// Spec is a parsed package specification.
type Spec struct {
	// Name is the package name, or "owner/name" for GitHub specs.
	Name string

	// Version is set for name@version specs.
	Version *semver.Version

	// GitHub marks a GH:// spec.
	GitHub bool
}

// ParseSpec parses a package spec string.
func ParseSpec(raw string) (*Spec, error) {
	if strings.HasPrefix(raw, githubPrefix) {
		path := strings.TrimPrefix(raw, githubPrefix)
		parts := strings.Split(path, "/")
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("invalid GitHub package spec %q, expected GH://owner/name", raw)
		}
		return &Spec{Name: path, GitHub: true}, nil
	}

	if name, version, ok := strings.Cut(raw, "@"); ok {
		v, err := semver.NewVersion(version)
		if err != nil {
			return nil, fmt.Errorf("invalid version in package spec %q: %w", raw, err)
		}
		if name == "" {
			return nil, fmt.Errorf("invalid package spec %q, missing name", raw)
		}
		return &Spec{Name: name, Version: v}, nil
	}

	return nil, fmt.Errorf("invalid package spec %q, expected GH://owner/name or name@version", raw)
}

// URL returns the archive download URL for the spec.
func (s *Spec) URL() string {
	if s.GitHub {
		return fmt.Sprintf("https://github.com/%s/archive/refs/heads/main.tar.gz", s.Name)
	}
	return fmt.Sprintf("%s/%s/%s.tar.gz", indexURL, s.Name, s.Version)
}

// DirName returns the directory the package unpacks into.
func (s *Spec) DirName() string {
	if s.GitHub {
		return filepath.Base(s.Name)
	}
	return s.Name
}

// Manager downloads and unpacks packages.
type Manager struct {
	// Root is the package installation root.
	Root string

	client *http.Client
}

// New creates a manager installing into dir's package root.
func New(dir string) *Manager {
	return &Manager{
		Root:   filepath.Join(dir, project.PackageRoot),
		client: &http.Client{Timeout: downloadTimeout},
	}
}

// Install resolves and installs the given specs concurrently.
func (m *Manager) Install(ctx context.Context, rawSpecs []string) error {
	if err := os.MkdirAll(m.Root, 0o755); err != nil {
		return err
	}

	specs := make([]*Spec, 0, len(rawSpecs))
	for _, raw := range rawSpecs {
		spec, err := ParseSpec(raw)
		if err != nil {
			return err
		}
		specs = append(specs, spec)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, spec := range specs {
		g.Go(func() error {
			return m.installOne(ctx, spec)
		})
	}
	return g.Wait()
}

// InstallEditable symlinks a local package directory into the package
// root instead of copying it.
func (m *Manager) InstallEditable(dir string) error {
	if err := os.MkdirAll(m.Root, 0o755); err != nil {
		return err
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	target := filepath.Join(m.Root, filepath.Base(abs))
	if _, err := os.Lstat(target); err == nil {
		if err := os.Remove(target); err != nil {
			return err
		}
	}
	log.Info().Str("package", filepath.Base(abs)).Msg("installing editable package")
	return os.Symlink(abs, target)
}

func (m *Manager) installOne(ctx context.Context, spec *Spec) error {
	target := filepath.Join(m.Root, spec.DirName())
	if _, err := os.Stat(target); err == nil {
		log.Debug().Str("package", spec.Name).Msg("package already installed")
		return nil
	}

	log.Info().Str("package", spec.Name).Str("url", spec.URL()).Msg("downloading package")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, spec.URL(), nil)
	if err != nil {
		return err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", spec.Name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to download %s: HTTP %d", spec.Name, resp.StatusCode)
	}

	if err := untar(resp.Body, target); err != nil {
		return fmt.Errorf("failed to unpack %s: %w", spec.Name, err)
	}
	log.Info().Str("package", spec.Name).Msg("package installed")
	return nil
}

// untar unpacks a gzipped tarball into target, stripping the archive's
// single top-level directory.
func untar(r io.Reader, target string) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return err
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		parts := strings.SplitN(filepath.ToSlash(header.Name), "/", 2)
		if len(parts) < 2 || parts[1] == "" {
			continue
		}
		rel := filepath.FromSlash(parts[1])
		if strings.Contains(rel, "..") {
			return fmt.Errorf("archive entry escapes target directory: %s", header.Name)
		}
		path := filepath.Join(target, rel)

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(path, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return err
			}
			file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(header.Mode)&0o777)
			if err != nil {
				return err
			}
			if _, err := io.Copy(file, tr); err != nil {
				file.Close()
				return err
			}
			if err := file.Close(); err != nil {
				return err
			}
		}
	}
}
