package materialize

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/bassista/stackup/internal/logger"
	"github.com/sirupsen/logrus"
)

// Input is everything the generated files depend on. Identical inputs produce
// byte-identical files.
type Input struct {
	ScrapeInterval time.Duration
	JobName        string
	MetricsPath    string
	// Targets are host:port scrape candidates, in preference order.
	Targets        []string
	DataSourceName string

	// Prometheus and Grafana select which services' files are generated.
	Prometheus bool
	Grafana    bool
}

// Manifest maps a service name to the generated files (relative to the working
// directory) that are mounted into it.
type Manifest map[string][]string

// Files returns every generated file, sorted.
func (m Manifest) Files() []string {
	var out []string
	for _, files := range m {
		out = append(out, files...)
	}
	sort.Strings(out)
	return out
}

type renderedFile struct {
	service string
	path    string
	render  func() ([]byte, error)
}

// Materializer writes the stack's configuration files under a working directory.
type Materializer struct {
	workDir string
}

func New(workDir string) (*Materializer, error) {
	if workDir == "" {
		return nil, errors.New("working directory is empty")
	}
	abs, err := filepath.Abs(workDir)
	if err != nil {
		return nil, fmt.Errorf("resolve working directory: %w", err)
	}
	return &Materializer{workDir: abs}, nil
}

// WorkDir is the absolute working directory.
func (m *Materializer) WorkDir() string {
	return m.workDir
}

func (m *Materializer) log() *logrus.Entry {
	return logger.WithComponent("materialize")
}

// Materialize renders and writes every file for the selected services, then
// removes files left in the managed directories by earlier runs.
func (m *Materializer) Materialize(in Input) (Manifest, error) {
	files := planFiles(in)
	manifest := Manifest{}
	keep := map[string]bool{}

	for _, f := range files {
		payload, err := f.render()
		if err != nil {
			return nil, fmt.Errorf("render %s: %w", f.path, err)
		}
		target := filepath.Join(m.workDir, filepath.FromSlash(f.path))
		changed, err := writeAtomic(target, payload)
		if err != nil {
			return nil, err
		}
		keep[target] = true
		manifest[f.service] = append(manifest[f.service], f.path)
		m.log().WithFields(logrus.Fields{"file": f.path, "changed": changed}).Debug("file materialized")
	}

	if err := m.removeStale(keep); err != nil {
		return nil, err
	}
	for _, paths := range manifest {
		sort.Strings(paths)
	}
	m.log().Infof("materialized %d files in %s", len(keep), m.workDir)
	return manifest, nil
}

func planFiles(in Input) []renderedFile {
	var files []renderedFile
	if in.Prometheus {
		files = append(files, renderedFile{"prometheus", PrometheusConfigFile, func() ([]byte, error) { return RenderPrometheus(in) }})
	}
	if in.Grafana {
		files = append(files,
			renderedFile{"grafana", GrafanaDatasourceFile, func() ([]byte, error) { return RenderDatasource(in) }},
			renderedFile{"grafana", GrafanaProvidersFile, RenderDashboardProviders},
			renderedFile{"grafana", GrafanaDashboardFile, func() ([]byte, error) { return RenderDashboard(in) }},
		)
	}
	return files
}

// removeStale deletes regular files inside the managed directories that are not
// in keep. Empty directories are left alone; they are harmless bind-mount sources.
func (m *Materializer) removeStale(keep map[string]bool) error {
	for _, dir := range managedDirs {
		root := filepath.Join(m.workDir, dir)
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return nil
				}
				return err
			}
			if d.IsDir() || keep[path] {
				return nil
			}
			if err := os.Remove(path); err != nil {
				return fmt.Errorf("remove stale file %s: %w", path, err)
			}
			m.log().Infof("removed stale file %s", path)
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// writeAtomic replaces path with payload via a temp file in the same directory.
// It reports whether the content changed.
func writeAtomic(path string, payload []byte) (bool, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, fmt.Errorf("create directory %s: %w", dir, err)
	}

	current, err := os.ReadFile(path)
	changed := err != nil || string(current) != string(payload)

	tmpFile, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-")
	if err != nil {
		return false, fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		tmpFile.Close()
		os.Remove(tmpFile.Name())
	}()

	if _, err := tmpFile.Write(payload); err != nil {
		return false, fmt.Errorf("write temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return false, fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return false, fmt.Errorf("close temp file: %w", err)
	}
	// containers read the files as an unprivileged user
	if err := os.Chmod(tmpFile.Name(), 0o644); err != nil {
		return false, fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpFile.Name(), path); err != nil {
		return false, fmt.Errorf("replace %s: %w", path, err)
	}
	return changed, nil
}
