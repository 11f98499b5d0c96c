package producer

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/teranos/factwire/errors"
	"github.com/teranos/factwire/fact"
)

type fileStamp struct {
	modTime time.Time
	size    int64
}

// FileFeed ingests candidate lists dropped into a directory as *.json,
// *.yaml or *.yml. Each file holds an array of candidates. A file is
// re-read only when its modification time or size changes.
type FileFeed struct {
	name   string
	dir    string
	logger *zap.SugaredLogger

	mu   sync.Mutex // serialises file processing
	seen map[string]fileStamp
}

// NewFileFeed creates a feed over dir, which must exist
func NewFileFeed(name, dir string, log *zap.SugaredLogger) (*FileFeed, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "file feed %s", name)
	}
	if !info.IsDir() {
		return nil, errors.Newf("file feed %s: %s is not a directory", name, dir)
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &FileFeed{
		name:   name,
		dir:    filepath.Clean(dir),
		logger: log,
		seen:   make(map[string]fileStamp),
	}, nil
}

func (f *FileFeed) Name() string { return f.name }

// Poll rescans the directory, catching files written while no watch ran
func (f *FileFeed) Poll(ctx context.Context, submit SubmitFunc) (int, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return 0, errors.Wrapf(err, "file feed %s: read dir", f.name)
	}

	var paths []string
	for _, e := range entries {
		if !e.IsDir() && isFeedFile(e.Name()) {
			paths = append(paths, filepath.Join(f.dir, e.Name()))
		}
	}
	sort.Strings(paths)

	total := 0
	var firstErr error
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := f.processFile(ctx, p, submit)
		total += n
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return total, firstErr
}

// Watch processes files as fsnotify reports them written
func (f *FileFeed) Watch(ctx context.Context, submit SubmitFunc, report func(int, error)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "failed to create fsnotify watcher")
	}
	defer watcher.Close()

	if err := watcher.Add(f.dir); err != nil {
		return errors.Wrapf(err, "failed to watch %s", f.dir)
	}
	f.logger.Infow("File feed watching", "feed", f.name, "dir", f.dir)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if !isFeedFile(event.Name) {
				continue
			}
			n, err := f.processFile(ctx, event.Name, submit)
			if report != nil {
				report(n, err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			f.logger.Warnw("File feed watcher error", "feed", f.name, "error", err)
		}
	}
}

func (f *FileFeed) processFile(ctx context.Context, path string, submit SubmitFunc) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, errors.Wrapf(err, "stat %s", path)
	}
	stamp := fileStamp{modTime: info.ModTime(), size: info.Size()}
	if prev, ok := f.seen[path]; ok && prev == stamp {
		return 0, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return 0, errors.Wrapf(err, "read %s", path)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		// Likely mid-write; the next event or poll picks it up
		return 0, nil
	}

	candidates, err := decodeCandidates(path, data)
	if err != nil {
		// Remember the stamp so a broken file is not re-reported every poll
		f.seen[path] = stamp
		return 0, err
	}

	admitted, err := SubmitAll(ctx, submit, withDefaults(candidates, f.name, "file://"+filepath.ToSlash(path)))
	if ctx.Err() == nil {
		f.seen[path] = stamp
	}
	f.logger.Debugw("File feed processed file",
		"feed", f.name,
		"file", filepath.Base(path),
		"candidates", len(candidates),
		"admitted", admitted)
	return admitted, err
}

func decodeCandidates(path string, data []byte) ([]fact.Candidate, error) {
	var candidates []fact.Candidate
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, &candidates); err != nil {
			return nil, errors.Wrapf(err, "parse %s", filepath.Base(path))
		}
	default:
		if err := yaml.Unmarshal(data, &candidates); err != nil {
			return nil, errors.Wrapf(err, "parse %s", filepath.Base(path))
		}
	}
	return candidates, nil
}

func isFeedFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json", ".yaml", ".yml":
		return !strings.HasPrefix(filepath.Base(name), ".")
	}
	return false
}
