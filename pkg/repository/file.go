package repository

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/aegisgov/decision-engine/pkg/domain"
)

// policyFile is the on-disk document shape.
type policyFile struct {
	Policies []PolicySpec `yaml:"policies"`
}

// FileRepository loads policies from a YAML file and hot-reloads on change,
// bumping the version so the decision cache invalidates. A reload that fails
// to parse or compile keeps the previous snapshot serving.
type FileRepository struct {
	path    string
	inner   *MemoryRepository
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	log     zerolog.Logger
}

// NewFileRepository loads the file once and starts watching its directory.
func NewFileRepository(ctx context.Context, path string, log zerolog.Logger) (*FileRepository, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve policy file path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create policy file watcher: %w", err)
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	r := &FileRepository{
		path:    absPath,
		inner:   NewMemoryRepository(),
		watcher: watcher,
		cancel:  cancel,
		log:     log,
	}

	if err := r.load(ctx); err != nil {
		cancel()
		_ = watcher.Close()
		return nil, err
	}

	// Watch the directory, not the file: editors and config mounts replace
	// the file by rename.
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		cancel()
		_ = watcher.Close()
		return nil, fmt.Errorf("watch policy directory: %w", err)
	}

	go r.watchLoop(watchCtx)
	return r, nil
}

// ActivePolicies implements domain.PolicyRepository.
func (r *FileRepository) ActivePolicies(ctx context.Context, hint domain.ScopeHint) ([]domain.Policy, string, error) {
	return r.inner.ActivePolicies(ctx, hint)
}

// Version implements domain.PolicyRepository.
func (r *FileRepository) Version(ctx context.Context) (string, error) {
	return r.inner.Version(ctx)
}

// Subscribe implements domain.VersionWatcher.
func (r *FileRepository) Subscribe(fn func(version string)) {
	r.inner.Subscribe(fn)
}

// Close stops the watcher.
func (r *FileRepository) Close() error {
	r.cancel()
	return r.watcher.Close()
}

func (r *FileRepository) load(ctx context.Context) error {
	// #nosec G304 -- File path is configured at startup
	data, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("read policy file: %w", err)
	}

	var doc policyFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse policy file: %w", err)
	}

	policies, err := CompileAll(ctx, doc.Policies)
	if err != nil {
		return fmt.Errorf("compile policy file: %w", err)
	}

	version := r.inner.Publish(policies)
	r.log.Info().Str("path", r.path).Int("policies", len(policies)).Str("version", version).Msg("policy file loaded")
	return nil
}

func (r *FileRepository) watchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != r.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if err := r.load(ctx); err != nil {
				// Keep serving the previous snapshot.
				r.log.Error().Err(err).Msg("policy file reload failed; keeping previous policy set")
			}
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.log.Error().Err(err).Msg("policy file watcher error")
		}
	}
}
