package detect

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"yogai/ml"
)

// Registry maps pose names to detector factories. Its configuration
// is fixed after construction; artifacts are loaded lazily, cached,
// and invalidated when the artifact file changes on disk. Every
// NewDetector call hands out a fresh, independently stateful detector
// so distinct sessions never share tracker state.
type Registry struct {
	dir    string
	logger *zap.Logger

	mu        sync.RWMutex
	specs     map[string]PoseSpec
	available map[string]bool

	cache   *lru.Cache[string, *ml.Artifact]
	watcher *fsnotify.Watcher
	done    chan struct{}
}

func NewRegistry(dir string, specs []PoseSpec, logger *zap.Logger) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cache, err := lru.New[string, *ml.Artifact](16)
	if err != nil {
		return nil, err
	}

	r := &Registry{
		dir:       dir,
		logger:    logger,
		specs:     make(map[string]PoseSpec, len(specs)),
		available: make(map[string]bool, len(specs)),
		cache:     cache,
		done:      make(chan struct{}),
	}

	for _, spec := range specs {
		if err := spec.Validate(); err != nil {
			return nil, &ConfigError{Pose: spec.Name, Err: err}
		}
		if _, dup := r.specs[spec.Name]; dup {
			return nil, &ConfigError{Pose: spec.Name, Err: errors.New("duplicate pose name")}
		}
		r.specs[spec.Name] = spec
	}

	// Probe full detector construction up front so unsupported poses
	// are known before the first frame, not discovered mid-session. An
	// artifact that loads but does not fit its pose spec (class
	// mapping, feature dimensions) must not be offered either.
	for name := range r.specs {
		if _, err := r.NewDetector(name); err != nil {
			logger.Warn("pose unavailable",
				zap.String("pose", name),
				zap.Error(err))
			continue
		}
		r.available[name] = true
	}

	return r, nil
}

func (r *Registry) Supports(poseName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.available[poseName]
}

// Poses returns the names of poses with a loadable detector, sorted.
func (r *Registry) Poses() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.available))
	for name, ok := range r.available {
		if ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Known returns every configured pose name, loadable or not.
func (r *Registry) Known() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.specs))
	for name := range r.specs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Spec(poseName string) (PoseSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.specs[poseName]
	return spec, ok
}

// NewDetector constructs a fresh stateful detector for the pose. The
// caller owns the instance and is responsible for reusing it across
// the frames of one session.
func (r *Registry) NewDetector(poseName string) (Detector, error) {
	r.mu.RLock()
	spec, ok := r.specs[poseName]
	r.mu.RUnlock()
	if !ok {
		return nil, &ConfigError{Pose: poseName, Err: errors.New("pose not configured")}
	}

	artifact, err := r.artifact(poseName)
	if err != nil {
		return nil, err
	}
	detector, err := newClassifierDetector(spec, artifact)
	if err != nil {
		return nil, &ConfigError{Pose: poseName, Err: err}
	}
	return detector, nil
}

func (r *Registry) artifact(poseName string) (*ml.Artifact, error) {
	if cached, ok := r.cache.Get(poseName); ok {
		return cached, nil
	}

	r.mu.RLock()
	spec, ok := r.specs[poseName]
	r.mu.RUnlock()
	if !ok {
		return nil, &ConfigError{Pose: poseName, Err: errors.New("pose not configured")}
	}

	artifact, err := ml.LoadArtifact(filepath.Join(r.dir, spec.Artifact))
	if err != nil {
		return nil, &ConfigError{Pose: poseName, Err: err}
	}
	if artifact.Pose != "" && artifact.Pose != spec.Name {
		return nil, &ConfigError{
			Pose: poseName,
			Err:  fmt.Errorf("artifact trained for pose %q", artifact.Pose),
		}
	}
	r.cache.Add(poseName, artifact)
	return artifact, nil
}

// Watch begins invalidating cached artifacts when their files change,
// so a retrained model is picked up by the next detector construction
// without a restart.
func (r *Registry) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(r.dir); err != nil {
		watcher.Close()
		return err
	}
	r.watcher = watcher

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				r.handleArtifactChange(filepath.Base(event.Name))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				r.logger.Error("artifact watcher", zap.Error(err))
			case <-r.done:
				return
			}
		}
	}()
	return nil
}

func (r *Registry) handleArtifactChange(base string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name, spec := range r.specs {
		if filepath.Base(spec.Artifact) != base {
			continue
		}
		artifact, err := ml.LoadArtifact(filepath.Join(r.dir, spec.Artifact))
		if err != nil {
			// A half-written or broken replacement must not take a
			// working pose down; the cached copy keeps serving.
			r.logger.Error("artifact reload failed",
				zap.String("pose", name),
				zap.Error(err))
			continue
		}
		if _, err := newClassifierDetector(spec, artifact); err != nil {
			r.logger.Error("artifact reload failed",
				zap.String("pose", name),
				zap.Error(err))
			continue
		}
		r.cache.Add(name, artifact)
		r.available[name] = true
		r.logger.Info("artifact reloaded", zap.String("pose", name))
	}
}

func (r *Registry) Close() error {
	close(r.done)
	if r.watcher != nil {
		return r.watcher.Close()
	}
	return nil
}
