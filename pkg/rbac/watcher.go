package rbac

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// PolicyWatcher reloads a policy file into a holder whenever it changes.
// The file's rules are merged onto base, which normally comes from the
// environment. A file that fails to parse leaves the previous policy in
// place.
type PolicyWatcher struct {
	path    string
	base    Policy
	holder  *PolicyHolder
	logger  *logrus.Logger
	watcher *fsnotify.Watcher
}

// NewPolicyWatcher loads path once and starts watching its directory.
// Editors and config-map mounts replace files by rename, so the directory
// is watched rather than the file.
func NewPolicyWatcher(path string, base Policy, holder *PolicyHolder, logger *logrus.Logger) (*PolicyWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve policy path: %w", err)
	}

	pw := &PolicyWatcher{
		path:   abs,
		base:   base,
		holder: holder,
		logger: logger,
	}
	if err := pw.reload(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch policy directory: %w", err)
	}
	pw.watcher = watcher
	return pw, nil
}

func (pw *PolicyWatcher) reload() error {
	p, err := LoadPolicyFile(pw.path)
	if err != nil {
		return err
	}
	pw.holder.Store(pw.base.Merge(p))
	return nil
}

// Run processes file events until ctx is cancelled
func (pw *PolicyWatcher) Run(ctx context.Context) error {
	defer pw.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-pw.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != pw.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if err := pw.reload(); err != nil {
				pw.logger.WithError(err).WithField("path", pw.path).Warn("Policy reload failed, keeping previous policy")
				continue
			}
			pw.logger.WithField("path", pw.path).Info("Role policy reloaded")
		case err, ok := <-pw.watcher.Errors:
			if !ok {
				return nil
			}
			pw.logger.WithError(err).Error("Policy watcher error")
		}
	}
}
