package registry

import (
	"context"

	"github.com/fsnotify/fsnotify"
)

// Watch marks the scanner stale whenever the package root changes on disk.
// It blocks until ctx is cancelled or the watcher fails. The scanner itself
// is never rescanned automatically; the available set only changes on an
// explicit Scan, preserving the rebuilt-wholesale contract.
func (s *Scanner) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(s.root); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename|fsnotify.Write) != 0 {
				s.log.Debugf("Package root changed (%s), marking registry stale", event.Name)
				s.markStale()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.log.WithError(err).Warn("Package root watcher error")
		}
	}
}
