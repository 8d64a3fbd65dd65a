package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/golang/glog"
	"github.com/pkg/errors"
)

// Editors and build tools write an image in several steps; wait for the
// burst of events to settle before uploading.
const watchSettle = 500 * time.Millisecond

// Watch uploads cmd again each time its file is written, until ctx is done.
func (a *App) Watch(ctx context.Context, cmd command) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "create file watcher")
	}
	defer watcher.Close()

	// Watch the directory so replace-by-rename is seen as a Create.
	dir := filepath.Dir(cmd.path)
	if err := watcher.Add(dir); err != nil {
		return errors.Wrapf(err, "watch %s", dir)
	}

	fmt.Fprintf(a.out, "Watching '%s' for changes, press Ctrl+C to stop.\n", cmd.path)
	a.watchLoop(ctx, cmd, watcher.Events, watcher.Errors, watchSettle)
	return nil
}

func (a *App) watchLoop(ctx context.Context, cmd command, events <-chan fsnotify.Event, errs <-chan error, settle time.Duration) {
	target := filepath.Clean(cmd.path)
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
				glog.V(1).Infof("watch: %s", ev)
				fire = time.After(settle)
			}

		case err, ok := <-errs:
			if !ok {
				return
			}
			glog.Warningf("watch %s: %v", cmd.path, err)

		case <-fire:
			fire = nil
			a.FlashCommand(ctx, cmd, oneShotBarWidth)
		}
	}
}
