package ratelimit

import (
	"context"

	"echofm/logger"

	"github.com/fsnotify/fsnotify"
)

// WatchRules reloads the limiter's rule table whenever the JSON rules file is
// rewritten. Blocks until ctx is done; run it in its own goroutine.
func WatchRules(ctx context.Context, limiter *Limiter, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return err
	}
	logger.Info("Watching rate limit rules file", logger.String("path", path))

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			rules, err := LoadRulesFile(path)
			if err != nil {
				logger.Error("Failed to reload rate limit rules", logger.ErrorField(err))
				continue
			}
			limiter.SetRules(rules)
			logger.Info("Rate limit rules reloaded", logger.Int("rules", len(rules)))
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error("Rate limit rules watcher error", logger.ErrorField(err))
		}
	}
}
