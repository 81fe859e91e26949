package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/siteflow/siteflow/pkg/console"
	"github.com/siteflow/siteflow/pkg/logger"
	"github.com/siteflow/siteflow/pkg/workflow"
)

var watchLog = logger.New("cli:watch")

// debounceWindow coalesces bursts of filesystem events (editors often write
// several times per save) into one regeneration.
const debounceWindow = 500 * time.Millisecond

// watchAndRegenerate reruns generate-all whenever a template or site
// descriptor changes, until the context is cancelled. failed seeds the
// outcome of the caller's initial pass; the most recent pass decides the
// exit code when the watch ends.
func watchAndRegenerate(ctx context.Context, flags *rootFlags, failed bool) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(flags.sitesDir); err != nil {
		return fmt.Errorf("failed to watch sites directory: %w", err)
	}
	if flags.templatesDir != "" {
		if err := watcher.Add(flags.templatesDir); err != nil {
			return fmt.Errorf("failed to watch templates directory: %w", err)
		}
	}

	console.PrintInfo("Watching for changes (Ctrl-C to stop)")

	var timer *time.Timer
	fire := make(chan struct{}, 1)
	for {
		select {
		case <-ctx.Done():
			watchLog.Print("Watch cancelled")
			if failed {
				return errFatalDiagnostics
			}
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			watchLog.Printf("Filesystem event: %s", event)
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounceWindow, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			console.PrintWarning(fmt.Sprintf("watch error: %v", err))
		case <-fire:
			compiler, _, err := buildCompiler(flags)
			if err != nil {
				console.PrintError(fmt.Sprintf("reload failed: %v", err))
				failed = true
				continue
			}
			results := compiler.GenerateAll(ctx)
			reportResults(flags, results)
			failed = workflow.AnyFailed(results)
		}
	}
}
