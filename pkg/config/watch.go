package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// WatchEnvFile re-applies the env file at path each time it is written or
// replaced, until ctx is done. The parent directory is watched so editors
// that save by rename are picked up too.
//
// Reloads keep the precedence of Load: variables the process environment
// already held when watching started, and that did not come from the file,
// are never overwritten. onReload, if not nil, is called after every
// successful reload.
func WatchEnvFile(ctx context.Context, path string, logger *zap.Logger, onReload func()) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("could not resolve env file %s: %w", path, err)
	}

	host := hostKeys(abs)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("could not create watcher: %w", err)
	}

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return fmt.Errorf("could not watch %s: %w", filepath.Dir(abs), err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != abs {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}

				if err := reloadEnv(abs, host); err != nil {
					logger.Warn("failed to reload env file", zap.String("path", abs), zap.Error(err))
					continue
				}
				logger.Info("env file reloaded", zap.String("path", abs))
				if onReload != nil {
					onReload()
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("env file watcher error", zap.Error(err))
			}
		}
	}()

	return nil
}

// hostKeys returns the environment variables set outside the env file at
// path. A variable holding exactly the file's value is taken to come from
// the file.
func hostKeys(path string) map[string]bool {
	fromFile, _ := godotenv.Read(path)

	host := make(map[string]bool)
	for _, kv := range os.Environ() {
		key, value, _ := strings.Cut(kv, "=")
		if v, ok := fromFile[key]; ok && v == value {
			continue
		}
		host[key] = true
	}
	return host
}

func reloadEnv(path string, host map[string]bool) error {
	vars, err := godotenv.Read(path)
	if err != nil {
		return err
	}
	for key, value := range vars {
		if host[key] {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return fmt.Errorf("could not set %s: %w", key, err)
		}
	}
	return nil
}
