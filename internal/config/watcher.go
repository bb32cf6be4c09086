// Package config triggers configuration reloads from SIGHUP and from edits to
// the configuration file.
package config

import (
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// reloadDebounce coalesces the several events one save produces into one
// reload.
const reloadDebounce = 250 * time.Millisecond

// ReloadFunc reloads the configuration at configPath. Errors are logged and the
// watcher keeps running.
type ReloadFunc func(configPath string) error

// SetupSIGHUPHandler calls reloadFn on every SIGHUP until the returned stop
// function is called.
func SetupSIGHUPHandler(configPath string, reloadFn ReloadFunc) (stop func()) {
	sighup := make(chan os.Signal, 1)
	done := make(chan struct{})
	signal.Notify(sighup, syscall.SIGHUP)

	go func() {
		for {
			select {
			case <-sighup:
				log.Info("SIGHUP received, reloading configuration...")
				runReload(configPath, reloadFn)
			case <-done:
				return
			}
		}
	}()

	log.Info("SIGHUP handler configured for config reload")
	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(sighup)
			close(done)
		})
	}
}

// WatchConfigFile reloads the configuration when the file is written or
// replaced. The directory is watched so atomic saves (temp file + rename)
// are seen too. The caller closes the returned watcher.
func WatchConfigFile(configPath string, reloadFn ReloadFunc) (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	configDir := filepath.Dir(configPath)
	configName := filepath.Base(configPath)
	if err := watcher.Add(configDir); err != nil {
		_ = watcher.Close()
		return nil, err
	}

	go func() {
		// pending fires once a burst of events has settled.
		var pending <-chan time.Time
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != configName {
					continue
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
					log.WithField("op", event.Op.String()).Debug("Config file event")
					pending = time.After(reloadDebounce)
				}
			case <-pending:
				pending = nil
				log.Info("Config file changed, reloading...")
				runReload(configPath, reloadFn)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.WithError(err).Error("File watcher error")
			}
		}
	}()

	log.Infof("Watching config file: %s", configPath)
	return watcher, nil
}

func runReload(configPath string, reloadFn ReloadFunc) {
	if err := reloadFn(configPath); err != nil {
		log.Errorf("Configuration reload failed: %v", err)
	}
}
