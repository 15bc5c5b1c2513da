// Copyright (c) JiaoTuan. All rights reserved.
//
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package config

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"

	"github.com/JiaoTuan/monitor/pkg/netstack"
)

// Watcher reloads the config file when it changes and hands validated
// configurations to the callback. Invalid edits are logged and the
// previous configuration stays in effect.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	logger  logr.Logger
	onLoad  func(netstack.Config)
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewWatcher starts watching the directory containing path. Watching
// the directory rather than the file survives the rename-and-replace
// write pattern editors and config management tools use.
func NewWatcher(path string, logger logr.Logger, onLoad func(netstack.Config)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create filesystem watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	w := &Watcher{
		path:    path,
		watcher: fw,
		logger:  logger.WithName("config-watcher"),
		onLoad:  onLoad,
		done:    make(chan struct{}),
	}
	w.wg.Add(1)
	go w.processEvents()
	return w, nil
}

func (w *Watcher) Close() error {
	close(w.done)
	err := w.watcher.Close()
	w.wg.Wait()
	return err
}

func (w *Watcher) processEvents() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error(err, "filesystem watcher error")
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != filepath.Clean(w.path) {
		return
	}
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}
	w.logger.V(1).Info("config file event", "file", event.Name, "op", event.Op)

	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Error(err, "config reload rejected, keeping previous", "path", w.path)
		return
	}
	w.onLoad(cfg)
}
