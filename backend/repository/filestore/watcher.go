package filestore

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"secureproxy/backend/repository/events"
)

// DefaultWatchDebounce 目录变化合并窗口
const DefaultWatchDebounce = 200 * time.Millisecond

// Watch 监听配置目录，外部修改合并后发布 config.changed；ctx 结束时返回
func (r *ConfigRepo) Watch(ctx context.Context, debounce time.Duration) error {
	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(r.dir); err != nil {
		return err
	}

	var (
		timer   *time.Timer
		timerC  <-chan time.Time
		changed = map[string]struct{}{}
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			base := filepath.Base(ev.Name)
			if !strings.HasSuffix(base, configExt) || strings.HasPrefix(base, ".") {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			changed[strings.TrimSuffix(base, configExt)] = struct{}{}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			timerC = timer.C
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			r.log.Warn().Err(err).Msg("配置目录监听出错")
		case <-timerC:
			timerC = nil
			for name := range changed {
				r.publish(events.ConfigEvent{EventType: events.EventConfigChanged, Name: name})
			}
			changed = map[string]struct{}{}
		}
	}
}
