package shared

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// RotateLogFile 把非空的日志文件改名为带时间戳的文件，并清理超过 retain 的旧文件。
// 应用日志和引擎日志在每次启动前都会调用一次。
//
//	/path/engine.log -> /path/engine-20260116-235959.log
func RotateLogFile(path string, retain time.Duration) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	dir := filepath.Dir(path)
	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(filepath.Base(path), ext)
	if stem == "" {
		return nil
	}

	if st, err := os.Stat(path); err == nil && st.Size() > 0 {
		target, err := freeRotatedName(dir, stem, ext, time.Now())
		if err != nil {
			return err
		}
		if err := os.Rename(path, target); err != nil {
			return err
		}
	}

	if retain <= 0 {
		return nil
	}
	return pruneRotated(dir, stem+"-", ext, time.Now().Add(-retain))
}

func freeRotatedName(dir, stem, ext string, now time.Time) (string, error) {
	ts := now.Format("20060102-150405")
	for i := 0; ; i++ {
		name := fmt.Sprintf("%s-%s%s", stem, ts, ext)
		if i > 0 {
			name = fmt.Sprintf("%s-%s-%d%s", stem, ts, i, ext)
		}
		candidate := filepath.Join(dir, name)
		_, err := os.Stat(candidate)
		if errors.Is(err, os.ErrNotExist) {
			return candidate, nil
		}
		if err != nil {
			return "", err
		}
	}
}

func pruneRotated(dir, prefix, ext string, cutoff time.Time) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ext) {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		_ = os.Remove(filepath.Join(dir, name))
	}
	return nil
}
