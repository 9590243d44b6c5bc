package shared

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// EngineEntryCandidates 引擎入口候选：打包好的二进制优先，其次是脚本
var EngineEntryCandidates = []string{"secureproxy-engine", "client.py"}

// FindEngineEntry 在目录中查找引擎入口（支持子目录 1 层）
func FindEngineEntry(dir string, candidates []string) (string, error) {
	if dir == "" {
		return "", errors.New("engine dir is empty")
	}
	if len(candidates) == 0 {
		return "", errors.New("engine entry candidates are empty")
	}

	if path, ok := firstRegularFile(dir, candidates); ok {
		return path, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("engine entry not found in %s (candidates: %v): %w", dir, candidates, err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if path, ok := firstRegularFile(filepath.Join(dir, entry.Name()), candidates); ok {
			return path, nil
		}
	}
	return "", fmt.Errorf("engine entry not found in %s (candidates: %v)", dir, candidates)
}

func firstRegularFile(dir string, names []string) (string, bool) {
	for _, name := range names {
		path := filepath.Join(dir, name)
		if st, err := os.Stat(path); err == nil && st.Mode().IsRegular() {
			return path, true
		}
	}
	return "", false
}
