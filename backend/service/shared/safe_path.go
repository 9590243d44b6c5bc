package shared

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SafeJoin 将 baseDir 与 rel 连接，并拒绝路径穿越。
//
// 配置名来自用户输入，落盘前必须确认结果仍在 baseDir 之内。
func SafeJoin(baseDir, rel string) (string, error) {
	if strings.TrimSpace(rel) == "" || filepath.IsAbs(rel) {
		return "", fmt.Errorf("invalid relative path: %q", rel)
	}
	baseDirClean := filepath.Clean(baseDir)
	targetClean := filepath.Clean(filepath.Join(baseDirClean, rel))
	if !strings.HasPrefix(targetClean, baseDirClean+string(os.PathSeparator)) {
		return "", fmt.Errorf("invalid path traversal detected: %s", rel)
	}
	return targetClean, nil
}
