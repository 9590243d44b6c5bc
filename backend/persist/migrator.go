package persist

import (
	"encoding/json"
	"fmt"
	"time"

	"secureproxy/backend/domain"
)

// SchemaVersion 当前设置文件版本
const SchemaVersion = "1.0.0"

// Migrator 版本校验器（仅接受当前 schemaVersion）
type Migrator struct{}

// NewMigrator 创建校验器
func NewMigrator() *Migrator {
	return &Migrator{}
}

// Migrate 解析并校验版本
func (m *Migrator) Migrate(data []byte) (domain.Settings, error) {
	if len(data) == 0 {
		return domain.Settings{SchemaVersion: SchemaVersion}, nil
	}

	var meta struct {
		SchemaVersion string `json:"schemaVersion,omitempty"`
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return domain.Settings{}, fmt.Errorf("failed to parse settings: %w", err)
	}

	switch meta.SchemaVersion {
	case "", SchemaVersion:
		// 没写 schemaVersion 的文件来自手工编辑，按当前结构尽力解析。
		var s domain.Settings
		if err := json.Unmarshal(data, &s); err != nil {
			return domain.Settings{}, fmt.Errorf("failed to parse settings: %w", err)
		}
		s.SchemaVersion = SchemaVersion
		if s.GeneratedAt.IsZero() {
			s.GeneratedAt = time.Now()
		}
		if s.ActiveConfig != "" && domain.ValidateConfigName(s.ActiveConfig) != nil {
			s.ActiveConfig = ""
		}
		return s, nil
	default:
		return domain.Settings{}, fmt.Errorf("unsupported schemaVersion %s (expected %s)", meta.SchemaVersion, SchemaVersion)
	}
}
