package repository

import "errors"

// 通用仓储错误
var (
	// ErrNotFound 实体不存在
	ErrNotFound = errors.New("entity not found")

	// ErrInvalidData 数据无效
	ErrInvalidData = errors.New("invalid entity data")
)

// 配置相关错误
var (
	ErrConfigNotFound = errors.New("config not found")
)
