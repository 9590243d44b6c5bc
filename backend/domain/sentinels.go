package domain

import "errors"

var (
	// ErrInvalidConfig 配置字段不合法
	ErrInvalidConfig = errors.New("invalid proxy config")

	// ErrNoActiveConfig 尚未选择配置
	ErrNoActiveConfig = errors.New("no active config")

	// ErrEngineAlreadyRunning 已有引擎进程存活
	ErrEngineAlreadyRunning = errors.New("engine already running")

	// ErrEngineNotRunning 没有存活的引擎进程
	ErrEngineNotRunning = errors.New("engine not running")

	// ErrDescriptorNotFound 虚拟网卡描述尚未创建
	ErrDescriptorNotFound = errors.New("virtual interface descriptor not found")

	// ErrSystemProxyNotApplied 没有任何网络服务被成功更新
	ErrSystemProxyNotApplied = errors.New("system proxy not applied")
)
