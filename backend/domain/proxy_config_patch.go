package domain

// ApplyPatch 局部更新配置，patch 中的零值（""/0）视为未设置。
// 名称不参与更新。
func (c ProxyConfig) ApplyPatch(patch ProxyConfig) ProxyConfig {
	if patch.SNIHost != "" {
		c.SNIHost = patch.SNIHost
	}
	if patch.Path != "" {
		c.Path = patch.Path
	}
	if patch.ServerPort != 0 {
		c.ServerPort = patch.ServerPort
	}
	if patch.SOCKSPort != 0 {
		c.SOCKSPort = patch.SOCKSPort
	}
	if patch.HTTPPort != 0 {
		c.HTTPPort = patch.HTTPPort
	}
	if patch.PreSharedKey != "" {
		c.PreSharedKey = patch.PreSharedKey
	}
	return c
}
