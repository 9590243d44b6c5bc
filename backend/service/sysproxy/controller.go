package sysproxy

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"secureproxy/backend/domain"
	"secureproxy/backend/service/applog"
)

// Controller 系统代理控制器
type Controller struct {
	store NetworkStore
	log   zerolog.Logger
}

func NewController(store NetworkStore) *Controller {
	return &Controller{store: store, log: applog.For("sysproxy")}
}

// SetSystemProxy 把所有网络服务的 SOCKS/HTTP/HTTPS 代理指向本机端口
func (c *Controller) SetSystemProxy(ctx context.Context, socksPort, httpPort int) bool {
	ok := c.update(ctx, "set", func(d ProxyDict) {
		d[KeySOCKSEnable] = 1
		d[KeySOCKSProxy] = ProxyHost
		d[KeySOCKSPort] = socksPort
		d[KeyHTTPEnable] = 1
		d[KeyHTTPProxy] = ProxyHost
		d[KeyHTTPPort] = httpPort
		d[KeyHTTPSEnable] = 1
		d[KeyHTTPSProxy] = ProxyHost
		d[KeyHTTPSPort] = httpPort
		d[KeyExceptionsList] = append([]string(nil), DefaultExceptions...)
	})
	if ok {
		c.log.Info().Int("socks", socksPort).Int("http", httpPort).Msg("系统代理已设置")
	}
	return ok
}

// ClearSystemProxy 只关闭三个开关，地址、端口、例外列表保持原样
func (c *Controller) ClearSystemProxy(ctx context.Context) bool {
	ok := c.update(ctx, "clear", func(d ProxyDict) {
		d[KeySOCKSEnable] = 0
		d[KeyHTTPEnable] = 0
		d[KeyHTTPSEnable] = 0
	})
	if ok {
		c.log.Info().Msg("系统代理已清除")
	}
	return ok
}

// Status 只读；返回第一个网络服务的设置
func (c *Controller) Status(ctx context.Context) (domain.SystemProxyState, error) {
	services, err := c.store.Services(ctx)
	if err != nil {
		return domain.SystemProxyState{}, err
	}
	if len(services) == 0 {
		return domain.SystemProxyState{}, fmt.Errorf("%w: no network services", domain.ErrSystemProxyNotApplied)
	}
	d, err := c.store.Proxies(ctx, services[0])
	if err != nil {
		return domain.SystemProxyState{}, err
	}
	host := dictString(d, KeySOCKSProxy)
	if host == "" {
		host = dictString(d, KeyHTTPProxy)
	}
	return domain.SystemProxyState{
		Service:      services[0],
		SOCKSEnabled: dictBool(d, KeySOCKSEnable),
		HTTPEnabled:  dictBool(d, KeyHTTPEnable),
		HTTPSEnabled: dictBool(d, KeyHTTPSEnable),
		Host:         host,
		SOCKSPort:    dictInt(d, KeySOCKSPort),
		HTTPPort:     dictInt(d, KeyHTTPPort),
		HTTPSPort:    dictInt(d, KeyHTTPSPort),
		Exceptions:   dictStrings(d, KeyExceptionsList),
	}, nil
}

func (c *Controller) update(ctx context.Context, op string, mutate func(ProxyDict)) bool {
	if err := c.store.Lock(ctx); err != nil {
		c.log.Error().Err(err).Str("op", op).Msg("获取网络配置锁失败")
		return false
	}
	defer c.store.Unlock()

	services, err := c.store.Services(ctx)
	if err != nil {
		c.log.Error().Err(err).Str("op", op).Msg("枚举网络服务失败")
		return false
	}

	updated := 0
	for _, svc := range services {
		d, err := c.store.Proxies(ctx, svc)
		if err != nil {
			c.log.Warn().Err(err).Str("service", svc).Msg("读取代理设置失败")
			continue
		}
		next := d.Clone()
		mutate(next)
		if err := c.store.SetProxies(ctx, svc, next); err != nil {
			c.log.Warn().Err(err).Str("service", svc).Msg("写入代理设置失败")
			continue
		}
		updated++
	}
	if updated == 0 {
		c.log.Error().Str("op", op).Int("services", len(services)).Msg("没有网络服务被更新")
		return false
	}

	if err := c.store.Commit(ctx); err != nil {
		c.log.Error().Err(err).Str("op", op).Msg("提交网络配置失败")
		return false
	}
	if err := c.store.Apply(ctx); err != nil {
		c.log.Error().Err(err).Str("op", op).Msg("应用网络配置失败")
		return false
	}
	return true
}
