package source

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"skiptracer/internal/shared/logger"
	"skiptracer/proxypool/model"
)

// Source 接口定义了获取代理列表的行为。
// 实现者只负责获取和初步解析，不进行验证。
type Source interface {
	Fetch(ctx context.Context) ([]*model.ProxyInfo, error)

	// Name 返回来源名称，用于日志记录和 ProxyInfo.Source。
	Name() string
}

// ParseProxyLine 解析一行代理配置。支持以下格式:
//
//	host:port
//	host:port:user:pass
//	user:pass@host:port
//	scheme://[user:pass@]host:port
func ParseProxyLine(line string, kind model.Kind) (*model.ProxyInfo, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, fmt.Errorf("empty proxy line")
	}

	if !strings.Contains(line, "://") {
		parts := strings.Split(line, ":")
		switch {
		case strings.Contains(line, "@"):
			line = "http://" + line
		case len(parts) == 2:
			line = "http://" + line
		case len(parts) == 4:
			line = fmt.Sprintf("http://%s:%s@%s:%s",
				url.QueryEscape(parts[2]), url.QueryEscape(parts[3]), parts[0], parts[1])
		default:
			return nil, fmt.Errorf("unrecognized proxy format %q", line)
		}
	}

	u, err := url.Parse(line)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy url %q: %w", line, err)
	}
	scheme := strings.ToLower(u.Scheme)
	switch scheme {
	case "http", "https", "socks5":
	case "socks5h":
		scheme = "socks5"
	default:
		return nil, fmt.Errorf("unsupported proxy scheme %q", u.Scheme)
	}

	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy address %q: %w", u.Host, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return nil, fmt.Errorf("invalid proxy port %q", portStr)
	}

	p := &model.ProxyInfo{
		Scheme: scheme,
		Host:   host,
		Port:   port,
		Kind:   kind,
	}
	if u.User != nil {
		p.Username = u.User.Username()
		p.Password, _ = u.User.Password()
	}
	p.ID = model.MakeID(p.Scheme, p.Host, p.Port, p.Username)
	return p, nil
}

// ParseProxyLines 解析多行代理配置，跳过空行与 # 注释，无效行记录警告后跳过。
func ParseProxyLines(lines []string, kind model.Kind, sourceName string) []*model.ProxyInfo {
	l := logger.WithComponent("ProxyPool/Source")
	now := time.Now()
	proxies := make([]*model.ProxyInfo, 0, len(lines))
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		p, err := ParseProxyLine(trimmed, kind)
		if err != nil {
			l.Warn().Int("line", i+1).Err(err).Str("source", sourceName).Msg("Invalid proxy line, skipping.")
			continue
		}
		p.Source = sourceName
		p.LastChecked = now
		proxies = append(proxies, p)
	}
	return proxies
}
