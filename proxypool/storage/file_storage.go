package storage

import (
	"bufio"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"skiptracer/internal/shared/logger"
	"skiptracer/proxypool/model"
)

const (
	delimiter = "|"
	numFields = 16 // ID|Scheme|Host|Port|Username|Password|Kind|Source|Country|VerifiedProtocol|Latency|LastChecked|NextChecked|FailureCount|SuccessCount|TotalUses
)

// Storage 接口定义了代理数据持久化的行为。
type Storage interface {
	Load() (map[string]*model.ProxyInfo, error)
	Save(proxies map[string]*model.ProxyInfo) error
}

// FileStorage 实现了 Storage 接口，使用纯文本文件进行持久化。
// 可能包含分隔符的文本字段以 URL 查询编码保存。
type FileStorage struct {
	filePath string
	mu       sync.RWMutex
}

// NewFileStorage 创建一个新的 FileStorage 实例。
func NewFileStorage(filePath string) *FileStorage {
	return &FileStorage{
		filePath: filePath,
	}
}

// Load 从纯文本文件加载代理数据到内存 map 中。
func (fs *FileStorage) Load() (map[string]*model.ProxyInfo, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	l := logger.WithComponent("ProxyPool/Storage")

	file, err := os.Open(fs.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			l.Info().Str("path", fs.filePath).Msg("Proxy data file not found, starting with an empty pool.")
			return make(map[string]*model.ProxyInfo), nil
		}
		return nil, err
	}
	defer file.Close()

	proxyMap := make(map[string]*model.ProxyInfo)
	scanner := bufio.NewScanner(file)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if line == "" {
			continue
		}

		fields := strings.Split(line, delimiter)
		if len(fields) != numFields {
			l.Warn().Int("line", lineNum).Int("expected", numFields).Int("got", len(fields)).Msg("Skipping malformed line in proxy file.")
			continue
		}

		p, err := parseProxyInfo(fields)
		if err != nil {
			l.Warn().Int("line", lineNum).Err(err).Msg("Failed to parse proxy info from line, skipping.")
			continue
		}
		proxyMap[p.ID] = p
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	l.Info().Int("count", len(proxyMap)).Msg("Loaded proxies from file.")
	return proxyMap, nil
}

// Save 将内存中的代理 map 持久化到纯文本文件。
func (fs *FileStorage) Save(proxies map[string]*model.ProxyInfo) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	l := logger.WithComponent("ProxyPool/Storage")

	proxyList := make([]*model.ProxyInfo, 0, len(proxies))
	for _, p := range proxies {
		proxyList = append(proxyList, p)
	}

	sort.Slice(proxyList, func(i, j int) bool {
		return proxyList[i].ID < proxyList[j].ID
	})

	var sb strings.Builder
	for _, p := range proxyList {
		sb.WriteString(formatProxyInfo(p))
		sb.WriteString("\n")
	}

	if dir := filepath.Dir(fs.filePath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	if err := os.WriteFile(fs.filePath, []byte(sb.String()), 0600); err != nil {
		return err
	}

	l.Debug().Int("count", len(proxyList)).Msg("Saved proxies to file.")
	return nil
}

// formatProxyInfo 将 ProxyInfo 对象格式化为一行文本。
func formatProxyInfo(p *model.ProxyInfo) string {
	return strings.Join([]string{
		url.QueryEscape(p.ID),
		p.Scheme,
		p.Host,
		strconv.Itoa(p.Port),
		url.QueryEscape(p.Username),
		url.QueryEscape(p.Password),
		string(p.Kind),
		url.QueryEscape(p.Source),
		url.QueryEscape(p.Country),
		p.VerifiedProtocol,
		strconv.FormatInt(p.Latency.Milliseconds(), 10),
		formatUnix(p.LastChecked),
		formatUnix(p.NextChecked),
		strconv.Itoa(p.FailureCount),
		strconv.Itoa(p.SuccessCount),
		strconv.Itoa(p.TotalUses),
	}, delimiter)
}

func formatUnix(t time.Time) string {
	if t.IsZero() {
		return "0"
	}
	return strconv.FormatInt(t.Unix(), 10)
}

// parseProxyInfo 从字符串切片解析出一个 ProxyInfo 对象。
func parseProxyInfo(fields []string) (*model.ProxyInfo, error) {
	text := make([]string, 0, 5)
	for _, i := range []int{0, 4, 5, 7, 8} {
		v, err := url.QueryUnescape(fields[i])
		if err != nil {
			return nil, fmt.Errorf("invalid field %d: %w", i, err)
		}
		text = append(text, v)
	}

	port, err := strconv.Atoi(fields[3])
	if err != nil {
		return nil, fmt.Errorf("invalid port: %w", err)
	}
	kind, err := model.ParseKind(fields[6])
	if err != nil {
		return nil, err
	}

	ints := make([]int64, 0, 6)
	for _, i := range []int{10, 11, 12, 13, 14, 15} {
		n, err := strconv.ParseInt(fields[i], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid numeric field %d: %w", i, err)
		}
		ints = append(ints, n)
	}

	p := &model.ProxyInfo{
		ID:               text[0],
		Scheme:           fields[1],
		Host:             fields[2],
		Port:             port,
		Username:         text[1],
		Password:         text[2],
		Kind:             kind,
		Source:           text[3],
		Country:          text[4],
		VerifiedProtocol: fields[9],
		Latency:          time.Duration(ints[0]) * time.Millisecond,
		FailureCount:     int(ints[3]),
		SuccessCount:     int(ints[4]),
		TotalUses:        int(ints[5]),
	}
	if ints[1] > 0 {
		p.LastChecked = time.Unix(ints[1], 0)
	}
	if ints[2] > 0 {
		p.NextChecked = time.Unix(ints[2], 0)
	}
	return p, nil
}
