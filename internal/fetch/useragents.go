package fetch

import (
	"math/rand"
	"net/http"
	"sync"
)

var defaultUserAgents = []string{
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_14_6) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0 Safari/537.36",
}

const (
	acceptHeader         = "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8"
	acceptLanguageHeader = "en-US,en;q=0.9"
)

// UserAgents 随机挑选浏览器 User-Agent。
type UserAgents struct {
	mu     sync.Mutex
	agents []string
	rnd    *rand.Rand
}

func NewUserAgents(agents []string, seed int64) *UserAgents {
	if len(agents) == 0 {
		agents = defaultUserAgents
	}
	return &UserAgents{agents: agents, rnd: rand.New(rand.NewSource(seed))}
}

func (u *UserAgents) Pick() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.agents[u.rnd.Intn(len(u.agents))]
}

// browserHeaders 设置类似浏览器的请求头。Accept-Encoding 交给 Transport 处理。
func browserHeaders(h http.Header, ua string) {
	h.Set("User-Agent", ua)
	h.Set("Accept", acceptHeader)
	h.Set("Accept-Language", acceptLanguageHeader)
	h.Set("Connection", "keep-alive")
}
