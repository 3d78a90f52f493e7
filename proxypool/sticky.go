package proxypool

import "time"

// stickyRecord 存储站点到代理的粘性映射。
type stickyRecord struct {
	ProxyID string
	Expiry  time.Time
}

// stickyManager 让一个站点在 TTL 内持续使用上次成功的代理。
// 所有方法都必须在 Rotator.mu 保护下调用。
type stickyManager struct {
	ttl     time.Duration
	records map[string]*stickyRecord
}

func newStickyManager(ttl time.Duration) *stickyManager {
	return &stickyManager{ttl: ttl, records: make(map[string]*stickyRecord)}
}

// get 返回仍然有效的粘性代理ID, 并续期。usable 用于检查代理当前是否可选。
func (sm *stickyManager) get(key string, now time.Time, usable func(id string) bool) string {
	if sm.ttl <= 0 || key == "" {
		return ""
	}
	record, ok := sm.records[key]
	if !ok {
		return ""
	}
	if now.After(record.Expiry) || !usable(record.ProxyID) {
		delete(sm.records, key)
		return ""
	}
	record.Expiry = now.Add(sm.ttl)
	return record.ProxyID
}

func (sm *stickyManager) set(key, proxyID string, now time.Time) {
	if sm.ttl <= 0 || key == "" {
		return
	}
	sm.records[key] = &stickyRecord{ProxyID: proxyID, Expiry: now.Add(sm.ttl)}
}

// drop 删除 key 的记录, 仅当它仍指向 proxyID 时。
func (sm *stickyManager) drop(key, proxyID string) {
	if record, ok := sm.records[key]; ok && record.ProxyID == proxyID {
		delete(sm.records, key)
	}
}

// cleanup 移除所有过期的记录。
func (sm *stickyManager) cleanup(now time.Time) int {
	removed := 0
	for key, record := range sm.records {
		if now.After(record.Expiry) {
			delete(sm.records, key)
			removed++
		}
	}
	return removed
}

func (sm *stickyManager) setTTL(ttl time.Duration) {
	sm.ttl = ttl
	if ttl <= 0 {
		sm.records = make(map[string]*stickyRecord)
	}
}
