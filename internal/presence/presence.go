package presence

import (
	"sort"
	"sync"
	"time"

	"messenger-gateway/internal/constants"
)

// Tracker 在線狀態追蹤器
// 客戶端定期送心跳，超過 TTL 沒有心跳就視為離線。
// 後台任務定期清掉過期記錄，避免 map 無限增長。
type Tracker struct {
	mu       sync.RWMutex
	lastSeen map[string]time.Time
	ttl      time.Duration
	stopChan chan struct{}
	stopOnce sync.Once

	// 測試時替換
	now func() time.Time
}

// NewTracker 創建在線狀態追蹤器
func NewTracker(ttl time.Duration) *Tracker {
	if ttl <= 0 {
		ttl = constants.DefaultPresenceTTL
	}

	t := &Tracker{
		lastSeen: make(map[string]time.Time),
		ttl:      ttl,
		stopChan: make(chan struct{}),
		now:      time.Now,
	}

	go t.cleanupLoop()

	return t
}

// Heartbeat 記錄用戶心跳
func (t *Tracker) Heartbeat(userID string) {
	if userID == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.lastSeen[userID] = t.now()
}

// IsOnline 檢查用戶是否在線
func (t *Tracker) IsOnline(userID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	seen, exists := t.lastSeen[userID]
	if !exists {
		return false
	}
	return t.now().Sub(seen) <= t.ttl
}

// OnlineUsers 返回當前在線的用戶列表，按用戶 ID 排序
func (t *Tracker) OnlineUsers() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	now := t.now()
	var online []string
	for userID, seen := range t.lastSeen {
		if now.Sub(seen) <= t.ttl {
			online = append(online, userID)
		}
	}
	sort.Strings(online)
	return online
}

// MarkOffline 主動標記用戶離線（登出時調用）
func (t *Tracker) MarkOffline(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.lastSeen, userID)
}

// cleanupLoop 定期清除過期記錄
func (t *Tracker) cleanupLoop() {
	ticker := time.NewTicker(constants.PresenceCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.cleanup()
		case <-t.stopChan:
			return
		}
	}
}

// cleanup 移除超過 TTL 兩倍時間的記錄
func (t *Tracker) cleanup() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	for userID, seen := range t.lastSeen {
		if now.Sub(seen) > 2*t.ttl {
			delete(t.lastSeen, userID)
		}
	}
}

// Close 停止後台清理任務
func (t *Tracker) Close() {
	t.stopOnce.Do(func() {
		close(t.stopChan)
	})
}
