package call

import "sync"

// Registry 通話記錄存儲接口
// Coordinator 透過它讀寫通話狀態，可注入替代實現供測試使用
type Registry interface {
	// Get 取得通話，不存在時返回 false
	Get(callID string) (*Call, bool)

	// Set 寫入或覆蓋通話
	Set(call *Call)

	// Delete 刪除通話，不存在時靜默
	Delete(callID string)

	// List 返回所有滿足條件的通話
	List(match func(*Call) bool) []*Call
}

// MemoryRegistry 內存通話存儲
type MemoryRegistry struct {
	mu    sync.RWMutex
	calls map[string]*Call
}

// NewMemoryRegistry 創建內存通話存儲
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		calls: make(map[string]*Call),
	}
}

// Get 取得通話
func (r *MemoryRegistry) Get(callID string) (*Call, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, exists := r.calls[callID]
	if !exists {
		return nil, false
	}
	return c.Clone(), true
}

// Set 寫入或覆蓋通話
func (r *MemoryRegistry) Set(call *Call) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls[call.CallID] = call.Clone()
}

// Delete 刪除通話
func (r *MemoryRegistry) Delete(callID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.calls, callID)
}

// List 返回所有滿足條件的通話
func (r *MemoryRegistry) List(match func(*Call) bool) []*Call {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*Call
	for _, c := range r.calls {
		if match(c) {
			result = append(result, c.Clone())
		}
	}
	return result
}

// Len 當前通話數量（用於測試和監控）
func (r *MemoryRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.calls)
}
