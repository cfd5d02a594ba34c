package exchange

import "sync"

// SubscriptionRegistry 记录已建立推送订阅的账户
// 首次订阅成功后写入，只在进程退出时通过 Close 清空
type SubscriptionRegistry struct {
	mu      sync.Mutex
	streams map[string]func()
	closed  bool
}

func NewSubscriptionRegistry() *SubscriptionRegistry {
	return &SubscriptionRegistry{streams: make(map[string]func())}
}

// Subscribe 若 key 尚未订阅则调用 start，返回是否新建了订阅
// start 在锁内执行，同一 key 的并发订阅只会建立一次
func (r *SubscriptionRegistry) Subscribe(key string, start func() (func(), error)) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return false, nil
	}
	if _, ok := r.streams[key]; ok {
		return false, nil
	}
	stop, err := start()
	if err != nil {
		return false, err
	}
	if stop == nil {
		stop = func() {}
	}
	r.streams[key] = stop
	return true, nil
}

// Has 是否已订阅
func (r *SubscriptionRegistry) Has(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.streams[key]
	return ok
}

// Len 当前订阅数量
func (r *SubscriptionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.streams)
}

// Close 停止所有订阅
func (r *SubscriptionRegistry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, stop := range r.streams {
		stop()
		delete(r.streams, key)
	}
	r.closed = true
}
