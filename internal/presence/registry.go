package presence

import (
	"context"
	"log"
	"sync"
)

// Mirror 把在线状态写到外部存储（Redis），并回答"该用户是否在任一实例
// 在线"。对本进程的连接而言真相始终是本地连接表；镜像只在跨实例
// 推送判定时作为参考信号被读取。
type Mirror interface {
	SetOnline(ctx context.Context, userID uint) error
	SetOffline(ctx context.Context, userID uint) error
	IsOnline(ctx context.Context, userID uint) (bool, error)
}

// Registry 跟踪哪些用户在本进程持有至少一个活跃连接。
// 进程本地、纯内存：离线是推导事实，进程重启后由活跃连接重建，
// 不需要持久化。持久化的是逐消息逐接收者的回执，那才是
// "消息有没有到达过这个用户" 的耐久代理。
type Registry struct {
	mu sync.RWMutex
	// userID → 该用户的活跃连接ID集合。空集合等价于离线。
	connections map[uint]map[string]struct{}
	mirror      Mirror
}

// NewRegistry 创建一个注册表。mirror 可以为 nil。
func NewRegistry(mirror Mirror) *Registry {
	return &Registry{
		connections: make(map[uint]map[string]struct{}),
		mirror:      mirror,
	}
}

// Register adds a connection for the user. Idempotent: registering the same
// connection twice is a no-op. Returns true when this is the user's first
// live connection (offline → online transition).
func (r *Registry) Register(ctx context.Context, userID uint, connID string) bool {
	r.mu.Lock()
	conns, ok := r.connections[userID]
	if !ok {
		conns = make(map[string]struct{})
		r.connections[userID] = conns
	}
	wasOffline := len(conns) == 0
	conns[connID] = struct{}{}
	r.mu.Unlock()

	if wasOffline && r.mirror != nil {
		if err := r.mirror.SetOnline(ctx, userID); err != nil {
			log.Printf("在线状态镜像写入失败 (用户 %d): %v", userID, err)
		}
	}
	return wasOffline
}

// Unregister removes a connection. Idempotent: removing an unknown connection
// is a no-op. Returns true when the user's connection set became empty
// (online → offline transition).
func (r *Registry) Unregister(ctx context.Context, userID uint, connID string) bool {
	r.mu.Lock()
	conns, ok := r.connections[userID]
	if ok {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(r.connections, userID)
		}
	}
	wentOffline := ok && len(conns) == 0
	r.mu.Unlock()

	if wentOffline && r.mirror != nil {
		if err := r.mirror.SetOffline(ctx, userID); err != nil {
			log.Printf("离线状态镜像写入失败 (用户 %d): %v", userID, err)
		}
	}
	return wentOffline
}

// IsOnlineAnywhere reports whether the user is online on this instance or,
// per the mirror, on any other instance. 镜像查询失败时按在线处理：
// 多推的信封最多被各实例的 Hub 丢弃，漏推则要等到下次重连同步才补上。
func (r *Registry) IsOnlineAnywhere(ctx context.Context, userID uint) bool {
	if r.IsOnline(userID) {
		return true
	}
	if r.mirror == nil {
		return false
	}
	online, err := r.mirror.IsOnline(ctx, userID)
	if err != nil {
		log.Printf("在线状态镜像查询失败 (用户 %d)，按在线处理: %v", userID, err)
		return true
	}
	return online
}

// IsOnline reports whether the user has at least one live connection.
func (r *Registry) IsOnline(userID uint) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections[userID]) > 0
}

// ConnectionsFor returns the user's live connection ids. The hub fans an
// envelope out across the user's devices through this snapshot.
func (r *Registry) ConnectionsFor(userID uint) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := r.connections[userID]
	out := make([]string, 0, len(conns))
	for id := range conns {
		out = append(out, id)
	}
	return out
}
