package presence

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

// recordingMirror 记录在线/离线转换并维护成员集合，供断言使用。
type recordingMirror struct {
	online  []uint
	offline []uint
	members map[uint]bool
	err     error
}

func newRecordingMirror() *recordingMirror {
	return &recordingMirror{members: map[uint]bool{}}
}

func (m *recordingMirror) SetOnline(ctx context.Context, userID uint) error {
	m.online = append(m.online, userID)
	m.members[userID] = true
	return nil
}

func (m *recordingMirror) SetOffline(ctx context.Context, userID uint) error {
	m.offline = append(m.offline, userID)
	delete(m.members, userID)
	return nil
}

func (m *recordingMirror) IsOnline(ctx context.Context, userID uint) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	return m.members[userID], nil
}

func TestRegistryTransitions(t *testing.T) {
	mirror := newRecordingMirror()
	r := NewRegistry(mirror)
	ctx := context.Background()

	assert.False(t, r.IsOnline(1))

	// 第一个连接触发离线→在线转换
	assert.True(t, r.Register(ctx, 1, "phone"))
	assert.True(t, r.IsOnline(1))

	// 第二台设备不再触发转换
	assert.False(t, r.Register(ctx, 1, "laptop"))
	assert.ElementsMatch(t, []string{"phone", "laptop"}, r.ConnectionsFor(1))

	// 断开一个连接仍在线
	assert.False(t, r.Unregister(ctx, 1, "phone"))
	assert.True(t, r.IsOnline(1))

	// 最后一个连接断开才算离线
	assert.True(t, r.Unregister(ctx, 1, "laptop"))
	assert.False(t, r.IsOnline(1))

	assert.Equal(t, []uint{1}, mirror.online)
	assert.Equal(t, []uint{1}, mirror.offline)
}

func TestRegistryIdempotent(t *testing.T) {
	r := NewRegistry(nil)
	ctx := context.Background()

	assert.True(t, r.Register(ctx, 1, "phone"))
	// 同一连接重复注册是 no-op
	assert.False(t, r.Register(ctx, 1, "phone"))
	assert.Len(t, r.ConnectionsFor(1), 1)

	// 注销未知连接是 no-op，不产生假的离线转换
	assert.False(t, r.Unregister(ctx, 1, "ghost"))
	assert.True(t, r.IsOnline(1))
	assert.False(t, r.Unregister(ctx, 2, "nobody"))

	assert.True(t, r.Unregister(ctx, 1, "phone"))
	// 已离线用户再注销仍是 no-op
	assert.False(t, r.Unregister(ctx, 1, "phone"))
}

func TestRegistryIsOnlineAnywhere(t *testing.T) {
	mirror := newRecordingMirror()
	r := NewRegistry(mirror)
	ctx := context.Background()

	// 本地有连接：不问镜像
	r.Register(ctx, 1, "c1")
	assert.True(t, r.IsOnlineAnywhere(ctx, 1))

	// 本地没有、镜像显示在另一实例在线
	mirror.members[2] = true
	assert.False(t, r.IsOnline(2))
	assert.True(t, r.IsOnlineAnywhere(ctx, 2))

	// 两边都没有
	assert.False(t, r.IsOnlineAnywhere(ctx, 3))

	// 镜像查询失败时按在线处理（多推无害，漏推要等重连）
	mirror.err = context.DeadlineExceeded
	assert.True(t, r.IsOnlineAnywhere(ctx, 3))

	// 无镜像时退化为本地判定
	bare := NewRegistry(nil)
	assert.False(t, bare.IsOnlineAnywhere(ctx, 1))
}

func TestRegistryIsolatesUsers(t *testing.T) {
	r := NewRegistry(nil)
	ctx := context.Background()

	r.Register(ctx, 1, "c1")
	r.Register(ctx, 2, "c2")
	assert.True(t, r.IsOnline(1))
	assert.True(t, r.IsOnline(2))

	r.Unregister(ctx, 1, "c1")
	assert.False(t, r.IsOnline(1))
	assert.True(t, r.IsOnline(2))
	assert.Empty(t, r.ConnectionsFor(1))
}
