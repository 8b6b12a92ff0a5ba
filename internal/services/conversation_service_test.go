package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatsync/internal/apperrors"
	"chatsync/internal/models"
)

// fakeUserRepo 只认识在 users 集合里的用户。
type fakeUserRepo struct {
	users map[uint]*models.User
}

func (r *fakeUserRepo) GetByID(ctx context.Context, id uint) (*models.User, error) {
	u, ok := r.users[id]
	if !ok {
		return nil, fmt.Errorf("用户 %d: %w", id, apperrors.ErrNotFound)
	}
	return u, nil
}

func (r *fakeUserRepo) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	for _, u := range r.users {
		if u.Username == username {
			return u, nil
		}
	}
	return nil, fmt.Errorf("用户 %s: %w", username, apperrors.ErrNotFound)
}

func newUserRepoWith(ids ...uint) *fakeUserRepo {
	users := make(map[uint]*models.User, len(ids))
	for _, id := range ids {
		u := &models.User{Username: fmt.Sprintf("user%d", id)}
		u.ID = id
		users[id] = u
	}
	return &fakeUserRepo{users: users}
}

func TestGetOrCreatePrivateConversation(t *testing.T) {
	convoRepo := newFakeConvoRepo()
	msgRepo := newFakeMessageRepo()
	svc := NewConversationService(convoRepo, msgRepo, newUserRepoWith(1, 2))

	convo, created, err := svc.GetOrCreatePrivateConversation(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, models.PrivateConversation, convo.Type)

	// 两个成员都落了库
	for _, uid := range []uint{1, 2} {
		_, err := convoRepo.GetParticipant(context.Background(), convo.ID, uid)
		assert.NoError(t, err)
	}

	// 再次请求（参数顺序颠倒也一样）返回已有会话
	again, created, err := svc.GetOrCreatePrivateConversation(context.Background(), 2, 1)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, convo.ID, again.ID)
}

func TestGetOrCreatePrivateConversationRejectsSelf(t *testing.T) {
	svc := NewConversationService(newFakeConvoRepo(), newFakeMessageRepo(), newUserRepoWith(1))
	_, _, err := svc.GetOrCreatePrivateConversation(context.Background(), 1, 1)
	assert.ErrorIs(t, err, apperrors.ErrBadRequest)
}

func TestGetOrCreatePrivateConversationUnknownUser(t *testing.T) {
	svc := NewConversationService(newFakeConvoRepo(), newFakeMessageRepo(), newUserRepoWith(1))
	_, _, err := svc.GetOrCreatePrivateConversation(context.Background(), 1, 99)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestGetConversationMessagesPaging(t *testing.T) {
	convoRepo := newFakeConvoRepo()
	msgRepo := newFakeMessageRepo()
	svc := NewConversationService(convoRepo, msgRepo, newUserRepoWith(1, 2))

	joined := time.Now().Add(-time.Hour)
	convoID := convoRepo.seedConversation(models.PrivateConversation, joined, 1, 2)

	// 5 条消息，pageSize 2：第一页最新两条，nextPage 游标推进
	for i := 0; i < 5; i++ {
		content := fmt.Sprintf("消息 %d", i)
		require.NoError(t, msgRepo.Append(context.Background(), &models.Message{
			ID:             fmt.Sprintf("m%d", i),
			ConversationID: convoID,
			SenderID:       1,
			Content:        &content,
			SentAt:         joined.Add(time.Duration(i+1) * time.Minute),
		}, []uint{2}))
	}

	views, nextPage, err := svc.GetConversationMessages(context.Background(), 2, convoID, 1, 2)
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, "m4", views[0].MessageID) // 最新在前
	assert.Equal(t, "m3", views[1].MessageID)
	assert.Equal(t, 2, nextPage)

	// 最后一页不满，游标归零
	views, nextPage, err = svc.GetConversationMessages(context.Background(), 2, convoID, 3, 2)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, "m0", views[0].MessageID)
	assert.Equal(t, 0, nextPage)
}

func TestGetConversationMessagesFiltersByJoinedAt(t *testing.T) {
	convoRepo := newFakeConvoRepo()
	msgRepo := newFakeMessageRepo()
	svc := NewConversationService(convoRepo, msgRepo, newUserRepoWith(1, 2))

	joined := time.Now().Add(-time.Hour)
	convoID := convoRepo.seedConversation(models.GroupConversation, joined, 1, 2)

	old := "加入前的历史"
	require.NoError(t, msgRepo.Append(context.Background(), &models.Message{
		ID: "old", ConversationID: convoID, SenderID: 1, Content: &old,
		SentAt: joined.Add(-time.Minute),
	}, nil))
	fresh := "加入后的消息"
	require.NoError(t, msgRepo.Append(context.Background(), &models.Message{
		ID: "fresh", ConversationID: convoID, SenderID: 1, Content: &fresh,
		SentAt: joined.Add(time.Minute),
	}, []uint{2}))

	views, _, err := svc.GetConversationMessages(context.Background(), 2, convoID, 1, 20)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, "fresh", views[0].MessageID)
}

func TestGetConversationMessagesNonMember(t *testing.T) {
	convoRepo := newFakeConvoRepo()
	svc := NewConversationService(convoRepo, newFakeMessageRepo(), newUserRepoWith(1, 2))
	convoID := convoRepo.seedConversation(models.PrivateConversation, time.Now(), 1, 2)

	_, _, err := svc.GetConversationMessages(context.Background(), 99, convoID, 1, 20)
	assert.ErrorIs(t, err, apperrors.ErrForbidden)
}

func TestGetConversationMessagesIncludesCounts(t *testing.T) {
	convoRepo := newFakeConvoRepo()
	msgRepo := newFakeMessageRepo()
	svc := NewConversationService(convoRepo, msgRepo, newUserRepoWith(1, 2, 3))

	joined := time.Now().Add(-time.Hour)
	convoID := convoRepo.seedConversation(models.GroupConversation, joined, 1, 2, 3)

	content := "带计数的消息"
	require.NoError(t, msgRepo.Append(context.Background(), &models.Message{
		ID: "m1", ConversationID: convoID, SenderID: 1, Content: &content,
		SentAt: joined.Add(time.Minute),
	}, []uint{2, 3}))
	_, err := msgRepo.MarkDelivered(context.Background(), "m1", 2, time.Now())
	require.NoError(t, err)
	_, err = msgRepo.MarkSeen(context.Background(), "m1", 3, time.Now())
	require.NoError(t, err)

	views, _, err := svc.GetConversationMessages(context.Background(), 1, convoID, 1, 20)
	require.NoError(t, err)
	require.Len(t, views, 1)
	// 计数从回执行实时推导：2 人已投递（seen 蕴含 delivered），1 人已读
	assert.Equal(t, 2, views[0].DeliverCount)
	assert.Equal(t, 1, views[0].SeenCount)
}
