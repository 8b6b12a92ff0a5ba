package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"chatsync/internal/apperrors"
	"chatsync/internal/imtypes"
	"chatsync/internal/models"
)

// fakeMessageRepo 是 MessageRepository 的内存实现，行为（幂等冲突、
// 单调标记、seen 蕴含 delivered）与 GORM 实现保持一致。
type fakeMessageRepo struct {
	mu       sync.Mutex
	messages map[string]*models.Message
	receipts map[string]map[uint]*models.MessageReceipt
}

func newFakeMessageRepo() *fakeMessageRepo {
	return &fakeMessageRepo{
		messages: make(map[string]*models.Message),
		receipts: make(map[string]map[uint]*models.MessageReceipt),
	}
}

func (r *fakeMessageRepo) Append(ctx context.Context, message *models.Message, recipientIDs []uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.messages[message.ID]; exists {
		return fmt.Errorf("消息 %s 已存在: %w", message.ID, apperrors.ErrConflict)
	}
	copied := *message
	r.messages[message.ID] = &copied
	rs := make(map[uint]*models.MessageReceipt, len(recipientIDs))
	for _, uid := range recipientIDs {
		rs[uid] = &models.MessageReceipt{MessageID: message.ID, UserID: uid}
	}
	r.receipts[message.ID] = rs
	return nil
}

func (r *fakeMessageRepo) GetByID(ctx context.Context, id string) (*models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.messages[id]
	if !ok {
		return nil, fmt.Errorf("消息 %s: %w", id, apperrors.ErrNotFound)
	}
	copied := *m
	return &copied, nil
}

func (r *fakeMessageRepo) GetReceipt(ctx context.Context, messageID string, userID uint) (*models.MessageReceipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	receipt, ok := r.receipts[messageID][userID]
	if !ok {
		return nil, fmt.Errorf("消息 %s 对用户 %d 的回执: %w", messageID, userID, apperrors.ErrNotFound)
	}
	copied := *receipt
	return &copied, nil
}

func (r *fakeMessageRepo) UndeliveredFor(ctx context.Context, userID uint) ([]*models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Message
	for id, rs := range r.receipts {
		receipt, ok := rs[userID]
		if !ok || receipt.DeliveredAt != nil {
			continue
		}
		copied := *r.messages[id]
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ConversationID != out[j].ConversationID {
			return out[i].ConversationID < out[j].ConversationID
		}
		return out[i].SentAt.Before(out[j].SentAt)
	})
	return out, nil
}

func (r *fakeMessageRepo) MarkDelivered(ctx context.Context, messageID string, userID uint, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	receipt, ok := r.receipts[messageID][userID]
	if !ok {
		return false, fmt.Errorf("消息 %s 对用户 %d 的回执: %w", messageID, userID, apperrors.ErrNotFound)
	}
	if receipt.DeliveredAt != nil {
		return false, nil
	}
	t := at
	receipt.DeliveredAt = &t
	return true, nil
}

func (r *fakeMessageRepo) MarkSeen(ctx context.Context, messageID string, userID uint, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	receipt, ok := r.receipts[messageID][userID]
	if !ok {
		return false, fmt.Errorf("消息 %s 对用户 %d 的回执: %w", messageID, userID, apperrors.ErrNotFound)
	}
	if receipt.SeenAt != nil {
		return false, nil
	}
	t := at
	if receipt.DeliveredAt != nil && t.Before(*receipt.DeliveredAt) {
		t = *receipt.DeliveredAt
	}
	receipt.SeenAt = &t
	if receipt.DeliveredAt == nil {
		receipt.DeliveredAt = &t
	}
	return true, nil
}

func (r *fakeMessageRepo) ApplyEdit(ctx context.Context, messageID string, editorID uint, content string, at time.Time) (*models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.messages[messageID]
	if !ok {
		return nil, fmt.Errorf("消息 %s: %w", messageID, apperrors.ErrNotFound)
	}
	if m.SenderID != editorID {
		return nil, fmt.Errorf("用户 %d 不是消息 %s 的发送者: %w", editorID, messageID, apperrors.ErrForbidden)
	}
	if m.DeletedAt != nil {
		return nil, fmt.Errorf("消息 %s 已删除: %w", messageID, apperrors.ErrNotFound)
	}
	m.Content = &content
	m.UpdatedAt = at
	copied := *m
	return &copied, nil
}

func (r *fakeMessageRepo) ApplyDelete(ctx context.Context, messageID string, editorID uint, at time.Time) (*models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.messages[messageID]
	if !ok {
		return nil, fmt.Errorf("消息 %s: %w", messageID, apperrors.ErrNotFound)
	}
	if m.SenderID != editorID {
		return nil, fmt.Errorf("用户 %d 不是消息 %s 的发送者: %w", editorID, messageID, apperrors.ErrForbidden)
	}
	if m.DeletedAt == nil {
		t := at
		m.DeletedAt = &t
		m.Content = nil
		m.FileURL = nil
		m.UpdatedAt = at
	}
	copied := *m
	return &copied, nil
}

func (r *fakeMessageRepo) ReceiptCounts(ctx context.Context, messageID string) (models.ReceiptCounts, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var counts models.ReceiptCounts
	for _, receipt := range r.receipts[messageID] {
		if receipt.DeliveredAt != nil {
			counts.DeliverCount++
		}
		if receipt.SeenAt != nil {
			counts.SeenCount++
		}
	}
	return counts, nil
}

func (r *fakeMessageRepo) GetConversationPage(ctx context.Context, conversationID uint, joinedAt time.Time, page int, pageSize int) ([]*models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var all []*models.Message
	for _, m := range r.messages {
		if m.ConversationID != conversationID || m.SentAt.Before(joinedAt) {
			continue
		}
		copied := *m
		all = append(all, &copied)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].SentAt.After(all[j].SentAt) })
	start := (page - 1) * pageSize
	if start >= len(all) {
		return nil, nil
	}
	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], nil
}

// fakeConvoRepo 是 ConversationRepository 的内存实现。
type fakeConvoRepo struct {
	mu            sync.Mutex
	nextID        uint
	conversations map[uint]*models.Conversation
	participants  map[uint][]*models.ConversationParticipant
	lastMessages  map[uint]string
}

func newFakeConvoRepo() *fakeConvoRepo {
	return &fakeConvoRepo{
		nextID:        1,
		conversations: make(map[uint]*models.Conversation),
		participants:  make(map[uint][]*models.ConversationParticipant),
		lastMessages:  make(map[uint]string),
	}
}

// seedConversation 建一个会话并一次性加入全部成员。
func (r *fakeConvoRepo) seedConversation(convoType models.ConversationType, joinedAt time.Time, userIDs ...uint) uint {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	convo := &models.Conversation{Type: convoType}
	convo.ID = id
	r.conversations[id] = convo
	for _, uid := range userIDs {
		r.participants[id] = append(r.participants[id], &models.ConversationParticipant{
			ConversationID: id,
			UserID:         uid,
			JoinedAt:       joinedAt,
		})
	}
	return id
}

func (r *fakeConvoRepo) CreateConversation(ctx context.Context, conversation *models.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conversation.ID = r.nextID
	r.nextID++
	r.conversations[conversation.ID] = conversation
	return nil
}

func (r *fakeConvoRepo) GetConversationByID(ctx context.Context, id uint) (*models.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	convo, ok := r.conversations[id]
	if !ok {
		return nil, fmt.Errorf("会话 %d: %w", id, apperrors.ErrNotFound)
	}
	return convo, nil
}

func (r *fakeConvoRepo) GetUserConversations(ctx context.Context, userID uint, limit int, offset int) ([]*models.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Conversation
	for id, ps := range r.participants {
		for _, p := range ps {
			if p.UserID == userID {
				out = append(out, r.conversations[id])
				break
			}
		}
	}
	return out, nil
}

func (r *fakeConvoRepo) SetLastMessage(ctx context.Context, conversationID uint, messageID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastMessages[conversationID] = messageID
	return nil
}

func (r *fakeConvoRepo) FindPrivateConversationByUsers(ctx context.Context, userID1 uint, userID2 uint) (*models.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, ps := range r.participants {
		convo := r.conversations[id]
		if convo.Type != models.PrivateConversation || len(ps) != 2 {
			continue
		}
		a, b := ps[0].UserID, ps[1].UserID
		if (a == userID1 && b == userID2) || (a == userID2 && b == userID1) {
			return convo, nil
		}
	}
	return nil, nil
}

func (r *fakeConvoRepo) AddParticipant(ctx context.Context, participant *models.ConversationParticipant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.participants[participant.ConversationID] {
		if p.UserID == participant.UserID {
			return nil
		}
	}
	r.participants[participant.ConversationID] = append(r.participants[participant.ConversationID], participant)
	return nil
}

func (r *fakeConvoRepo) GetParticipant(ctx context.Context, conversationID uint, userID uint) (*models.ConversationParticipant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.participants[conversationID] {
		if p.UserID == userID {
			return p, nil
		}
	}
	return nil, fmt.Errorf("用户 %d 不是会话 %d 的成员: %w", userID, conversationID, apperrors.ErrForbidden)
}

func (r *fakeConvoRepo) GetConversationParticipants(ctx context.Context, conversationID uint) ([]*models.ConversationParticipant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.participants[conversationID], nil
}

// fakePusher 记录所有推送的信封，供断言使用。
type fakePusher struct {
	mu     sync.Mutex
	pushed []*imtypes.Envelope
	err    error
}

func (p *fakePusher) Push(ctx context.Context, env *imtypes.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.pushed = append(p.pushed, env)
	return nil
}

func (p *fakePusher) envelopes() []*imtypes.Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*imtypes.Envelope(nil), p.pushed...)
}

// byType 过滤出指定类型的信封。
func (p *fakePusher) byType(t imtypes.ServerEventType) []*imtypes.Envelope {
	var out []*imtypes.Envelope
	for _, env := range p.envelopes() {
		if env.Event.Type == t {
			out = append(out, env)
		}
	}
	return out
}

func (p *fakePusher) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pushed = nil
}
