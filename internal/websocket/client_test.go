package websocket

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatsync/internal/apperrors"
	"chatsync/internal/imtypes"
)

func decodeRejection(t *testing.T, raw []byte) imtypes.OperationRejected {
	t.Helper()
	var event imtypes.ServerEvent
	require.NoError(t, json.Unmarshal(raw, &event))
	require.Equal(t, imtypes.RejectedEvent, event.Type)
	var rej imtypes.OperationRejected
	require.NoError(t, json.Unmarshal(event.Payload, &rej))
	return rej
}

func TestRejectionMessageSurfacesTaxonomyError(t *testing.T) {
	handleErr := fmt.Errorf("用户 9 不是会话 1 的成员: %w", apperrors.ErrForbidden)
	raw, ok := rejectionMessage(imtypes.EditMessageEvent, handleErr)
	require.True(t, ok)

	rej := decodeRejection(t, raw)
	assert.Equal(t, imtypes.EditMessageEvent, rej.RequestType)
	// 被拒绝的操作必须把原因带回发起方
	assert.Contains(t, rej.Reason, "不是会话 1 的成员")
}

func TestRejectionMessageMasksInternalError(t *testing.T) {
	handleErr := errors.New("pq: connection refused at 10.0.0.3:5432")
	raw, ok := rejectionMessage(imtypes.SendMessageEvent, handleErr)
	require.True(t, ok)

	rej := decodeRejection(t, raw)
	assert.Equal(t, imtypes.SendMessageEvent, rej.RequestType)
	// 基础设施细节不透给客户端
	assert.Equal(t, "服务器内部错误", rej.Reason)
	assert.NotContains(t, rej.Reason, "10.0.0.3")
}

func TestRejectionMessageNotFound(t *testing.T) {
	handleErr := fmt.Errorf("回执 deliver/mX: %w", apperrors.ErrNotFound)
	raw, ok := rejectionMessage(imtypes.AckDeliveryEvent, handleErr)
	require.True(t, ok)

	rej := decodeRejection(t, raw)
	assert.Equal(t, imtypes.AckDeliveryEvent, rej.RequestType)
	assert.Contains(t, rej.Reason, "mX")
}
