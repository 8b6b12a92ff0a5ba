package chatserver

import (
	"context"
	"encoding/json"
	"fmt"

	"chatsync/internal/imtypes"
	"chatsync/internal/services"
	ws "chatsync/internal/websocket"
)

// NewEventRouter 构造连接事件的分发函数：按事件类型解包负载并
// 路由到对应的服务。这是上行协议唯一的 switch 点。
func NewEventRouter(dispatch services.DispatchService, status services.StatusService) ws.EventHandler {
	return func(ctx context.Context, cc imtypes.ConnContext, event imtypes.ClientEvent) error {
		switch event.Type {
		case imtypes.SendMessageEvent:
			var input imtypes.SendMessageInput
			if err := json.Unmarshal(event.Payload, &input); err != nil {
				return fmt.Errorf("解析 send_message 负载失败: %w", err)
			}
			return dispatch.HandleSend(ctx, cc, input)

		case imtypes.AckDeliveryEvent:
			var input imtypes.AckInput
			if err := json.Unmarshal(event.Payload, &input); err != nil {
				return fmt.Errorf("解析 acknowledge_delivery 负载失败: %w", err)
			}
			return status.HandleAckBatch(ctx, cc, services.AckDeliver, input)

		case imtypes.AckSeenEvent:
			var input imtypes.AckInput
			if err := json.Unmarshal(event.Payload, &input); err != nil {
				return fmt.Errorf("解析 acknowledge_seen 负载失败: %w", err)
			}
			return status.HandleAckBatch(ctx, cc, services.AckSeen, input)

		case imtypes.EditMessageEvent:
			var input imtypes.EditMessageInput
			if err := json.Unmarshal(event.Payload, &input); err != nil {
				return fmt.Errorf("解析 edit_message 负载失败: %w", err)
			}
			return dispatch.HandleEdit(ctx, cc, input)

		case imtypes.DeleteMessageEvent:
			var input imtypes.DeleteMessageInput
			if err := json.Unmarshal(event.Payload, &input); err != nil {
				return fmt.Errorf("解析 delete_message 负载失败: %w", err)
			}
			return dispatch.HandleDelete(ctx, cc, input)

		default:
			return fmt.Errorf("未知的客户端事件类型: %s", event.Type)
		}
	}
}
