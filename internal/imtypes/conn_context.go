package imtypes

// ConnContext 是连接级身份：UserID 来自连接建立时的会话层断言（JWT），
// ConnID 是本进程为该连接生成的 UUID。它被显式传入每个事件处理函数，
// 而不是从全局状态读取。
type ConnContext struct {
	UserID uint
	ConnID string
}

// Envelope 是出站事件的寻址单元。ConnID 为空表示投递给该用户的所有
// 在线连接；非空则只投递给指定连接（重连同步只发给新连接）。
type Envelope struct {
	UserID uint        `json:"userId"`
	ConnID string      `json:"connId,omitempty"`
	Event  ServerEvent `json:"event"`
}
