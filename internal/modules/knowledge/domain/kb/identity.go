package kb

import "time"

// Role 封闭角色集合。新增角色必须同步修改 access.Filter 里的穷举分支，
// 不允许用未知字符串扩展角色
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleResearcher Role = "researcher"
	RoleViewer     Role = "viewer"
)

// Valid 校验角色是否属于封闭集合
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleResearcher, RoleViewer:
		return true
	}
	return false
}

// Identity 完整解析后的请求身份（由 JWT 中间件提供，核心不做认证）
// 非 admin 角色必须携带部门标签
type Identity struct {
	UserID     string
	Username   string
	Role       Role
	Department string
}

// 会话消息角色
const (
	MessageRoleUser      = "user"
	MessageRoleAssistant = "assistant"
)

// Message 会话中的一条消息
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// RetrievalResult 过滤之后组装的检索结果。
// 反规范化的 FileName/Department 只用于归属展示，不代表所有权
type RetrievalResult struct {
	DocumentUuid string  `json:"document_uuid"`
	ChunkID      int64   `json:"chunk_id"`
	FileName     string  `json:"file_name"`
	Department   string  `json:"department"`
	Content      string  `json:"content"`
	Score        float32 `json:"score"`
}
