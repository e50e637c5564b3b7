package http

import (
	"strings"

	"KnowledgeHub/internal/modules/knowledge/domain/kb"

	"github.com/gin-gonic/gin"
)

// identityFromContext 从 JWT 中间件写入的上下文字段还原请求者身份
func identityFromContext(c *gin.Context) (kb.Identity, bool) {
	id := kb.Identity{
		UserID:     strings.TrimSpace(c.GetString("uuid")),
		Username:   strings.TrimSpace(c.GetString("username")),
		Role:       kb.Role(strings.TrimSpace(c.GetString("role"))),
		Department: strings.TrimSpace(c.GetString("department")),
	}
	if id.UserID == "" || !id.Role.Valid() {
		return kb.Identity{}, false
	}
	return id, true
}
