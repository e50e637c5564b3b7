package http

import (
	"KnowledgeHub/internal/modules/knowledge/domain/kb"
	"KnowledgeHub/pkg/back"
	"KnowledgeHub/pkg/util/myjwt"
	"KnowledgeHub/pkg/xerr"

	"github.com/gin-gonic/gin"
)

// AuthHandler 签发访问令牌。
// 账号口令由上游统一认证系统校验，这里只负责把解析后的身份落进 token
type AuthHandler struct{}

func NewAuthHandler() *AuthHandler {
	return &AuthHandler{}
}

type tokenRequest struct {
	UserID     string `json:"user_id" binding:"required"`
	Username   string `json:"username"`
	Role       string `json:"role" binding:"required"`
	Department string `json:"department"`
}

// Token 路由: POST /auth/token
func (h *AuthHandler) Token(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		back.Error(c, xerr.BadRequest, xerr.ErrParam.Message)
		return
	}
	if !kb.Role(req.Role).Valid() {
		back.Error(c, xerr.BadRequest, "未知角色: "+req.Role)
		return
	}

	token, err := myjwt.GenerateToken(req.UserID, req.Username, req.Role, req.Department)
	if err != nil {
		back.Result(c, nil, err)
		return
	}
	back.Success(c, gin.H{"token": token})
}
