package http

import (
	kbRequest "KnowledgeHub/internal/modules/knowledge/application/dto/request"
	"KnowledgeHub/internal/modules/knowledge/application/service"
	"KnowledgeHub/pkg/back"
	"KnowledgeHub/pkg/xerr"
	"KnowledgeHub/pkg/zlog"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// QueryHandler 知识问答 HTTP Handler
type QueryHandler struct {
	querySvc *service.QueryService
}

func NewQueryHandler(querySvc *service.QueryService) *QueryHandler {
	return &QueryHandler{querySvc: querySvc}
}

// Query 处理知识问答请求
//
// 路由: POST /kb/query
// 鉴权: 需要 JWT（从 authed 分组继承）
func (h *QueryHandler) Query(c *gin.Context) {
	var req kbRequest.QueryRequest
	if err := c.BindJSON(&req); err != nil {
		zlog.Error(err.Error())
		back.Error(c, xerr.BadRequest, xerr.ErrParam.Message)
		return
	}
	identity, ok := identityFromContext(c)
	if !ok {
		back.Error(c, xerr.Unauthorized, "未登录")
		return
	}

	data, err := h.querySvc.Query(c.Request.Context(), identity, req)
	if err != nil {
		zlog.Error("知识问答失败", zap.String("userID", identity.UserID), zap.Error(err))
	}
	back.Result(c, data, err)
}

// ClearSession 清空会话历史
//
// 路由: POST /kb/session/clear
func (h *QueryHandler) ClearSession(c *gin.Context) {
	var req kbRequest.ClearSessionRequest
	if err := c.BindJSON(&req); err != nil {
		back.Error(c, xerr.BadRequest, xerr.ErrParam.Message)
		return
	}
	if _, ok := identityFromContext(c); !ok {
		back.Error(c, xerr.Unauthorized, "未登录")
		return
	}

	err := h.querySvc.ClearSession(c.Request.Context(), req.SessionID)
	back.Result(c, nil, err)
}
