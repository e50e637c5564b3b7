package http

import (
	"KnowledgeHub/internal/modules/knowledge/application/service"
	"KnowledgeHub/internal/modules/knowledge/domain/kb"
	"KnowledgeHub/pkg/back"
	"KnowledgeHub/pkg/xerr"

	"github.com/gin-gonic/gin"
)

// StatsHandler 知识库运行统计（仅管理员）
type StatsHandler struct {
	docSvc *service.DocumentService
}

func NewStatsHandler(docSvc *service.DocumentService) *StatsHandler {
	return &StatsHandler{docSvc: docSvc}
}

// Stats 路由: GET /kb/stats
func (h *StatsHandler) Stats(c *gin.Context) {
	identity, ok := identityFromContext(c)
	if !ok {
		back.Error(c, xerr.Unauthorized, "未登录")
		return
	}
	if identity.Role != kb.RoleAdmin {
		back.Error(c, xerr.Forbidden, "仅管理员可查看统计")
		return
	}

	data, err := h.docSvc.Stats(c.Request.Context())
	back.Result(c, data, err)
}
