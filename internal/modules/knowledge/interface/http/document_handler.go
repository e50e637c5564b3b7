package http

import (
	"strings"

	kbRequest "KnowledgeHub/internal/modules/knowledge/application/dto/request"
	"KnowledgeHub/internal/modules/knowledge/application/service"
	"KnowledgeHub/pkg/back"
	"KnowledgeHub/pkg/xerr"
	"KnowledgeHub/pkg/zlog"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// DocumentHandler 文档管理 HTTP Handler：入库、列表、删除
type DocumentHandler struct {
	ingestSvc *service.IngestService
	docSvc    *service.DocumentService
}

func NewDocumentHandler(ingestSvc *service.IngestService, docSvc *service.DocumentService) *DocumentHandler {
	return &DocumentHandler{ingestSvc: ingestSvc, docSvc: docSvc}
}

// Ingest 批量入库
//
// 路由: POST /kb/documents
// async=true 时只投递事件，由消费端落地
func (h *DocumentHandler) Ingest(c *gin.Context) {
	var req kbRequest.IngestRequest
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

	if req.Async {
		data, err := h.ingestSvc.EnqueueIngest(c.Request.Context(), identity, req.Documents)
		back.Result(c, data, err)
		return
	}

	data, err := h.ingestSvc.IngestDocuments(c.Request.Context(), identity, req.Documents)
	if err != nil {
		zlog.Error("文档入库失败", zap.String("userID", identity.UserID), zap.Error(err))
	}
	back.Result(c, data, err)
}

// List 文档列表（按角色过滤）
//
// 路由: GET /kb/documents
func (h *DocumentHandler) List(c *gin.Context) {
	identity, ok := identityFromContext(c)
	if !ok {
		back.Error(c, xerr.Unauthorized, "未登录")
		return
	}

	data, err := h.docSvc.ListDocuments(c.Request.Context(), identity)
	back.Result(c, data, err)
}

// Delete 删除文档及其全部派生数据
//
// 路由: DELETE /kb/documents/:uuid
func (h *DocumentHandler) Delete(c *gin.Context) {
	uuid := strings.TrimSpace(c.Param("uuid"))
	if uuid == "" {
		back.Error(c, xerr.BadRequest, xerr.ErrParam.Message)
		return
	}
	identity, ok := identityFromContext(c)
	if !ok {
		back.Error(c, xerr.Unauthorized, "未登录")
		return
	}

	err := h.docSvc.DeleteDocument(c.Request.Context(), identity, uuid)
	if err != nil {
		zlog.Error("删除文档失败",
			zap.String("documentUuid", uuid), zap.String("userID", identity.UserID), zap.Error(err))
	}
	back.Result(c, nil, err)
}
