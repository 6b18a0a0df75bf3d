package handler

import (
	"strconv"
	"time"

	"edunotify/internal/service"
	"edunotify/pkg/response"

	"github.com/gin-gonic/gin"
)

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	notifyService *service.NotifyService
	statsService  *service.StatsService
}

// NewHandler 创建处理器实例
func NewHandler(notifyService *service.NotifyService, statsService *service.StatsService) *Handler {
	return &Handler{
		notifyService: notifyService,
		statsService:  statsService,
	}
}

// tenantID 调用方的租户范围：优先取 X-Tenant-ID 头，其次 tenant_id 参数
func tenantID(c *gin.Context) string {
	if id := c.GetHeader("X-Tenant-ID"); id != "" {
		return id
	}
	return c.Query("tenant_id")
}

// ============================================================
// 入队接口
// ============================================================

// Enqueue 入队单条通知
// POST /api/v1/notify/enqueue
func (h *Handler) Enqueue(c *gin.Context) {
	var req service.EnqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	msg, err := h.notifyService.Enqueue(c.Request.Context(), &req)
	if err != nil {
		response.BusinessError(c, response.CodeEnqueueFailed, err.Error())
		return
	}

	response.Success(c, msg)
}

// EnqueueBatch 批量入队通知
// POST /api/v1/notify/enqueue/batch
func (h *Handler) EnqueueBatch(c *gin.Context) {
	var reqs []*service.EnqueueRequest
	if err := c.ShouldBindJSON(&reqs); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	msgs, err := h.notifyService.EnqueueBatch(c.Request.Context(), reqs)
	if err != nil {
		response.BusinessError(c, response.CodeEnqueueFailed, err.Error())
		return
	}

	response.Success(c, gin.H{
		"count": len(msgs),
		"list":  msgs,
	})
}

// ============================================================
// 统计与日志接口
// ============================================================

// GetStatistics 发送统计
// GET /api/v1/notify/stats?tenant_id=xxx&from=RFC3339&to=RFC3339
func (h *Handler) GetStatistics(c *gin.Context) {
	var from, to *time.Time
	if s := c.Query("from"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			response.ParamError(c, "from 参数格式错误，需要 RFC3339")
			return
		}
		from = &t
	}
	if s := c.Query("to"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			response.ParamError(c, "to 参数格式错误，需要 RFC3339")
			return
		}
		to = &t
	}

	stats, err := h.statsService.GetStatistics(c.Request.Context(), from, to, tenantID(c))
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, stats)
}

// ListRecent 最近的消息日志
// GET /api/v1/notify/logs/recent?limit=50
func (h *Handler) ListRecent(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	logs, err := h.statsService.ListRecent(c.Request.Context(), tenantID(c), limit)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"count": len(logs),
		"list":  logs,
	})
}

// ListByStatus 按状态查询消息日志
// GET /api/v1/notify/logs?status=FAILED&limit=50
func (h *Handler) ListByStatus(c *gin.Context) {
	status := c.Query("status")
	if status == "" {
		response.ParamError(c, "status 参数不能为空")
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	logs, err := h.statsService.ListByStatus(c.Request.Context(), status, tenantID(c), limit)
	if err != nil {
		response.BusinessError(c, response.CodeInvalidStatus, err.Error())
		return
	}

	response.Success(c, gin.H{
		"count": len(logs),
		"list":  logs,
	})
}

// GetPendingCount 待发送消息数
// GET /api/v1/notify/pending-count
func (h *Handler) GetPendingCount(c *gin.Context) {
	count, err := h.statsService.GetPendingCount(c.Request.Context(), tenantID(c))
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, gin.H{"count": count})
}

// GetFailedCount 失败消息数
// GET /api/v1/notify/failed-count
func (h *Handler) GetFailedCount(c *gin.Context) {
	count, err := h.statsService.GetFailedCount(c.Request.Context(), tenantID(c))
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, gin.H{"count": count})
}

// ============================================================
// 运营操作接口
// ============================================================

// RetryFailed 人工恢复永久失败的消息
// POST /api/v1/notify/retry-failed
func (h *Handler) RetryFailed(c *gin.Context) {
	reset, err := h.statsService.RetryFailed(c.Request.Context(), tenantID(c))
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, gin.H{"reset": reset})
}

// TriggerCycle 手动触发一次调度周期
// POST /api/v1/notify/trigger
func (h *Handler) TriggerCycle(c *gin.Context) {
	if !h.statsService.TriggerCycle(c.Request.Context()) {
		response.BusinessError(c, response.CodeCycleRunning, "调度周期正在运行，本次触发被丢弃")
		return
	}
	response.Success(c, gin.H{"message": "调度周期已触发"})
}
