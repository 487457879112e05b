// Package server dataproxy 的 HTTP 接口。
package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lk2023060901/xdooria-dal/pkg/dal"
	"github.com/lk2023060901/xdooria-dal/pkg/dberrors"
	"github.com/lk2023060901/xdooria-dal/pkg/logger"
	"github.com/lk2023060901/xdooria-dal/pkg/security"
	"github.com/lk2023060901/xdooria-dal/pkg/transaction"
	"github.com/lk2023060901/xdooria-dal/pkg/web"
)

// ActorHeader 请求体未指定 actor 时使用的请求头
const ActorHeader = "X-Actor"

// DataService 处理器依赖的服务能力，*dal.Service 实现该接口
type DataService interface {
	Execute(ctx context.Context, req *dal.Request) (*dal.Response, error)
	BeginTransaction(ctx context.Context, req *dal.BeginRequest) (transaction.Info, error)
	CommitTransaction(ctx context.Context, id string) (transaction.Info, error)
	RollbackTransaction(ctx context.Context, id string) (transaction.Info, error)
	CreateSavepoint(ctx context.Context, id, name string) (string, error)
	RollbackToSavepoint(ctx context.Context, id, savepointID string) error
	ReleaseSavepoint(ctx context.Context, id, savepointID string) error
	Transaction(id string) (transaction.Info, bool)
	Health() dal.HealthReport
	Stats() dal.Stats
}

var _ DataService = (*dal.Service)(nil)

// Handler 数据访问接口
type Handler struct {
	svc    DataService
	logger logger.Logger
}

// NewHandler 创建处理器
func NewHandler(svc DataService, l logger.Logger) *Handler {
	if l == nil {
		l = logger.Noop()
	}
	return &Handler{svc: svc, logger: l.Named("handler.data")}
}

// SavepointRequest 创建保存点请求
type SavepointRequest struct {
	Name string `json:"name" binding:"required"`
}

// SavepointResponse 创建保存点响应
type SavepointResponse struct {
	ID string `json:"id"`
}

// Register 注册路由
func (h *Handler) Register(r gin.IRouter) {
	api := r.Group("/api/v1")
	{
		api.POST("/operations", h.Execute)

		api.POST("/transactions", h.Begin)
		api.GET("/transactions/:id", h.GetTransaction)
		api.POST("/transactions/:id/commit", h.Commit)
		api.POST("/transactions/:id/rollback", h.Rollback)
		api.POST("/transactions/:id/savepoints", h.CreateSavepoint)
		api.POST("/transactions/:id/savepoints/:sp/rollback", h.RollbackToSavepoint)
		api.DELETE("/transactions/:id/savepoints/:sp", h.ReleaseSavepoint)

		api.GET("/health", h.Health)
		api.GET("/stats", h.Stats)
	}
}

// actor 认证身份优先于请求体与请求头
func actor(c *gin.Context, fromBody string) string {
	if id, ok := security.IdentityFrom(c.Request.Context()); ok {
		return id.Actor
	}
	if fromBody != "" {
		return fromBody
	}
	return c.GetHeader(ActorHeader)
}

// Execute 执行数据操作
// @Summary 执行数据操作
// @Tags data
// @Accept json
// @Produce json
// @Param request body dal.Request true "操作请求"
// @Success 200 {object} web.Response{data=dal.Response}
// @Failure 400 {object} web.Response
// @Failure 403 {object} web.Response
// @Router /api/v1/operations [post]
func (h *Handler) Execute(c *gin.Context) {
	var req dal.Request
	if err := web.BindJSON(c, &req); err != nil {
		web.Fail(c, err)
		return
	}
	req.Actor = actor(c, req.Actor)

	resp, err := h.svc.Execute(c.Request.Context(), &req)
	if err != nil {
		web.Fail(c, err)
		return
	}
	web.Success(c, resp)
}

// Begin 开启事务
// @Router /api/v1/transactions [post]
func (h *Handler) Begin(c *gin.Context) {
	var req dal.BeginRequest
	if err := web.BindJSON(c, &req); err != nil {
		web.Fail(c, err)
		return
	}
	req.Actor = actor(c, req.Actor)

	info, err := h.svc.BeginTransaction(c.Request.Context(), &req)
	if err != nil {
		web.Fail(c, err)
		return
	}
	web.Created(c, info)
}

// GetTransaction 查询事务状态
func (h *Handler) GetTransaction(c *gin.Context) {
	id := c.Param("id")
	info, ok := h.svc.Transaction(id)
	if !ok {
		web.Fail(c, dberrors.Transaction(transaction.ErrNotFound, "transaction %s not found", id).
			WithDetail("transactionId", id))
		return
	}
	web.Success(c, info)
}

// Commit 提交事务
func (h *Handler) Commit(c *gin.Context) {
	info, err := h.svc.CommitTransaction(c.Request.Context(), c.Param("id"))
	if err != nil {
		web.Fail(c, err)
		return
	}
	web.Success(c, info)
}

// Rollback 回滚事务
func (h *Handler) Rollback(c *gin.Context) {
	info, err := h.svc.RollbackTransaction(c.Request.Context(), c.Param("id"))
	if err != nil {
		web.Fail(c, err)
		return
	}
	web.Success(c, info)
}

// CreateSavepoint 创建保存点
func (h *Handler) CreateSavepoint(c *gin.Context) {
	var req SavepointRequest
	if err := web.BindJSON(c, &req); err != nil {
		web.Fail(c, err)
		return
	}
	id, err := h.svc.CreateSavepoint(c.Request.Context(), c.Param("id"), req.Name)
	if err != nil {
		web.Fail(c, err)
		return
	}
	web.Created(c, SavepointResponse{ID: id})
}

// RollbackToSavepoint 回滚到保存点
func (h *Handler) RollbackToSavepoint(c *gin.Context) {
	if err := h.svc.RollbackToSavepoint(c.Request.Context(), c.Param("id"), c.Param("sp")); err != nil {
		web.Fail(c, err)
		return
	}
	web.Success(c, nil)
}

// ReleaseSavepoint 释放保存点
func (h *Handler) ReleaseSavepoint(c *gin.Context) {
	if err := h.svc.ReleaseSavepoint(c.Request.Context(), c.Param("id"), c.Param("sp")); err != nil {
		web.Fail(c, err)
		return
	}
	web.Success(c, nil)
}

// Health 主连接不可用时返回 503
func (h *Handler) Health(c *gin.Context) {
	report := h.svc.Health()
	if report.Status == dal.HealthDown {
		c.JSON(http.StatusServiceUnavailable, web.Response{
			Code:    string(dberrors.CodeUnavailable),
			Message: "primary connection is unavailable",
			Data:    report,
		})
		return
	}
	web.Success(c, report)
}

// Stats 缓存、事务与连接池统计
func (h *Handler) Stats(c *gin.Context) {
	web.Success(c, h.svc.Stats())
}
