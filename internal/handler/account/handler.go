package account

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/account-api/internal/handler"
	"github.com/jwalitptl/account-api/internal/model"
	"github.com/jwalitptl/account-api/internal/service/account"
)

type Handler struct {
	svc *account.Service
}

func NewHandler(svc *account.Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	accounts := r.Group("/accounts")
	{
		accounts.GET("", h.ListAll)
		accounts.GET("/business/:id", h.ListBusiness)
		accounts.GET("/:username/subusers", h.ListSubUsers)
		accounts.POST("/admin", h.CreateAdmin)
		accounts.POST("/:username/subusers", h.CreateSubUser)
		accounts.PATCH("/:username/status", h.UpdateStatus)
		accounts.DELETE("/:username", h.Delete)
	}
}

func (h *Handler) ListAll(c *gin.Context) {
	users, err := h.svc.GetAllUsers(c.Request.Context())
	if err != nil {
		c.JSON(handler.Error(err))
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(users))
}

func (h *Handler) ListBusiness(c *gin.Context) {
	users, err := h.svc.GetBusinessUsers(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(handler.Error(err))
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(users))
}

func (h *Handler) ListSubUsers(c *gin.Context) {
	users, err := h.svc.GetSubUsers(c.Request.Context(), c.Param("username"))
	if err != nil {
		c.JSON(handler.Error(err))
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(users))
}

func (h *Handler) CreateAdmin(c *gin.Context) {
	var req model.NewAdminRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	resp, err := h.svc.AddNewAdminWithBusiness(c.Request.Context(), &req)
	if err != nil {
		c.JSON(handler.Error(err))
		return
	}

	c.JSON(http.StatusCreated, handler.NewSuccessResponse(resp))
}

func (h *Handler) CreateSubUser(c *gin.Context) {
	var req model.NewSubUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	user, creds, err := h.svc.AddSubUserToBusiness(c.Request.Context(), c.Param("username"), &req)
	if err != nil {
		c.JSON(handler.Error(err))
		return
	}

	c.JSON(http.StatusCreated, handler.NewSuccessResponse(gin.H{
		"user":        user,
		"credentials": creds,
	}))
}

func (h *Handler) UpdateStatus(c *gin.Context) {
	var req model.UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	user, err := h.svc.UpdateUserStatus(c.Request.Context(), c.Param("username"), req.Status, req.Reason, "")
	if err != nil {
		c.JSON(handler.Error(err))
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(user))
}

func (h *Handler) Delete(c *gin.Context) {
	if err := h.svc.DeleteUser(c.Request.Context(), c.Param("username")); err != nil {
		c.JSON(handler.Error(err))
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse("account deleted"))
}
