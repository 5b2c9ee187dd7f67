package auth

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

type AuthHandler struct{ svc AuthService }

// public は認証なし、admin は RequireAuth + RequireRole(RoleAdmin) 済みのグループ
func RegisterRoutes(public, admin gin.IRoutes, svc AuthService) {
	h := &AuthHandler{svc: svc}
	public.POST("/login", h.Login)
	public.POST("/register", h.Register) // 一般ユーザーのみ
	admin.POST("/accounts", h.CreateAccount)
	admin.DELETE("/accounts/:id", h.DeleteAccount)
	admin.PATCH("/accounts/:id", h.ChangeUsername) // “ユーザー名変更” = id変更
}

type LoginRequest struct {
	ID       string `json:"id" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	token, err := h.svc.Login(c.Request.Context(), req.ID, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "IDまたはパスワードが間違っています"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":   token,
		"message": "Login successful",
	})
}

type RegisterRequest struct {
	ID       string  `json:"id" binding:"required"`
	Password string  `json:"password" binding:"required"`
	Role     *string `json:"role,omitempty"` // 未指定なら user。/accounts でのみ有効
}

func (h *AuthHandler) Register(c *gin.Context) {
	h.register(c, false)
}

func (h *AuthHandler) CreateAccount(c *gin.Context) {
	h.register(c, true)
}

func (h *AuthHandler) register(c *gin.Context, allowRole bool) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	role := RoleUser
	if allowRole && req.Role != nil && *req.Role != "" {
		role = *req.Role
	}

	if err := h.svc.Register(c.Request.Context(), req.ID, req.Password, role); err != nil {
		switch {
		case errors.Is(err, ErrAlreadyExists):
			c.JSON(http.StatusConflict, gin.H{"error": "ID already exists"})
		case errors.Is(err, ErrInvalidInput):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id, password or role"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "register failed"})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{"message": "registered"})
}

func (h *AuthHandler) DeleteAccount(c *gin.Context) {
	id := c.Param("id")

	if err := h.svc.Delete(c.Request.Context(), id); err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "deleted"})
}

type ChangeUsernameRequest struct {
	NewID string `json:"new_id" binding:"required"`
}

func (h *AuthHandler) ChangeUsername(c *gin.Context) {
	oldID := c.Param("id")

	var req ChangeUsernameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	if err := h.svc.ChangeID(c.Request.Context(), oldID, req.NewID); err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		case errors.Is(err, ErrAlreadyExists):
			c.JSON(http.StatusConflict, gin.H{"error": "new id already exists"})
		case errors.Is(err, ErrInvalidInput):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid new id"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "change id failed"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "username changed"})
}
