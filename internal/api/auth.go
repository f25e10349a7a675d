package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"classroom/internal/apperr"
	"classroom/internal/directory"
)

type loginRequest struct {
	Identifier string `json:"identifier" binding:"required"`
	Password   string `json:"password" binding:"required"`
}

type tokenResponse struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Role         directory.Role `json:"role"`
	Token        string         `json:"token"`
	RefreshToken string         `json:"refreshToken"`
	ExpiresAt    int64          `json:"expiresAt"`
}

func (h *handler) issue(c *gin.Context, u directory.User) {
	tokens, err := h.signer.Issue(u.ID, string(u.Role))
	if err != nil {
		h.fail(c, fmt.Errorf("issue token: %w", err))
		return
	}
	c.JSON(http.StatusOK, tokenResponse{
		ID:           u.ID,
		Name:         u.Name,
		Role:         u.Role,
		Token:        tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		ExpiresAt:    tokens.AccessExp.Unix(),
	})
}

// login accepts an email or register number as identifier.
func (h *handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	u, err := h.dir.Authenticate(c.Request.Context(), req.Identifier, req.Password)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.issue(c, u)
}

func (h *handler) refresh(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refreshToken" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	claims, err := h.signer.ParseRefresh(req.RefreshToken)
	if err != nil {
		h.fail(c, fmt.Errorf("invalid refresh token: %w", apperr.ErrUnauthorized))
		return
	}
	u, err := h.dir.User(c.Request.Context(), claims.UserID)
	if err != nil || u.Status != directory.StatusActive {
		h.fail(c, fmt.Errorf("user no longer active: %w", apperr.ErrUnauthorized))
		return
	}
	h.issue(c, u)
}
