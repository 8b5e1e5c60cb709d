package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"noteen/backend/internal/models"
	"noteen/backend/internal/services"
)

// AuthHandler はログインを処理します。
type AuthHandler struct {
	authService *services.AuthService
}

// NewAuthHandler は新しいAuthHandlerを作成します。
func NewAuthHandler(authService *services.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

// LoginHandler はパスワードを検証し、トークンを返します。
func (h *AuthHandler) LoginHandler(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload"})
		return
	}

	token, err := h.authService.Login(req.Password)
	if err != nil {
		if errors.Is(err, services.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

// ProtectedHandler は認証済みのsubjectを返します。トークン確認用です。
func (h *AuthHandler) ProtectedHandler(c *gin.Context) {
	subject, exists := c.Get("subject")
	if !exists {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Subject not found in token claims"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Access granted", "subject": subject})
}
