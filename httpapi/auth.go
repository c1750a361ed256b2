package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/docsync/docsync/auth"
)

type authRequest struct {
	Username  string `json:"username" binding:"required"`
	Password  string `json:"password" binding:"required"`
	AIEnabled bool   `json:"ai_enabled"`
	IsAdmin   bool   `json:"is_admin"`
}

type authResponse struct {
	Username  string `json:"username"`
	CreatedAt string `json:"created_at"`
	AIEnabled bool   `json:"ai_enabled"`
	IsAdmin   bool   `json:"is_admin"`
}

func toAuthResponse(user auth.User) authResponse {
	return authResponse{
		Username:  user.Username,
		CreatedAt: user.CreatedAt.Format(time.RFC3339),
		AIEnabled: user.AIEnabled,
		IsAdmin:   user.IsAdmin,
	}
}

func handleRegister(authManager *auth.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req authRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatus(http.StatusBadRequest)
			return
		}
		user, err := authManager.Register(req.Username, req.Password, req.AIEnabled, req.IsAdmin)
		if err != nil {
			c.AbortWithStatus(http.StatusConflict)
			return
		}
		c.JSON(http.StatusCreated, toAuthResponse(user))
	}
}

func handleLogin(authManager *auth.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req authRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatus(http.StatusBadRequest)
			return
		}
		user, err := authManager.Login(req.Username, req.Password)
		if err != nil {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		c.JSON(http.StatusOK, toAuthResponse(user))
	}
}
