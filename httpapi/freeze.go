package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/docsync/docsync/auth"
	"github.com/docsync/docsync/store"
)

func basicAuth(c *gin.Context, authManager *auth.Manager) (auth.User, bool) {
	username, password, ok := c.Request.BasicAuth()
	if !ok {
		c.AbortWithStatus(http.StatusUnauthorized)
		return auth.User{}, false
	}
	user, err := authManager.Login(username, password)
	if err != nil {
		c.AbortWithStatus(http.StatusUnauthorized)
		return auth.User{}, false
	}
	return user, true
}

type freezeRequest struct {
	Language string `json:"language"`
}

type freezeResponse struct {
	OwnerToken    string `json:"owner_token"`
	DocumentID    string `json:"document_id"`
	FrozenAt      string `json:"frozen_at"`
	ExpiresAt     string `json:"expires_at"`
	FileExtension string `json:"file_extension"`
}

func handleFreeze(freezer store.Freezer, archive store.DocumentStore, authManager *auth.Manager, logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		docID := c.Param("id")

		user, ok := basicAuth(c, authManager)
		if !ok {
			return
		}

		var req freezeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatus(http.StatusBadRequest)
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		info, err := archive.Get(ctx, docID)
		if err != nil {
			c.AbortWithStatus(http.StatusNotFound)
			return
		}

		language := req.Language
		if language == "" {
			language = "plaintext"
		}

		doc, err := freezer.Freeze(docID, user.Username, language, info.Content)
		if err != nil {
			logger.Error().Err(err).Str("doc", docID).Msg("httpapi: freeze failed")
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}

		c.JSON(http.StatusOK, freezeResponse{
			OwnerToken:    doc.OwnerToken,
			DocumentID:    doc.DocumentID,
			FrozenAt:      doc.FrozenAt.Format(time.RFC3339),
			ExpiresAt:     doc.ExpiresAt.Format(time.RFC3339),
			FileExtension: doc.FileExtension,
		})
	}
}

func handleListFrozen(freezer store.Freezer, authManager *auth.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := basicAuth(c, authManager)
		if !ok {
			return
		}
		docs, err := freezer.List(user.Username)
		if err != nil {
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, docs)
	}
}

func handleGetFrozen(freezer store.Freezer, authManager *auth.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := basicAuth(c, authManager)
		if !ok {
			return
		}
		content, err := freezer.Read(user.Username, c.Param("id"))
		if err != nil {
			c.AbortWithStatus(http.StatusNotFound)
			return
		}
		c.String(http.StatusOK, content)
	}
}

func handleDeleteFrozen(freezer store.Freezer, authManager *auth.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := basicAuth(c, authManager)
		if !ok {
			return
		}
		if err := freezer.Delete(user.Username, c.Param("id")); err != nil {
			c.AbortWithStatus(http.StatusNotFound)
			return
		}
		c.Status(http.StatusOK)
	}
}
