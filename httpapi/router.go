// Package httpapi exposes the collaborative editor over HTTP: the WebSocket
// upgrade endpoint, plain-text export, process stats, and the peripheral
// freeze/auth surface. None of it participates in OT correctness.
package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/docsync/docsync/auth"
	"github.com/docsync/docsync/internal/idgen"
	"github.com/docsync/docsync/registry"
	"github.com/docsync/docsync/store"
	"github.com/docsync/docsync/transport"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// startTime is captured once at package init so /api/stats can report
// process uptime the way rustpad's Stats.start_time does.
var startTime = time.Now()

// NewRouter wires the full HTTP surface. freezer and authManager may be nil,
// in which case the freeze/auth routes respond 404.
func NewRouter(reg *registry.Registry, archive store.DocumentStore, freezer store.Freezer, authManager *auth.Manager, logger zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/api/text/:id", handleGetText(archive, logger))
	r.GET("/api/stats", handleStats(reg, archive, logger))
	r.POST("/api/documents", handleNewDocument)
	r.GET("/ws/:id", handleSocket(reg, logger))

	if freezer != nil && authManager != nil {
		r.POST("/api/documents/:id/freeze", handleFreeze(freezer, archive, authManager, logger))
		r.GET("/api/documents/frozen", handleListFrozen(freezer, authManager))
		r.GET("/api/documents/frozen/:id", handleGetFrozen(freezer, authManager))
		r.DELETE("/api/documents/frozen/:id", handleDeleteFrozen(freezer, authManager))
	}
	if authManager != nil {
		r.POST("/api/auth/register", handleRegister(authManager))
		r.POST("/api/auth/login", handleLogin(authManager))
	}

	return r
}

func handleGetText(archive store.DocumentStore, logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		docID := c.Param("id")
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		info, err := archive.Get(ctx, docID)
		if err != nil {
			c.AbortWithStatus(http.StatusNotFound)
			return
		}
		c.String(http.StatusOK, info.Content)
	}
}

// statsResponse reports process-wide numbers: live sessions, total attached
// participants, total bytes ever inserted across all logged operations,
// process uptime, and how many documents the archive store holds.
type statsResponse struct {
	Sessions     int    `json:"sessions"`
	Participants int    `json:"participants"`
	BytesLogged  int64  `json:"bytes_logged"`
	StartTime    string `json:"start_time"`
	DatabaseSize int    `json:"database_size"`
}

func handleStats(reg *registry.Registry, archive store.DocumentStore, logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessions := reg.Sessions()
		resp := statsResponse{Sessions: len(sessions), StartTime: startTime.Format(time.RFC3339)}
		for _, sess := range sessions {
			resp.Participants += sess.ParticipantCount()
			for _, entry := range sess.History() {
				for _, comp := range entry.Op.Ops {
					resp.BytesLogged += int64(len(comp.Insert))
				}
			}
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		if docs, err := archive.List(ctx); err != nil {
			logger.Warn().Err(err).Msg("httpapi: failed to count archive documents")
		} else {
			resp.DatabaseSize = len(docs)
		}

		c.JSON(http.StatusOK, resp)
	}
}

// newDocumentResponse hands back a fresh document id a client can open a
// WebSocket to without colliding with an existing session.
type newDocumentResponse struct {
	ID string `json:"id"`
}

func handleNewDocument(c *gin.Context) {
	c.JSON(http.StatusCreated, newDocumentResponse{ID: idgen.NewDocumentID()})
}

func handleSocket(reg *registry.Registry, logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		docID := c.Param("id")
		if docID == "" {
			c.AbortWithStatus(http.StatusNotFound)
			return
		}

		name := c.DefaultQuery("name", "Anonymous")
		hue := 0
		if raw := c.Query("hue"); raw != "" {
			if parsed, err := strconv.Atoi(raw); err == nil {
				hue = parsed
			}
		}
		var resumeRevision uint64
		if raw := c.Query("resume_revision"); raw != "" {
			if parsed, err := strconv.ParseUint(raw, 10, 64); err == nil {
				resumeRevision = parsed
			}
		}

		sess, err := reg.GetOrCreate(c.Request.Context(), docID)
		if err != nil {
			logger.Error().Err(err).Str("doc", docID).Msg("httpapi: failed to get or create session")
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		reg.Attach(docID)
		defer reg.Detach(docID)

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Error().Err(err).Msg("httpapi: websocket upgrade failed")
			return
		}

		driver := transport.NewDriver(conn, sess, name, hue, resumeRevision, logger)
		driver.Run()
	}
}
