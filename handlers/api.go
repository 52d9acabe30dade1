package handlers

import (
	"bytes"
	"encoding/csv"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"

	"dify-portal/golang/models"
)

// currentUser loads the authenticated user's profile. A session whose
// profile disappeared is cleared and answered with 401.
func (s *Server) currentUser(c *gin.Context) (models.User, bool) {
	uid := s.sessionUser(c)
	u, err := s.store.LoadUser(uid)
	if err != nil {
		sess := sessions.Default(c)
		sess.Clear()
		if err := sess.Save(); err != nil {
			s.logger.Warn("session clear failed", "error", err)
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return models.User{}, false
	}
	return u, true
}

func (s *Server) apiModels(c *gin.Context) {
	u, ok := s.currentUser(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"current": u.ModelKey,
		"models":  s.cfg.Models,
		"user_id": u.UserID,
	})
}

func (s *Server) apiSetModel(c *gin.Context) {
	u, ok := s.currentUser(c)
	if !ok {
		return
	}
	var body struct {
		Model string `json:"model"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid params"})
		return
	}
	mk := strings.TrimSpace(body.Model)
	if !s.cfg.IsModel(mk) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid model"})
		return
	}
	u.ModelKey = mk
	if err := s.store.SaveUser(u); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "current": mk})
}

func (s *Server) apiHistory(c *gin.Context) {
	u, ok := s.currentUser(c)
	if !ok {
		return
	}
	threadID := strings.TrimSpace(c.Query("thread_id"))
	items, err := s.store.ReadHistory(u.UserID, threadID, 200)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if items == nil {
		items = []models.HistoryEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (s *Server) apiExport(c *gin.Context) {
	u, ok := s.currentUser(c)
	if !ok {
		return
	}
	threadID := strings.TrimSpace(c.Query("thread_id"))
	if threadID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "thread_id is required"})
		return
	}
	if !s.store.ThreadExists(u.UserID, threadID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "thread not found"})
		return
	}
	items, err := s.store.ReadAllHistory(u.UserID, threadID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	var buf bytes.Buffer
	buf.WriteString("\uFEFF") // BOM so spreadsheet tools detect UTF-8
	w := csv.NewWriter(&buf)
	w.Write([]string{"timestamp", "role", "model_key", "thread_id", "content"})
	for _, e := range items {
		w.Write([]string{e.Timestamp, e.Role, e.ModelKey, e.ThreadID, e.Content})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.Header("Content-Disposition", `attachment; filename="chat.csv"`)
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}

func (s *Server) apiThreads(c *gin.Context) {
	u, ok := s.currentUser(c)
	if !ok {
		return
	}
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			limit = v
		}
	}
	items, err := s.store.ListThreads(u.UserID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if items == nil {
		items = []models.Thread{}
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (s *Server) apiThreadRename(c *gin.Context) {
	u, ok := s.currentUser(c)
	if !ok {
		return
	}
	var body struct {
		ThreadID string `json:"thread_id"`
		Name     string `json:"name"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid params"})
		return
	}
	threadID := strings.TrimSpace(body.ThreadID)
	name := strings.TrimSpace(body.Name)
	if threadID == "" || name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid params"})
		return
	}
	if err := s.store.RenameThread(u.UserID, threadID, name); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) apiThreadDelete(c *gin.Context) {
	u, ok := s.currentUser(c)
	if !ok {
		return
	}
	var body struct {
		ThreadID string `json:"thread_id"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid params"})
		return
	}
	threadID := strings.TrimSpace(body.ThreadID)
	if threadID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid params"})
		return
	}
	if err := s.store.DeleteThread(u.UserID, threadID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) apiNotice(c *gin.Context) {
	if _, ok := s.currentUser(c); !ok {
		return
	}
	version, content := s.store.Notice()
	c.JSON(http.StatusOK, gin.H{"version": version, "content": content})
}
