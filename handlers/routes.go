// Package handlers wires the HTTP surface: login/registration pages, the
// session-guarded JSON API and the streaming chat endpoint.
package handlers

import (
	"embed"
	"html/template"
	"log/slog"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"

	"dify-portal/golang/config"
	"dify-portal/golang/relay"
	"dify-portal/golang/store"
)

//go:embed templates/*.html
var templatesFS embed.FS

// sessionUserKey is the session field holding the authenticated user id.
const sessionUserKey = "user_id"

// Server holds the handler dependencies.
type Server struct {
	cfg     *config.Config
	store   *store.Store
	relay   *relay.Relay
	logger  *slog.Logger
	limiter *ipLimiter
}

// New creates a Server.
func New(cfg *config.Config, st *store.Store, rl *relay.Relay, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:     cfg,
		store:   st,
		relay:   rl,
		logger:  logger,
		limiter: newIPLimiter(),
	}
}

// Router builds the gin engine with all routes mounted.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())
	r.SetHTMLTemplate(template.Must(template.ParseFS(templatesFS, "templates/*.html")))

	sessionStore := cookie.NewStore([]byte(s.cfg.SessionSecret))
	r.Use(sessions.Sessions("session", sessionStore))

	r.GET("/ping", func(c *gin.Context) { c.String(200, "pong") })

	r.GET("/login", s.showLogin)
	r.POST("/login", s.rateLimited(s.login))
	r.GET("/register", s.showRegister)
	r.POST("/register", s.rateLimited(s.register))
	r.POST("/logout", s.logout)
	r.GET("/", s.pageAuth(), s.index)

	api := r.Group("/api", s.apiAuth())
	api.GET("/models", s.apiModels)
	api.POST("/model", s.apiSetModel)
	api.GET("/history", s.apiHistory)
	api.GET("/export", s.apiExport)
	api.GET("/threads", s.apiThreads)
	api.GET("/conversations", s.apiThreads) // legacy alias
	api.POST("/threads/rename", s.apiThreadRename)
	api.POST("/threads/delete", s.apiThreadDelete)
	api.GET("/notice", s.apiNotice)
	api.POST("/chat/stream", s.apiChatStream)

	return r
}
