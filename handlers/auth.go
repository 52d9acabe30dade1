package handlers

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

// id7Re is the required user id format: exactly seven digits.
var id7Re = regexp.MustCompile(`^\d{7}$`)

const (
	errBadID         = "IDは数字7桁で入力してください。"
	errBadLogin      = "IDまたはパスワードが違います。"
	errShortPassword = "パスワードは6文字以上にしてください。"
	errPasswordMatch = "パスワードが一致しません。"
	errRegistered    = "既に登録されています。"
)

func (s *Server) showLogin(c *gin.Context) {
	c.HTML(http.StatusOK, "login.html", gin.H{})
}

func (s *Server) login(c *gin.Context) {
	userID := strings.TrimSpace(c.PostForm("user_id"))
	password := c.PostForm("password")

	if !id7Re.MatchString(userID) {
		c.HTML(http.StatusOK, "login.html", gin.H{"error": errBadID, "user_id": userID})
		return
	}
	if !s.store.VerifyUser(userID, password) {
		c.HTML(http.StatusOK, "login.html", gin.H{"error": errBadLogin, "user_id": userID})
		return
	}

	sess := sessions.Default(c)
	sess.Set(sessionUserKey, userID)
	if err := sess.Save(); err != nil {
		s.logger.Error("session save failed", "error", err)
	}
	c.Redirect(http.StatusFound, "/")
}

func (s *Server) showRegister(c *gin.Context) {
	c.HTML(http.StatusOK, "register.html", gin.H{})
}

func (s *Server) register(c *gin.Context) {
	userID := strings.TrimSpace(c.PostForm("user_id"))
	password := c.PostForm("password")
	password2 := c.PostForm("password2")

	if !id7Re.MatchString(userID) {
		c.HTML(http.StatusOK, "register.html", gin.H{"error": errBadID, "user_id": userID})
		return
	}
	if len(password) < 6 {
		c.HTML(http.StatusOK, "register.html", gin.H{"error": errShortPassword, "user_id": userID})
		return
	}
	if password != password2 {
		c.HTML(http.StatusOK, "register.html", gin.H{"error": errPasswordMatch, "user_id": userID})
		return
	}
	if s.store.UserExists(userID) {
		c.HTML(http.StatusOK, "register.html", gin.H{"error": errRegistered, "user_id": userID})
		return
	}
	if err := s.store.CreateUser(userID, password); err != nil {
		s.logger.Error("user create failed", "user", userID, "error", err)
		c.HTML(http.StatusOK, "register.html", gin.H{"error": errRegistered, "user_id": userID})
		return
	}

	sess := sessions.Default(c)
	sess.Set(sessionUserKey, userID)
	if err := sess.Save(); err != nil {
		s.logger.Error("session save failed", "error", err)
	}
	c.Redirect(http.StatusFound, "/")
}

func (s *Server) logout(c *gin.Context) {
	sess := sessions.Default(c)
	sess.Clear()
	if err := sess.Save(); err != nil {
		s.logger.Warn("session clear failed", "error", err)
	}
	c.Redirect(http.StatusFound, "/login")
}

func (s *Server) index(c *gin.Context) {
	c.HTML(http.StatusOK, "index.html", gin.H{"user_id": s.sessionUser(c)})
}
