package adminapi

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"nybot/internal/session"
	logx "nybot/pkg/logx"
)

const ctxLogin = "login"

func equalSecret(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

type loginRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

func (s *Server) setSessionCookie(c *gin.Context, value string, maxAge int) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(session.CookieName, value, maxAge, "/", "", s.opt.CookieSecure, true)
}

func (s *Server) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWith(c, ErrInvalidBody)
		return
	}
	login := strings.TrimSpace(req.Login)
	password := strings.TrimSpace(req.Password)

	// Evaluate both comparisons so timing does not reveal which one failed.
	okLogin := equalSecret(login, s.opt.AdminLogin)
	okPassword := equalSecret(password, s.opt.AdminPassword)
	if !okLogin || !okPassword {
		s.log.Warn("login rejected", logx.String("client", c.ClientIP()))
		abortWith(c, ErrInvalidCredentials)
		return
	}

	token, err := s.codec.Issue(login, s.opt.Now())
	if err != nil {
		abortWith(c, err)
		return
	}
	s.setSessionCookie(c, token, int(session.TTL.Seconds()))
	s.log.Info("admin logged in", logx.String("client", c.ClientIP()))
	c.JSON(http.StatusOK, gin.H{"ok": true, "login": login})
}

func (s *Server) logout(c *gin.Context) {
	s.setSessionCookie(c, "", -1)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) me(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"login": c.GetString(ctxLogin)})
}

// requireSession admits requests carrying a valid session for the admin login.
func (s *Server) requireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := c.Cookie(session.CookieName)
		if err != nil || raw == "" {
			abortWith(c, ErrUnauthorized)
			return
		}
		login, ok := s.codec.Verify(raw, s.opt.Now())
		if !ok || login != s.opt.AdminLogin {
			abortWith(c, ErrUnauthorized)
			return
		}
		c.Set(ctxLogin, login)
		c.Next()
	}
}
