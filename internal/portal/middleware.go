package portal

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/csmportal/internal/access"
	"github.com/zulandar/csmportal/internal/session"
)

const (
	cookieName = "csm_session"
	sessionKey = "portal.session"
)

// withSession attaches the caller's session, creating one and setting the
// cookie when the cookie is missing, malformed or expired.
func (h *handlers) withSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		var sess *session.Session
		if id, err := c.Cookie(cookieName); err == nil {
			sess, _ = h.store.Get(id)
		}
		if sess == nil {
			sess = h.store.Create()
			c.SetSameSite(http.SameSiteLaxMode)
			c.SetCookie(cookieName, sess.ID, 0, "/", "", h.secure, true)
		}
		c.Set(sessionKey, sess)
		c.Next()
	}
}

// limitBody caps the request body at n bytes. Reads past the cap fail with
// *http.MaxBytesError.
func limitBody(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		c.Next()
	}
}

func currentSession(c *gin.Context) *session.Session {
	return c.MustGet(sessionKey).(*session.Session)
}

// requireAuth lets only authenticated sessions through while the gate is not
// locked. Pages redirect to the login form; the JSON and event stream
// endpoints answer 401.
func (h *handlers) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		decision, _ := h.gate.Check(currentSession(c).Authenticated())
		if decision == access.Allow {
			c.Next()
			return
		}
		if strings.HasPrefix(c.FullPath(), "/refresh/") && c.Request.Method == http.MethodGet {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		c.Redirect(http.StatusSeeOther, "/login")
		c.Abort()
	}
}

// authMessage renders a gate rejection for the login page. Nothing about
// the backend configuration is revealed here.
func authMessage(err error) string {
	var aErr *access.AuthError
	if !errors.As(err, &aErr) {
		return "Login failed."
	}
	switch {
	case aErr.Disabled:
		return "The portal is locked. Contact the administrator."
	case aErr.Locked:
		return lockedMessage(aErr.Wait.Seconds())
	default:
		return fmt.Sprintf("Incorrect PIN. %d attempts remaining.", aErr.Remaining)
	}
}

func lockedMessage(seconds float64) string {
	s := int(seconds + 0.999)
	if s < 1 {
		s = 1
	}
	return fmt.Sprintf("Too many attempts. Try again in %d seconds.", s)
}
