package middleware

import (
	"net/http"
	"time"
)

func readCookie(r *http.Request, name string) string {
	if name == "" {
		return ""
	}
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

// setSessionCookie writes a browser-session cookie; lifetime is enforced by
// the session store, not the browser.
func (g *Gate) setSessionCookie(w http.ResponseWriter, sessionID string) {
	http.SetCookie(w, g.baseCookie(g.cfg.Cookie.SessionName, sessionID))
}

func (g *Gate) setRememberMeCookie(w http.ResponseWriter, value string) {
	c := g.baseCookie(g.cfg.RememberMe.CookieName, value)
	c.MaxAge = int(g.cfg.RememberMe.Validity / time.Second)
	http.SetCookie(w, c)
}

func (g *Gate) clearCookie(w http.ResponseWriter, name string) {
	c := g.baseCookie(name, "")
	c.MaxAge = -1
	c.Expires = time.Unix(0, 0)
	http.SetCookie(w, c)
}

func (g *Gate) baseCookie(name, value string) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     g.cfg.Cookie.Path,
		Domain:   g.cfg.Cookie.Domain,
		Secure:   g.cfg.Cookie.Secure,
		HttpOnly: true,
		SameSite: g.cfg.Cookie.SameSite,
	}
}
