package apiclient

import (
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// Credential returns the session cookie pair last seen from the backend as
// a token value, or nil when the client holds no session. Expiry is that of
// the access cookie and is zero when the backend did not send one.
func (c *Client) Credential() *oauth2.Token {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cred.AccessToken == "" && c.cred.RefreshToken == "" {
		return nil
	}
	return &oauth2.Token{
		AccessToken:  c.cred.AccessToken,
		RefreshToken: c.cred.RefreshToken,
		TokenType:    "cookie",
		Expiry:       c.cred.Expiry,
	}
}

// SetCredential seeds the cookie jar with a previously saved session, for
// example after the console restarted with a persistent session store.
func (c *Client) SetCredential(tok *oauth2.Token) {
	if tok == nil {
		return
	}

	var cookies []*http.Cookie
	if tok.AccessToken != "" {
		cookies = append(cookies, &http.Cookie{
			Name:     c.accessCookie,
			Value:    tok.AccessToken,
			Path:     "/",
			Expires:  tok.Expiry,
			HttpOnly: true,
		})
	}
	if tok.RefreshToken != "" {
		cookies = append(cookies, &http.Cookie{
			Name:     c.refreshCookie,
			Value:    tok.RefreshToken,
			Path:     "/",
			HttpOnly: true,
		})
	}
	c.hc.Jar.SetCookies(c.base, cookies)

	c.mu.Lock()
	c.cred = oauth2.Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}
	c.mu.Unlock()
}

// ClearCredential drops the session cookies from the jar.
func (c *Client) ClearCredential() {
	c.hc.Jar.SetCookies(c.base, []*http.Cookie{
		{Name: c.accessCookie, Value: "", Path: "/", MaxAge: -1},
		{Name: c.refreshCookie, Value: "", Path: "/", MaxAge: -1},
	})

	c.mu.Lock()
	c.cred = oauth2.Token{}
	c.mu.Unlock()
}

// observe mirrors session cookies set by a response into the credential.
func (c *Client) observe(resp *http.Response) {
	cookies := resp.Cookies()
	if len(cookies) == 0 {
		return
	}

	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, ck := range cookies {
		cleared := ck.MaxAge < 0 || ck.Value == "" ||
			(!ck.Expires.IsZero() && !ck.Expires.After(now))

		switch ck.Name {
		case c.accessCookie:
			if cleared {
				c.cred.AccessToken = ""
				c.cred.Expiry = now
				continue
			}
			c.cred.AccessToken = ck.Value
			switch {
			case ck.MaxAge > 0:
				c.cred.Expiry = now.Add(time.Duration(ck.MaxAge) * time.Second)
			case !ck.Expires.IsZero():
				c.cred.Expiry = ck.Expires
			}
		case c.refreshCookie:
			if cleared {
				c.cred.RefreshToken = ""
				continue
			}
			c.cred.RefreshToken = ck.Value
		}
	}
}
