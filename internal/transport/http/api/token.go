package api

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const accessTokenCookie = "access_token"

// TokenExpiry reads the exp claim of the current access token cookie. The
// signature is not checked; the value only schedules the next refresh.
func (c *Client) TokenExpiry() (time.Time, bool) {
	for _, ck := range c.jar.Cookies(c.baseURL) {
		if ck.Name == accessTokenCookie {
			return TokenExpiry(ck.Value)
		}
	}
	return time.Time{}, false
}

func TokenExpiry(raw string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
