package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/vedran77/pulsesync/internal/domain"
)

type LoginInput struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login establishes the cookie session. It does not return the identity;
// callers fetch it with Me.
func (c *Client) Login(ctx context.Context, input LoginInput) error {
	if err := c.do(ctx, http.MethodPost, pathLogin, nil, input, nil); err != nil {
		return fmt.Errorf("logging in: %w", err)
	}
	return nil
}

func (c *Client) Logout(ctx context.Context) error {
	if err := c.do(ctx, http.MethodPost, pathLogout, nil, nil, nil); err != nil {
		return fmt.Errorf("logging out: %w", err)
	}
	return nil
}

// Refresh asks the server to rotate the access token cookie. Concurrent
// callers share one request.
func (c *Client) Refresh(ctx context.Context) error {
	_, err, _ := c.refreshes.Do("refresh", func() (any, error) {
		err := c.do(ctx, http.MethodPost, pathRefresh, nil, nil, nil)
		if c.onRefresh != nil {
			c.onRefresh(err == nil)
		}
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("refreshing token: %w", err)
	}
	return nil
}

func (c *Client) Me(ctx context.Context) (*domain.Identity, error) {
	var id domain.Identity
	if err := c.do(ctx, http.MethodGet, "/users/me", nil, nil, &id); err != nil {
		return nil, fmt.Errorf("fetching identity: %w", err)
	}
	return &id, nil
}
