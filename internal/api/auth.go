package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// TokenPair is the backend's auth response.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type loginRequest struct {
	LoginID  string `json:"login_id"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Login authenticates with the backend and stores the returned token pair.
func (c *Client) Login(ctx context.Context, loginID, password string) error {
	var pair TokenPair
	if err := c.Post(ctx, "/auth/login", loginRequest{LoginID: loginID, Password: password}, &pair); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if pair.AccessToken == "" {
		return errors.New("login: server returned no access token")
	}
	if err := c.session.Set(pair.AccessToken, pair.RefreshToken); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	c.log.Info("logged in")
	return nil
}

// Logout clears the local session. The backend keeps no server-side
// session state for this client beyond token validity.
func (c *Client) Logout() {
	c.session.Clear()
	c.log.Info("logged out")
}

// refresh exchanges the refresh token for a new pair. Called at most once
// per failed request from the 401 path in do.
func (c *Client) refresh(ctx context.Context) error {
	refreshToken, ok := c.session.RefreshToken()
	if !ok {
		return errors.New("no refresh token")
	}

	c.metrics.ObserveAuthRefresh()

	// Built directly rather than through Do: the refresh call must not
	// recurse into the 401-retry path.
	var pair TokenPair
	err := c.do(ctx, http.MethodPost, "/auth/refresh", mustMarshal(refreshRequest{RefreshToken: refreshToken}), &pair, true)
	if err != nil {
		return fmt.Errorf("refresh: %w", err)
	}
	if pair.AccessToken == "" {
		return errors.New("refresh: server returned no access token")
	}
	if pair.RefreshToken == "" {
		pair.RefreshToken = refreshToken
	}
	if err := c.session.Set(pair.AccessToken, pair.RefreshToken); err != nil {
		return fmt.Errorf("persist refreshed session: %w", err)
	}
	return nil
}
