package apiclient

import (
	"context"
	"net/http"

	"panel/internal/model"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userEnvelope struct {
	User *model.User `json:"user"`
}

// Login authenticates with email and password. On success the backend sets
// the session cookies and the signed-in user is returned.
func (c *Client) Login(ctx context.Context, email, password string) (*model.User, error) {
	var out userEnvelope
	err := c.doPublic(ctx, http.MethodPost, "/auth/login", loginRequest{Email: email, Password: password}, &out)
	if err != nil {
		return nil, err
	}
	if out.User != nil {
		return out.User, nil
	}
	return c.Me(ctx)
}

// RegisterRequest is a new account.
type RegisterRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

func (c *Client) Register(ctx context.Context, in RegisterRequest) error {
	return c.doPublic(ctx, http.MethodPost, "/auth/register", in, nil)
}

// Logout ends the backend session. The local credential is dropped even if
// the backend call fails.
func (c *Client) Logout(ctx context.Context) error {
	defer c.ClearCredential()
	return c.doPublic(ctx, http.MethodPost, "/auth/logout", nil, nil)
}

// Me returns the signed-in user. It is the initialization check run when a
// console session starts.
func (c *Client) Me(ctx context.Context) (*model.User, error) {
	var u model.User
	if err := c.Do(ctx, http.MethodGet, "/auth/me", nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

type emailRequest struct {
	Email string `json:"email"`
}

func (c *Client) RequestPasswordReset(ctx context.Context, email string) error {
	return c.doPublic(ctx, http.MethodPost, "/auth/password-reset/request", emailRequest{Email: email}, nil)
}

type resetConfirmRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

func (c *Client) ConfirmPasswordReset(ctx context.Context, token, newPassword string) error {
	return c.doPublic(ctx, http.MethodPost, "/auth/password-reset/confirm",
		resetConfirmRequest{Token: token, NewPassword: newPassword}, nil)
}

type tokenRequest struct {
	Token string `json:"token"`
}

func (c *Client) VerifyEmail(ctx context.Context, token string) error {
	return c.doPublic(ctx, http.MethodPost, "/auth/verify-email", tokenRequest{Token: token}, nil)
}

func (c *Client) ResendVerification(ctx context.Context, email string) error {
	return c.doPublic(ctx, http.MethodPost, "/auth/verify-email/resend", emailRequest{Email: email}, nil)
}
