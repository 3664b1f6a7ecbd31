package apiclient

import (
	"context"
	"net/http"

	"panel/internal/model"
)

// Plans lists the plans offered on the pricing screen. It needs no session.
func (c *Client) Plans(ctx context.Context) ([]model.Plan, error) {
	var out []model.Plan
	err := c.doPublic(ctx, http.MethodGet, "/plans", nil, &out)
	return out, err
}

// Subscription returns the current user's subscription, or nil when the
// user has none.
func (c *Client) Subscription(ctx context.Context) (*model.Subscription, error) {
	var out model.Subscription
	err := c.Do(ctx, http.MethodGet, "/user/subscription", nil, &out)
	switch {
	case IsNotFound(err):
		return nil, nil
	case err != nil:
		return nil, err
	}
	return &out, nil
}

// Nodes lists the nodes available to the current user.
func (c *Client) Nodes(ctx context.Context) ([]model.Node, error) {
	var out []model.Node
	err := c.Do(ctx, http.MethodGet, "/user/nodes", nil, &out)
	return out, err
}

// ProfileUpdate carries the editable profile fields.
type ProfileUpdate struct {
	Username string `json:"username"`
	Email    string `json:"email"`
}

func (c *Client) UpdateProfile(ctx context.Context, in ProfileUpdate) (*model.User, error) {
	var out model.User
	if err := c.Do(ctx, http.MethodPut, "/user/profile", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type passwordChange struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

func (c *Client) ChangePassword(ctx context.Context, current, next string) error {
	return c.Do(ctx, http.MethodPost, "/user/password", passwordChange{CurrentPassword: current, NewPassword: next}, nil)
}

func (c *Client) NotificationSettings(ctx context.Context) (*model.NotificationSettings, error) {
	var out model.NotificationSettings
	if err := c.Do(ctx, http.MethodGet, "/user/notifications", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateNotificationSettings(ctx context.Context, in model.NotificationSettings) (*model.NotificationSettings, error) {
	var out model.NotificationSettings
	if err := c.Do(ctx, http.MethodPut, "/user/notifications", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
