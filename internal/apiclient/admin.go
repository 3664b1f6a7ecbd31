package apiclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"panel/internal/model"
)

// Resource names an admin collection under /admin.
type Resource string

const (
	Users         Resource = "users"
	Nodes         Resource = "nodes"
	NodeGroups    Resource = "node-groups"
	Plans         Resource = "plans"
	ForwardRules  Resource = "forward-rules"
	ForwardAgents Resource = "forward-agents"
)

// Resources lists every admin collection in menu order.
var Resources = []Resource{Users, Nodes, NodeGroups, Plans, ForwardRules, ForwardAgents}

// ParseResource validates a collection name taken from a URL.
func ParseResource(s string) (Resource, bool) {
	for _, r := range Resources {
		if string(r) == s {
			return r, true
		}
	}
	return "", false
}

func (r Resource) path() string { return "/admin/" + string(r) }

func list[T any](ctx context.Context, c *Client, r Resource) ([]T, error) {
	var out []T
	err := c.Do(ctx, http.MethodGet, r.path(), nil, &out)
	return out, err
}

func (c *Client) AdminUsers(ctx context.Context) ([]model.User, error) {
	return list[model.User](ctx, c, Users)
}

func (c *Client) AdminNodes(ctx context.Context) ([]model.Node, error) {
	return list[model.Node](ctx, c, Nodes)
}

func (c *Client) AdminNodeGroups(ctx context.Context) ([]model.NodeGroup, error) {
	return list[model.NodeGroup](ctx, c, NodeGroups)
}

func (c *Client) AdminPlans(ctx context.Context) ([]model.Plan, error) {
	return list[model.Plan](ctx, c, Plans)
}

func (c *Client) AdminForwardRules(ctx context.Context) ([]model.ForwardRule, error) {
	return list[model.ForwardRule](ctx, c, ForwardRules)
}

func (c *Client) AdminForwardAgents(ctx context.Context) ([]model.ForwardAgent, error) {
	return list[model.ForwardAgent](ctx, c, ForwardAgents)
}

// ForwardAgentStatus returns live status keyed by agent identifier.
func (c *Client) ForwardAgentStatus(ctx context.Context) (map[string]model.AgentStatus, error) {
	out := map[string]model.AgentStatus{}
	err := c.Do(ctx, http.MethodGet, ForwardAgents.path()+"/status", nil, &out)
	return out, err
}

type activeUpdate struct {
	IsActive bool `json:"isActive"`
}

// SetUserActive enables or disables a user account.
func (c *Client) SetUserActive(ctx context.Context, id int64, active bool) error {
	return c.Do(ctx, http.MethodPatch, fmt.Sprintf("%s/%d", Users.path(), id), activeUpdate{IsActive: active}, nil)
}

// Delete removes one item of an admin collection.
func (c *Client) Delete(ctx context.Context, r Resource, id string) error {
	if id == "" {
		return errors.New("apiclient: empty id")
	}
	return c.Do(ctx, http.MethodDelete, r.path()+"/"+url.PathEscape(id), nil, nil)
}

// IsNotFound reports whether err is a 404 from the backend.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
