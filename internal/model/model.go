// Package model holds the console's view of backend resources. Field tags
// use the application (camelCase) form; the API client translates keys to
// and from the wire format.
package model

import "time"

// Role is a user's authorization role.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

type User struct {
	ID            int64     `json:"id"`
	Email         string    `json:"email"`
	Username      string    `json:"username"`
	Role          Role      `json:"role"`
	EmailVerified bool      `json:"emailVerified"`
	IsActive      bool      `json:"isActive"`
	CreatedAt     time.Time `json:"createdAt"`
}

// IsAdmin reports whether u carries the admin role. A nil user is not an admin.
func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

type Plan struct {
	ID           int64   `json:"id"`
	Name         string  `json:"name"`
	Description  string  `json:"description"`
	Price        float64 `json:"price"`
	Currency     string  `json:"currency"`
	DurationDays int     `json:"durationDays"`
	TrafficBytes int64   `json:"trafficBytes"`
	DeviceLimit  int     `json:"deviceLimit"`
	// Wire keys such as node_group_id match the identifier exemption and
	// arrive untranslated.
	NodeGroupID  int64   `json:"node_group_id"`
	IsActive     bool    `json:"isActive"`
}

type Subscription struct {
	ID               int64     `json:"id"`
	PlanID           int64     `json:"planId"`
	PlanName         string    `json:"planName"`
	Status           string    `json:"status"`
	ExpiresAt        time.Time `json:"expiresAt"`
	TrafficUsedBytes int64     `json:"trafficUsedBytes"`
	TrafficBytes     int64     `json:"trafficBytes"`
	SubscribeURL     string    `json:"subscribeUrl"`
}

// TrafficPercent returns used traffic as a percentage of the allowance.
func (s Subscription) TrafficPercent() int {
	if s.TrafficBytes <= 0 {
		return 0
	}
	p := s.TrafficUsedBytes * 100 / s.TrafficBytes
	if p > 100 {
		p = 100
	}
	return int(p)
}

type Node struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Address     string  `json:"address"`
	Port        int     `json:"port"`
	Protocol    string  `json:"protocol"`
	Region      string  `json:"region"`
	NodeGroupID int64   `json:"node_group_id"`
	IsOnline    bool    `json:"isOnline"`
	Load        float64 `json:"load"`
}

type NodeGroup struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	NodeCount   int    `json:"nodeCount"`
}

type ForwardRule struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	AgentID    string `json:"agentId"`
	ListenPort int    `json:"listenPort"`
	TargetHost string `json:"targetHost"`
	TargetPort int    `json:"targetPort"`
	Protocol   string `json:"protocol"`
	Enabled    bool   `json:"enabled"`
}

type ForwardAgent struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Address  string    `json:"address"`
	Version  string    `json:"version"`
	LastSeen time.Time `json:"lastSeen"`
}

// AgentStatus is one entry of the forwarding-agent status map, which the
// backend keys by agent identifier.
type AgentStatus struct {
	Online      bool      `json:"online"`
	RuleCount   int       `json:"ruleCount"`
	LastSeen    time.Time `json:"lastSeen"`
	BytesIn     int64     `json:"bytesIn"`
	BytesOut    int64     `json:"bytesOut"`
	Connections int       `json:"connections"`
}

type NotificationSettings struct {
	EmailEnabled      bool   `json:"emailEnabled"`
	TelegramEnabled   bool   `json:"telegramEnabled"`
	TelegramChatID    string `json:"telegramChatId"`
	NotifyExpiry      bool   `json:"notifyExpiry"`
	NotifyTraffic     bool   `json:"notifyTraffic"`
	TrafficThreshold  int    `json:"trafficThreshold"`
	ExpiryReminderDay int    `json:"expiryReminderDay"`
}
