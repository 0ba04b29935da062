package models

import (
	"strings"
	"time"
)

// Permissions granted to API clients. A trailing ":*" grants the whole namespace.
const (
	PermLearningRead  = "learning:read"
	PermLearningWrite = "learning:write"
	PermRewardsRead   = "rewards:read"
	PermRewardsWrite  = "rewards:write"
	PermEventsRead    = "events:read"
	PermCatalogRead   = "catalog:read"
	PermExchangeRead  = "exchanges:read"
	PermExchangeWrite = "exchanges:write"
)

// ApiClient is a platform service allowed to call the engine
type ApiClient struct {
	ID          int               `json:"id"`
	Name        string            `json:"name"`
	ApiKey      string            `json:"-"`
	IsActive    bool              `json:"is_active"`
	CreatedAt   time.Time         `json:"created_at"`
	LastUsedAt  *time.Time        `json:"last_used_at,omitempty"`
	Permissions []string          `json:"permissions"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// HasPermission checks required against the client's grants.
// "*" matches everything and "rewards:*" matches "rewards:write".
func (c *ApiClient) HasPermission(required string) bool {
	if c == nil || !c.IsActive {
		return false
	}

	for _, perm := range c.Permissions {
		switch {
		case perm == "*", perm == required:
			return true
		case strings.HasSuffix(perm, ":*"):
			if strings.HasPrefix(required, strings.TrimSuffix(perm, "*")) {
				return true
			}
		}
	}

	return false
}

// MaskedApiKey returns first 8 characters of API key for logging
func (c *ApiClient) MaskedApiKey() string {
	if len(c.ApiKey) < 8 {
		return "***"
	}
	return c.ApiKey[:8] + "..."
}
