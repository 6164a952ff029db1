// Package models - audit_log.go defines the AuditLog model for recording mutations:
// actor, action, affected resource, client IP and free-form metadata.
package models

import "time"

// AuditLog represents an audit log entry
type AuditLog struct {
	ID           string                 `json:"id"`
	ActorID      *string                `json:"actor_id,omitempty"` // nil for anonymous or system actions
	Action       string                 `json:"action"`             // "membership.accept", "event.moderate", "profile.delete"
	ResourceType *string                `json:"resource_type,omitempty"`
	ResourceID   *string                `json:"resource_id,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"` // JSONB
	IPAddress    *string                `json:"ip_address,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
}
