package models

import "time"

// Role is a privilege granted to a user
type Role string

const (
	RoleCustomer          Role = "customer"
	RoleAdmin             Role = "admin"
	RoleWarehouseOperator Role = "warehouse_operator"
	RoleCXBCPartner       Role = "cxbc_partner"
	// RoleSystem is carried only by background jobs; it is never assigned to a user.
	RoleSystem Role = "system"
)

// Actor is the caller on whose behalf an operation runs
type Actor struct {
	UserID string `json:"userId"`
	Roles  []Role `json:"roles"`
}

// SystemActor identifies a background job
func SystemActor(job string) Actor {
	return Actor{UserID: "system:" + job, Roles: []Role{RoleSystem}}
}

// HasRole reports whether the actor holds role
func (a Actor) HasRole(role Role) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasAnyRole reports whether the actor holds at least one of roles
func (a Actor) HasAnyRole(roles ...Role) bool {
	for _, role := range roles {
		if a.HasRole(role) {
			return true
		}
	}
	return false
}

// IsStaff is true for admins and warehouse operators
func (a Actor) IsStaff() bool {
	return a.HasAnyRole(RoleAdmin, RoleWarehouseOperator)
}

// AuditDecision is the outcome of an access check
type AuditDecision string

const (
	DecisionAllow AuditDecision = "allow"
	DecisionDeny  AuditDecision = "deny"
)

// AuditEntry records one access decision
type AuditEntry struct {
	ID         string        `db:"id" json:"id"`
	ActorID    string        `db:"actor_id" json:"actorId"`
	Operation  string        `db:"operation" json:"operation"`
	Decision   AuditDecision `db:"decision" json:"decision"`
	Reason     string        `db:"reason" json:"-"`
	OccurredAt time.Time     `db:"occurred_at" json:"occurredAt"`
}
