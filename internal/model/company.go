package model

import (
	"time"

	"github.com/google/uuid"
)

type TeamStatus string

const (
	TeamStatusActive   TeamStatus = "ACTIVE"
	TeamStatusDisabled TeamStatus = "DISABLED"
)

type MemberStatus string

const (
	MemberStatusActive   MemberStatus = "ACTIVE"
	MemberStatusDisabled MemberStatus = "DISABLED"
)

// Company is the tenancy root consumed by plan enforcement. Billing details
// live outside this core; only the effective plan limits are read here.
type Company struct {
	Base
	Name   string    `db:"name" json:"name"`
	Slug   string    `db:"slug" json:"slug"`
	PlanID uuid.UUID `db:"plan_id" json:"plan_id"`
}

type Team struct {
	Base
	CompanyID uuid.UUID  `db:"company_id" json:"company_id"`
	Name      string     `db:"name" json:"name"`
	Slug      string     `db:"slug" json:"slug"`
	Status    TeamStatus `db:"status" json:"status"`
}

type Member struct {
	ID        uuid.UUID    `db:"id" json:"id"`
	CompanyID uuid.UUID    `db:"company_id" json:"company_id"`
	TeamID    *uuid.UUID   `db:"team_id" json:"team_id,omitempty"`
	Name      string       `db:"name" json:"name"`
	Email     string       `db:"email" json:"email"`
	Status    MemberStatus `db:"status" json:"status"`
	CreatedAt time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt time.Time    `db:"updated_at" json:"updated_at"`
}

// PlanLimits are the effective limits for a company's current plan.
// Zero means unlimited.
type PlanLimits struct {
	PlanID        uuid.UUID `db:"plan_id" json:"plan_id"`
	MaxUsers      int       `db:"max_users" json:"max_users"`
	MaxTeams      int       `db:"max_teams" json:"max_teams"`
	MaxNudges     int       `db:"max_nudges" json:"max_nudges"`
	MaxRecipients int       `db:"max_recipients" json:"max_recipients"`
}

// Unlimited reports whether a limit field disables enforcement.
func Unlimited(limit int) bool {
	return limit <= 0
}

// CompanyUsage is the current usage snapshot checked against PlanLimits.
type CompanyUsage struct {
	ActiveMembers int `db:"active_members" json:"active_members"`
	ActiveTeams   int `db:"active_teams" json:"active_teams"`
	ActiveNudges  int `db:"active_nudges" json:"active_nudges"`
}

// EnforcementReport summarizes what a plan enforcement pass disabled.
type EnforcementReport struct {
	CompanyID         uuid.UUID `json:"company_id"`
	MembersDisabled   int       `json:"members_disabled"`
	TeamsDisabled     int       `json:"teams_disabled"`
	NudgesDisabled    int       `json:"nudges_disabled"`
	OverRecipientsCut int       `json:"over_recipients_cut"`
}

// Changed reports whether the pass disabled anything.
func (r *EnforcementReport) Changed() bool {
	return r.MembersDisabled+r.TeamsDisabled+r.NudgesDisabled+r.OverRecipientsCut > 0
}
