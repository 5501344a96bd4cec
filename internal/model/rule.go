package model

import "time"

const (
	StrategyRoundRobin   = "round_robin"
	StrategyWorkload     = "workload"
	StrategySkills       = "skills"
	StrategyAvailability = "availability"
	StrategyExperience   = "experience"
	StrategyRandom       = "random"
)

const (
	OpEq       = "eq"
	OpContains = "contains"
	OpIn       = "in"
	OpGt       = "gt"
	OpLt       = "lt"
	OpNotEmpty = "notEmpty"
)

// RuleCondition compares one task field against a value. A rule matches
// a task only when every condition holds.
type RuleCondition struct {
	Field string `json:"field" validate:"required,oneof=department priority category skills title"`
	Op    string `json:"op" validate:"required,oneof=eq contains in gt lt notEmpty"`
	Value any    `json:"value,omitempty"`
}

// RuleParams narrows the eligible assignee pool before the strategy runs.
type RuleParams struct {
	DepartmentID string   `json:"departmentId,omitempty"`
	Roles        []string `json:"roles,omitempty"`
	Exclude      []string `json:"exclude,omitempty"`
}

type AssignmentRule struct {
	ID             string          `json:"id"`
	CompanyID      string          `json:"companyId"`
	Name           string          `json:"name"`
	Priority       int             `json:"priority"`
	Enabled        bool            `json:"enabled"`
	Conditions     []RuleCondition `json:"conditions"`
	Strategy       string          `json:"strategy"`
	Params         RuleParams      `json:"params"`
	RotationCursor int             `json:"rotationCursor"`
	CreatedBy      string          `json:"createdBy"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// Request types

type CreateRuleRequest struct {
	Name       string          `json:"name" validate:"required,min=1,max=255"`
	Priority   int             `json:"priority" validate:"gte=0,lte=1000"`
	Enabled    *bool           `json:"enabled,omitempty"`
	Conditions []RuleCondition `json:"conditions" validate:"omitempty,dive"`
	Strategy   string          `json:"strategy" validate:"required,oneof=round_robin workload skills availability experience random"`
	Params     RuleParams      `json:"params"`
}

type UpdateRuleRequest struct {
	Name       *string          `json:"name,omitempty" validate:"omitempty,min=1,max=255"`
	Priority   *int             `json:"priority,omitempty" validate:"omitempty,gte=0,lte=1000"`
	Enabled    *bool            `json:"enabled,omitempty"`
	Conditions *[]RuleCondition `json:"conditions,omitempty" validate:"omitempty,dive"`
	Strategy   *string          `json:"strategy,omitempty" validate:"omitempty,oneof=round_robin workload skills availability experience random"`
	Params     *RuleParams      `json:"params,omitempty"`
}
