package service

import (
	"context"

	"github.com/Sylester-Oputa/CollabNotes-sub002/internal/model"
	"github.com/Sylester-Oputa/CollabNotes-sub002/internal/rbac"

	"github.com/google/uuid"
)

type RuleStore interface {
	Insert(ctx context.Context, rule *model.AssignmentRule) error
	GetByID(ctx context.Context, id string) (*model.AssignmentRule, error)
	List(ctx context.Context, companyID string) ([]*model.AssignmentRule, error)
	Update(ctx context.Context, id string, req *model.UpdateRuleRequest) (*model.AssignmentRule, error)
	Delete(ctx context.Context, id string) (bool, error)
}

// RuleService manages assignment rules. Creating requires the manage
// permission; mutating an existing rule is reserved to its creator or a
// company admin.
type RuleService struct {
	rules RuleStore
}

func NewRuleService(rules RuleStore) *RuleService {
	return &RuleService{rules: rules}
}

func (s *RuleService) Create(ctx context.Context, companyID, creatorID string, role rbac.Role, req *model.CreateRuleRequest) (*model.AssignmentRule, error) {
	if !rbac.Can(role, rbac.ActionManageRules) {
		return nil, ErrForbidden
	}

	rule := &model.AssignmentRule{
		ID:         uuid.NewString(),
		CompanyID:  companyID,
		Name:       req.Name,
		Priority:   req.Priority,
		Enabled:    true,
		Conditions: req.Conditions,
		Strategy:   req.Strategy,
		Params:     req.Params,
		CreatedBy:  creatorID,
	}
	if req.Enabled != nil {
		rule.Enabled = *req.Enabled
	}
	if rule.Conditions == nil {
		rule.Conditions = []model.RuleCondition{}
	}

	if err := s.rules.Insert(ctx, rule); err != nil {
		return nil, err
	}
	return rule, nil
}

func (s *RuleService) List(ctx context.Context, companyID string) ([]*model.AssignmentRule, error) {
	return s.rules.List(ctx, companyID)
}

func (s *RuleService) Update(ctx context.Context, companyID, requesterID string, role rbac.Role, ruleID string, req *model.UpdateRuleRequest) (*model.AssignmentRule, error) {
	rule, err := s.get(ctx, companyID, ruleID)
	if err != nil {
		return nil, err
	}
	if rule.CreatedBy != requesterID && !rbac.Can(role, rbac.ActionManageAnyRule) {
		return nil, ErrForbidden
	}
	return s.rules.Update(ctx, ruleID, req)
}

func (s *RuleService) Delete(ctx context.Context, companyID, requesterID string, role rbac.Role, ruleID string) error {
	rule, err := s.get(ctx, companyID, ruleID)
	if err != nil {
		return err
	}
	if rule.CreatedBy != requesterID && !rbac.Can(role, rbac.ActionManageAnyRule) {
		return ErrForbidden
	}

	deleted, err := s.rules.Delete(ctx, ruleID)
	if err != nil {
		return err
	}
	if !deleted {
		return ErrNotFound
	}
	return nil
}

func (s *RuleService) get(ctx context.Context, companyID, ruleID string) (*model.AssignmentRule, error) {
	rule, err := s.rules.GetByID(ctx, ruleID)
	if err != nil {
		return nil, mapNoRows(err)
	}
	if rule.CompanyID != companyID {
		return nil, ErrNotFound
	}
	return rule, nil
}
