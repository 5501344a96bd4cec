package service

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/Sylester-Oputa/CollabNotes-sub002/internal/logger"
	"github.com/Sylester-Oputa/CollabNotes-sub002/internal/metrics"
	"github.com/Sylester-Oputa/CollabNotes-sub002/internal/model"

	"github.com/sirupsen/logrus"
)

// A user counts as available when seen active inside this window.
const availabilityWindow = 24 * time.Hour

// RuleSource supplies the enabled rules and owns the round-robin
// cursor. *repository.RuleRepository satisfies it.
type RuleSource interface {
	ListEnabled(ctx context.Context, companyID string) ([]*model.AssignmentRule, error)
	AdvanceCursor(ctx context.Context, ruleID string, eligibleCount int) (int, error)
}

// EligiblePool narrows the company's users by rule parameters, in
// stable creation order.
type EligiblePool interface {
	Eligible(ctx context.Context, companyID string, params model.RuleParams) ([]*model.User, error)
}

// WorkloadSource reports per-user task counts for the workload and
// experience strategies.
type WorkloadSource interface {
	OpenCounts(ctx context.Context, userIDs []string) (map[string]int, error)
	CompletedCounts(ctx context.Context, userIDs []string) (map[string]int, error)
}

// PresenceSource feeds the availability strategy.
type PresenceSource interface {
	LastSeen(ctx context.Context, userIDs []string) (map[string]time.Time, error)
}

// AssignmentService picks an assignee for a new task by evaluating the
// company's rules in priority order. It never fails the task: any
// strategy error downgrades to "no candidate" and evaluation moves on.
type AssignmentService struct {
	rules    RuleSource
	users    EligiblePool
	tasks    WorkloadSource
	presence PresenceSource
	log      *logrus.Entry

	now      func() time.Time
	randIntn func(n int) int
}

func NewAssignmentService(rules RuleSource, users EligiblePool, tasks WorkloadSource, presence PresenceSource) *AssignmentService {
	return &AssignmentService{
		rules:    rules,
		users:    users,
		tasks:    tasks,
		presence: presence,
		log:      logger.With("assignment"),
		now:      time.Now,
		randIntn: rand.Intn,
	}
}

// Assign returns the chosen assignee id and the strategy that produced
// it ("default" for the fallback). An empty id means the task stays
// unassigned, which is a valid outcome, not an error.
func (s *AssignmentService) Assign(ctx context.Context, task *model.Task) (string, string) {
	rules, err := s.rules.ListEnabled(ctx, task.CompanyID)
	if err != nil {
		s.log.WithError(err).Warn("load assignment rules")
	}

	for _, rule := range rules {
		if !ruleMatches(rule, task) {
			continue
		}
		assignee, err := s.applyStrategy(ctx, rule, task)
		if err != nil {
			s.log.WithError(err).Warnf("rule %s (%s) failed, treating as no candidate", rule.Name, rule.Strategy)
			continue
		}
		if assignee != "" {
			metrics.Assignments.WithLabelValues(rule.Strategy).Inc()
			return assignee, rule.Strategy
		}
	}

	assignee, err := s.defaultAssign(ctx, task)
	if err != nil {
		s.log.WithError(err).Warn("default assignment failed")
		assignee = ""
	}
	if assignee != "" {
		metrics.Assignments.WithLabelValues("default").Inc()
		return assignee, "default"
	}
	metrics.Assignments.WithLabelValues("none").Inc()
	return "", ""
}

// defaultAssign is the last resort before leaving a task unassigned:
// least-loaded user in the task's department (whole company when the
// task has none).
func (s *AssignmentService) defaultAssign(ctx context.Context, task *model.Task) (string, error) {
	params := model.RuleParams{}
	if task.DepartmentID != nil {
		params.DepartmentID = *task.DepartmentID
	}
	pool, err := s.users.Eligible(ctx, task.CompanyID, params)
	if err != nil {
		return "", err
	}
	if len(pool) == 0 {
		return "", nil
	}
	return s.leastLoaded(ctx, pool)
}

func (s *AssignmentService) applyStrategy(ctx context.Context, rule *model.AssignmentRule, task *model.Task) (string, error) {
	pool, err := s.users.Eligible(ctx, task.CompanyID, rule.Params)
	if err != nil {
		return "", err
	}
	if len(pool) == 0 {
		return "", nil
	}

	switch rule.Strategy {
	case model.StrategyRoundRobin:
		// The cursor lives on the rule row; AdvanceCursor serializes
		// concurrent claims and wraps modulo the current pool size.
		slot, err := s.rules.AdvanceCursor(ctx, rule.ID, len(pool))
		if err != nil {
			return "", err
		}
		return pool[slot].ID, nil

	case model.StrategyWorkload:
		return s.leastLoaded(ctx, pool)

	case model.StrategySkills:
		matched := matchSkills(pool, task.Skills)
		if len(matched) == 0 {
			matched = pool
		}
		return s.leastLoaded(ctx, matched)

	case model.StrategyAvailability:
		seen, err := s.presence.LastSeen(ctx, userIDs(pool))
		if err != nil {
			return "", err
		}
		cutoff := s.now().Add(-availabilityWindow)
		var active []*model.User
		for _, u := range pool {
			if at, ok := seen[u.ID]; ok && at.After(cutoff) {
				active = append(active, u)
			}
		}
		if len(active) == 0 {
			return pool[0].ID, nil
		}
		return s.leastLoaded(ctx, active)

	case model.StrategyExperience:
		counts, err := s.tasks.CompletedCounts(ctx, userIDs(pool))
		if err != nil {
			return "", err
		}
		best := pool[0]
		for _, u := range pool[1:] {
			if counts[u.ID] > counts[best.ID] {
				best = u
			}
		}
		return best.ID, nil

	case model.StrategyRandom:
		return pool[s.randIntn(len(pool))].ID, nil

	default:
		return "", fmt.Errorf("unknown strategy %q", rule.Strategy)
	}
}

// leastLoaded picks the user with the fewest open tasks. Strict
// less-than keeps ties on the earliest user in input order, which the
// pool guarantees is stable.
func (s *AssignmentService) leastLoaded(ctx context.Context, pool []*model.User) (string, error) {
	counts, err := s.tasks.OpenCounts(ctx, userIDs(pool))
	if err != nil {
		return "", err
	}
	best := pool[0]
	for _, u := range pool[1:] {
		if counts[u.ID] < counts[best.ID] {
			best = u
		}
	}
	return best.ID, nil
}

// matchSkills keeps users whose role or declared skill tags textually
// cover at least one of the task's required skills.
func matchSkills(pool []*model.User, required []string) []*model.User {
	if len(required) == 0 {
		return pool
	}
	var matched []*model.User
	for _, u := range pool {
		if userHasSkill(u, required) {
			matched = append(matched, u)
		}
	}
	return matched
}

func userHasSkill(u *model.User, required []string) bool {
	for _, want := range required {
		w := strings.ToLower(want)
		if strings.Contains(strings.ToLower(u.Role), w) {
			return true
		}
		for _, tag := range u.Skills {
			if strings.Contains(strings.ToLower(tag), w) {
				return true
			}
		}
	}
	return false
}

func userIDs(pool []*model.User) []string {
	ids := make([]string, len(pool))
	for i, u := range pool {
		ids[i] = u.ID
	}
	return ids
}

// ruleMatches reports whether every condition of the rule holds for the
// task. An empty condition set matches everything.
func ruleMatches(rule *model.AssignmentRule, task *model.Task) bool {
	for _, c := range rule.Conditions {
		if !matchCondition(c, task) {
			return false
		}
	}
	return true
}

// priorityRank orders the task priority enum for gt/lt comparisons.
func priorityRank(p string) (float64, bool) {
	switch strings.ToLower(p) {
	case "low":
		return 1, true
	case "medium":
		return 2, true
	case "high":
		return 3, true
	case "urgent":
		return 4, true
	default:
		return 0, false
	}
}

func matchCondition(c model.RuleCondition, task *model.Task) bool {
	var scalar string
	var list []string
	isList := false

	switch c.Field {
	case "department":
		if task.DepartmentID != nil {
			scalar = *task.DepartmentID
		}
	case "priority":
		scalar = task.Priority
	case "category":
		scalar = task.Category
	case "title":
		scalar = task.Title
	case "skills":
		list = task.Skills
		isList = true
	default:
		return false
	}

	switch c.Op {
	case model.OpEq:
		want := condString(c.Value)
		if isList {
			return containsFold(list, want)
		}
		return strings.EqualFold(scalar, want)

	case model.OpContains:
		want := strings.ToLower(condString(c.Value))
		if want == "" {
			return false
		}
		if isList {
			for _, v := range list {
				if strings.Contains(strings.ToLower(v), want) {
					return true
				}
			}
			return false
		}
		return strings.Contains(strings.ToLower(scalar), want)

	case model.OpIn:
		want := condList(c.Value)
		if isList {
			for _, v := range list {
				if containsFold(want, v) {
					return true
				}
			}
			return false
		}
		return containsFold(want, scalar)

	case model.OpGt, model.OpLt:
		have, ok := numeric(c.Field, scalar)
		if !ok {
			return false
		}
		want, ok := condNumeric(c.Field, c.Value)
		if !ok {
			return false
		}
		if c.Op == model.OpGt {
			return have > want
		}
		return have < want

	case model.OpNotEmpty:
		if isList {
			return len(list) > 0
		}
		return scalar != ""

	default:
		return false
	}
}

// numeric maps a task field value to a comparable number. Priority uses
// its enum rank; other fields must parse as plain numbers.
func numeric(field, value string) (float64, bool) {
	if field == "priority" {
		return priorityRank(value)
	}
	f, err := strconv.ParseFloat(value, 64)
	return f, err == nil
}

func condNumeric(field string, v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case string:
		return numeric(field, n)
	default:
		return 0, false
	}
}

// condString renders a condition value for string comparison. JSON
// numbers print without a trailing ".0" so "3" matches 3.
func condString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(s)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", s)
	}
}

func condList(v any) []string {
	switch vs := v.(type) {
	case []any:
		out := make([]string, 0, len(vs))
		for _, e := range vs {
			out = append(out, condString(e))
		}
		return out
	case []string:
		return vs
	case nil:
		return nil
	default:
		return []string{condString(v)}
	}
}

func containsFold(haystack []string, needle string) bool {
	for _, v := range haystack {
		if strings.EqualFold(v, needle) {
			return true
		}
	}
	return false
}
