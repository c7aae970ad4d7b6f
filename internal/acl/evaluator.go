package acl

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/casbin/casbin/v3"
	"github.com/casbin/casbin/v3/model"

	"presto-notebook/internal/domain"
)

// casbin model: principals inherit rules through g; any deny overrides allows.
const modelText = `
[request_definition]
r = sub, obj

[policy_definition]
p = sub, obj, eft

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow)) && !some(where (p.eft == deny))

[matchers]
m = g(r.sub, p.sub) && keyMatch(r.obj, p.obj)
`

// Evaluator implements domain.ACLEvaluator over a policy file.
type Evaluator struct {
	path   string
	logger *slog.Logger

	mu         sync.RWMutex
	enforcer   *casbin.Enforcer
	partitions map[string]string
}

var _ domain.ACLEvaluator = (*Evaluator)(nil)

// Load builds an Evaluator from the policy file at path.
func Load(path string, logger *slog.Logger) (*Evaluator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Evaluator{path: path, logger: logger}
	if err := e.Reload(); err != nil {
		return nil, err
	}
	return e, nil
}

// NewEvaluator builds an Evaluator from an in-memory policy. Reload re-applies
// the same policy.
func NewEvaluator(p *Policy, logger *slog.Logger) (*Evaluator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Evaluator{logger: logger}
	if err := e.apply(p); err != nil {
		return nil, err
	}
	return e, nil
}

// Reload re-reads the policy file. On failure the previous policy stays active.
func (e *Evaluator) Reload() error {
	if e.path == "" {
		return nil
	}
	p, err := LoadPolicy(e.path)
	if err != nil {
		return err
	}
	if err := e.apply(p); err != nil {
		return err
	}
	e.logger.Info("acl policy loaded", "path", e.path, "rules", len(p.Rules), "partitions", len(p.Partitions))
	return nil
}

func (e *Evaluator) apply(p *Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return fmt.Errorf("acl model: %w", err)
	}
	enf, err := casbin.NewEnforcer(m)
	if err != nil {
		return fmt.Errorf("acl enforcer: %w", err)
	}
	for _, r := range p.Rules {
		eft := strings.ToLower(r.Effect)
		if eft == "" {
			eft = EffectAllow
		}
		if _, err := enf.AddPolicy(r.Principal, strings.ToLower(r.Table), eft); err != nil {
			return fmt.Errorf("acl rule %s %s: %w", r.Principal, r.Table, err)
		}
	}
	for role, members := range p.Groups {
		for _, member := range members {
			if _, err := enf.AddGroupingPolicy(member, role); err != nil {
				return fmt.Errorf("acl group %s: %w", role, err)
			}
		}
	}
	partitions := make(map[string]string, len(p.Partitions))
	for _, pt := range p.Partitions {
		partitions[strings.ToLower(pt.Table)] = pt.Column
	}

	e.mu.Lock()
	e.enforcer, e.partitions = enf, partitions
	e.mu.Unlock()
	return nil
}

// CheckACL evaluates every table scanned by plan for principal. All tables
// must be allowed; partitioned tables must also be filtered on their
// partition column in sql.
func (e *Evaluator) CheckACL(sql, plan, principal string) (domain.ACLResult, string, error) {
	e.mu.RLock()
	enf, partitions := e.enforcer, e.partitions
	e.mu.RUnlock()
	if enf == nil {
		return domain.ACLDeny, "", errors.New("acl policy is not loaded")
	}

	tables := ExtractTables(plan)
	for _, table := range tables {
		ok, err := enf.Enforce(principal, table)
		if err != nil {
			return domain.ACLDeny, "", fmt.Errorf("enforce %s on %s: %w", principal, table, err)
		}
		if !ok {
			e.logger.Info("acl denied", "principal", principal, "table", table)
			return domain.ACLDeny, "Permission denied on table " + table, nil
		}
	}
	for _, table := range tables {
		col, ok := partitions[table]
		if ok && !referencesInWhere(sql, col) {
			return domain.ACLRequiresPartitionColumn,
				fmt.Sprintf("Partition column %s is required in the where clause for table %s", col, table), nil
		}
	}
	return domain.ACLAllow, "", nil
}
