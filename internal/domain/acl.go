package domain

// ACLResult is the outcome of evaluating a plan for one principal.
type ACLResult int

// ACL outcomes.
const (
	ACLDeny ACLResult = iota
	ACLAllow
	ACLRequiresPartitionColumn
)

func (r ACLResult) String() string {
	switch r {
	case ACLAllow:
		return "ALLOW"
	case ACLRequiresPartitionColumn:
		return "REQUIRES_PARTITION_COLUMN"
	default:
		return "DENY"
	}
}

// ACLEvaluator decides whether a principal may run a planned statement.
// The returned message is a diagnostic for denials.
type ACLEvaluator interface {
	CheckACL(sql, plan, principal string) (ACLResult, string, error)
	Reload() error
}
