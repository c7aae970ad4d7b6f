package interpreter

import (
	"context"
	"errors"
	"strings"

	"presto-notebook/internal/domain"
)

const reloadCommand = "reload"

// checkACLAndExecute runs sql for the paragraph. Non-explain statements are
// first planned with EXPLAIN and the plan is checked against the ACL for each
// of the caller's principals. Runs of the same paragraph are serialized and
// the task's handles never outlive this call.
func (in *Interpreter) checkACLAndExecute(ctx context.Context, s *streamer, pctx domain.ParagraphContext, sql string) (*domain.Result, error) {
	if sql == reloadCommand {
		return in.reloadACL()
	}

	task, err := in.tasks.Claim(ctx, pctx.ParagraphID)
	if err != nil {
		return nil, domain.ErrCanceled()
	}
	defer task.releaseRun()
	runCtx, abort := context.WithCancel(ctx)
	defer abort()
	task.beginRun(abort)
	defer task.Close()

	principals := pctx.Auth.Principals
	if len(principals) == 0 {
		return nil, domain.ErrUnauthenticated()
	}
	if sql == "" {
		return nil, domain.ErrEmptyQuery()
	}
	if err := checkLimitClause(sql, in.opts.MaxLimit); err != nil {
		return nil, err
	}

	if !in.opts.ACLEnabled || classify(sql).isExplain() {
		out, err := s.stream(runCtx, task, pctx, sql, phaseExecute)
		if err != nil {
			return nil, err
		}
		return out.result(), nil
	}

	planOut, err := s.stream(runCtx, task, pctx, "explain "+sql, phasePlan)
	if err != nil {
		return nil, err
	}

	if err := in.authorize(sql, planOut.plan, principals); err != nil {
		return nil, err
	}

	if task.cancelRequested() {
		return nil, domain.ErrCanceled()
	}

	out, err := s.stream(runCtx, task, pctx, sql, phaseExecute)
	if err != nil {
		return nil, err
	}
	return out.result(), nil
}

// authorize evaluates the plan for each principal in order. The first Allow
// wins; RequiresPartitionColumn stops the search with a denial.
func (in *Interpreter) authorize(sql, plan string, principals []string) error {
	if in.acl == nil {
		return domain.ErrAccessDenied("Error while checking authority: acl is not configured")
	}

	var (
		allowed bool
		message string
	)
	for _, p := range principals {
		res, msg, err := in.acl.CheckACL(sql, plan, p)
		if err != nil {
			in.logger.Error("check acl", "principal", p, "error", err)
			return domain.ErrAccessDenied("Error while checking authority: %s", err.Error())
		}
		message = msg
		if res == domain.ACLAllow {
			allowed = true
			break
		}
		if res == domain.ACLRequiresPartitionColumn {
			break
		}
	}
	if !allowed {
		return domain.ErrAccessDenied("[%s]%s", strings.Join(principals, ","), message)
	}
	return nil
}

func (in *Interpreter) reloadACL() (*domain.Result, error) {
	if in.acl == nil {
		return nil, domain.ErrACLReload(errors.New("acl is not configured"))
	}
	if err := in.acl.Reload(); err != nil {
		in.logger.Error("reload acl", "error", err)
		return nil, domain.ErrACLReload(err)
	}
	return &domain.Result{Type: domain.ResultTypeText, Message: "Reloaded."}, nil
}
