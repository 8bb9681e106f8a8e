package metadata

import (
	"context"
	"errors"
	"testing"

	api "github.com/mohitkumar/loanflow/api/v1"
	"github.com/mohitkumar/loanflow/cache"
	"github.com/mohitkumar/loanflow/model"
	"github.com/mohitkumar/loanflow/persistence/memory"
	"github.com/stretchr/testify/require"
)

func newCatalog() *CatalogServiceImpl {
	return NewCatalogService(memory.NewMemoryStorage(), cache.NewDefinitionCache())
}

func TestDefaultDefinitionIsValid(t *testing.T) {
	s := newCatalog()
	require.NoError(t, s.Validate(DefaultDefinition()))
}

func TestDefaultReturnEdgesFollowTable(t *testing.T) {
	def := DefaultDefinition()
	for from, to := range DefaultReturnTargets {
		st, ok := def.Stage(from)
		require.True(t, ok)
		tr, err := Resolve(&def, from, model.ACTION_RETURN, st.AssignedRole)
		require.NoError(t, err)
		require.Equal(t, to, tr.ToStatus)
		require.True(t, tr.RequiresComment)
	}
}

func TestPublishBumpsVersion(t *testing.T) {
	ctx := context.Background()
	s := newCatalog()
	v1, err := s.Publish(ctx, DefaultDefinition())
	require.NoError(t, err)
	require.Equal(t, 1, v1.Version)

	v2, err := s.Publish(ctx, DefaultDefinition())
	require.NoError(t, err)
	require.Equal(t, 2, v2.Version)

	active, err := s.GetActive(ctx, DEFAULT_APPLICATION_TYPE)
	require.NoError(t, err)
	require.Equal(t, 2, active.Version)

	old, err := s.Get(ctx, DEFAULT_DEFINITION_ID, 1)
	require.NoError(t, err)
	require.Equal(t, 1, old.Version)
}

func TestEnsureDefaultIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newCatalog()
	first, err := s.EnsureDefault(ctx)
	require.NoError(t, err)
	second, err := s.EnsureDefault(ctx)
	require.NoError(t, err)
	require.Equal(t, first.Version, second.Version)
}

func TestResolveTransition(t *testing.T) {
	ctx := context.Background()
	s := newCatalog()
	def, err := s.Publish(ctx, DefaultDefinition())
	require.NoError(t, err)

	scenarios := map[string]struct {
		from    model.Status
		action  model.Action
		role    model.Role
		to      model.Status
		wantErr any
	}{
		"branch manager approves":    {from: STATUS_BRANCH_REVIEW, action: model.ACTION_APPROVE, role: ROLE_BRANCH_MANAGER, to: STATUS_CREDIT_ANALYSIS},
		"analyst approves at branch": {from: STATUS_BRANCH_REVIEW, action: model.ACTION_APPROVE, role: ROLE_CREDIT_ANALYST, wantErr: &api.UnauthorizedError{}},
		"submit from branch review":  {from: STATUS_BRANCH_REVIEW, action: model.ACTION_SUBMIT, role: ROLE_BRANCH_MANAGER, wantErr: &api.InvalidTransitionError{}},
		"approve from terminal":      {from: STATUS_APPROVED, action: model.ACTION_APPROVE, role: ROLE_CREDIT_COMMITTEE, wantErr: &api.InvalidTransitionError{}},
		"committee rejects":          {from: STATUS_COMMITTEE_REVIEW, action: model.ACTION_REJECT, role: ROLE_CREDIT_COMMITTEE, to: STATUS_REJECTED},
	}
	for name, sc := range scenarios {
		t.Run(name, func(t *testing.T) {
			tr, err := s.ResolveTransition(ctx, def.Id, def.Version, sc.from, sc.action, sc.role)
			switch target := sc.wantErr.(type) {
			case nil:
				require.NoError(t, err)
				require.Equal(t, sc.to, tr.ToStatus)
			case *api.UnauthorizedError:
				require.True(t, errors.As(err, target))
			case *api.InvalidTransitionError:
				require.True(t, errors.As(err, target))
			}
		})
	}

	_, err = s.ResolveTransition(ctx, "missing", 1, STATUS_DRAFT, model.ACTION_SUBMIT, ROLE_LOAN_OFFICER)
	require.True(t, api.IsNotFound(err))
}

func TestValidateRejectsBrokenDefinitions(t *testing.T) {
	s := newCatalog()
	scenarios := map[string]func(def *model.WorkflowDefinition){
		"duplicate stage": func(def *model.WorkflowDefinition) {
			def.Stages = append(def.Stages, def.Stages[1])
		},
		"edge to undefined stage": func(def *model.WorkflowDefinition) {
			def.Transitions[1].ToStatus = "Nowhere"
		},
		"edge out of terminal stage": func(def *model.WorkflowDefinition) {
			def.Transitions = append(def.Transitions, model.WorkflowTransition{FromStatus: STATUS_APPROVED, ToStatus: STATUS_REJECTED, Action: model.ACTION_REJECT, RequiredRole: ROLE_RISK_MANAGER})
		},
		"unknown action": func(def *model.WorkflowDefinition) {
			def.Transitions[1].Action = "Withdraw"
		},
		"missing initial stage": func(def *model.WorkflowDefinition) {
			def.InitialStatus = "Nowhere"
		},
		"no submit edge": func(def *model.WorkflowDefinition) {
			def.Transitions = def.Transitions[1:]
		},
		"guard does not compile": func(def *model.WorkflowDefinition) {
			def.Transitions[1].Guard = "$.amount >"
		},
		"duplicate edge": func(def *model.WorkflowDefinition) {
			def.Transitions = append(def.Transitions, def.Transitions[1])
		},
	}
	for name, mutate := range scenarios {
		t.Run(name, func(t *testing.T) {
			def := DefaultDefinition()
			mutate(&def)
			err := s.Validate(def)
			var verr api.ValidationError
			require.True(t, errors.As(err, &verr), "got %v", err)
		})
	}
}

func TestEvaluateGuard(t *testing.T) {
	ok, err := EvaluateGuard(largeExposureGuard, map[string]any{"amount": 25000000.0})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = EvaluateGuard(largeExposureGuard, map[string]any{"amount": 100.0})
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = EvaluateGuard(largeExposureGuard, nil)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = EvaluateGuard("", nil)
	require.NoError(t, err)
	require.True(t, ok)
}
