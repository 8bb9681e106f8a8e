package metadata

import (
	"context"
	"fmt"
	"strings"

	api "github.com/mohitkumar/loanflow/api/v1"
	"github.com/mohitkumar/loanflow/cache"
	"github.com/mohitkumar/loanflow/logger"
	"github.com/mohitkumar/loanflow/model"
	"github.com/mohitkumar/loanflow/persistence"
	"go.uber.org/zap"
)

type CatalogService interface {
	ResolveTransition(ctx context.Context, definitionId string, version int, fromStatus model.Status, action model.Action, actorRole model.Role) (model.WorkflowTransition, error)
	Publish(ctx context.Context, def model.WorkflowDefinition) (*model.WorkflowDefinition, error)
	GetActive(ctx context.Context, applicationType string) (*model.WorkflowDefinition, error)
	Get(ctx context.Context, definitionId string, version int) (*model.WorkflowDefinition, error)
	Validate(def model.WorkflowDefinition) error
}

var _ CatalogService = new(CatalogServiceImpl)

type CatalogServiceImpl struct {
	storage persistence.DefinitionStorage
	cache   *cache.DefinitionCache
}

func NewCatalogService(storage persistence.DefinitionStorage, cache *cache.DefinitionCache) *CatalogServiceImpl {
	return &CatalogServiceImpl{
		storage: storage,
		cache:   cache,
	}
}

func (s *CatalogServiceImpl) Get(ctx context.Context, definitionId string, version int) (*model.WorkflowDefinition, error) {
	if def, found := s.cache.GetDefinition(definitionId, version); found {
		return def, nil
	}
	def, err := s.storage.GetDefinition(ctx, definitionId, version)
	if err != nil {
		return nil, err
	}
	s.cache.SaveDefinition(def)
	return def, nil
}

func (s *CatalogServiceImpl) GetActive(ctx context.Context, applicationType string) (*model.WorkflowDefinition, error) {
	def, err := s.storage.GetActiveDefinition(ctx, applicationType)
	if err != nil {
		return nil, err
	}
	s.cache.SaveDefinition(def)
	return def, nil
}

// Publish stores def as the next version of its id and makes it the active
// definition of its application type.
func (s *CatalogServiceImpl) Publish(ctx context.Context, def model.WorkflowDefinition) (*model.WorkflowDefinition, error) {
	versions, err := s.storage.ListDefinitionVersions(ctx, def.Id)
	if err != nil {
		return nil, err
	}
	def.Version = 1
	if n := len(versions); n > 0 {
		def.Version = versions[n-1].Version + 1
	}
	if err := s.Validate(def); err != nil {
		return nil, err
	}
	def.IsActive = true
	if err := s.storage.PublishDefinition(ctx, def); err != nil {
		logger.Error("error publishing definition", zap.String("definition", def.Id), zap.Int("version", def.Version), zap.Error(err))
		return nil, err
	}
	s.cache.SaveDefinition(&def)
	logger.Info("definition published", zap.String("definition", def.Id), zap.Int("version", def.Version), zap.String("applicationType", def.ApplicationType))
	return &def, nil
}

// EnsureDefault publishes the corporate definition when its application type has none active.
func (s *CatalogServiceImpl) EnsureDefault(ctx context.Context) (*model.WorkflowDefinition, error) {
	def, err := s.GetActive(ctx, DEFAULT_APPLICATION_TYPE)
	if err == nil {
		return def, nil
	}
	if !api.IsNotFound(err) {
		return nil, err
	}
	return s.Publish(ctx, DefaultDefinition())
}

func (s *CatalogServiceImpl) ResolveTransition(ctx context.Context, definitionId string, version int, fromStatus model.Status, action model.Action, actorRole model.Role) (model.WorkflowTransition, error) {
	def, err := s.Get(ctx, definitionId, version)
	if err != nil {
		return model.WorkflowTransition{}, err
	}
	return Resolve(def, fromStatus, action, actorRole)
}

// Resolve finds the edge for (fromStatus, action) owned by actorRole.
func Resolve(def *model.WorkflowDefinition, fromStatus model.Status, action model.Action, actorRole model.Role) (model.WorkflowTransition, error) {
	var roles []string
	for _, tr := range def.Transitions {
		if tr.FromStatus != fromStatus || tr.Action != action {
			continue
		}
		if tr.RequiredRole == actorRole {
			return tr, nil
		}
		roles = append(roles, string(tr.RequiredRole))
	}
	if len(roles) > 0 {
		return model.WorkflowTransition{}, api.UnauthorizedError{
			Action:       string(action),
			ActorRole:    string(actorRole),
			RequiredRole: strings.Join(roles, ","),
		}
	}
	return model.WorkflowTransition{}, api.InvalidTransitionError{FromStatus: string(fromStatus), Action: string(action)}
}

func (s *CatalogServiceImpl) Validate(def model.WorkflowDefinition) error {
	if err := validate(def); err != nil {
		return api.ValidationError{Message: err.Error()}
	}
	return nil
}

func validate(def model.WorkflowDefinition) error {
	if len(def.Id) == 0 {
		return fmt.Errorf("definition id can not be empty")
	}
	if len(def.ApplicationType) == 0 {
		return fmt.Errorf("application type can not be empty")
	}
	if len(def.Stages) == 0 {
		return fmt.Errorf("definition %s has no stages", def.Id)
	}
	stages := make(map[model.Status]model.WorkflowStage)
	for _, st := range def.Stages {
		if len(st.Status) == 0 {
			return fmt.Errorf("stage status can not be empty")
		}
		if _, ok := stages[st.Status]; ok {
			return fmt.Errorf("stage %s is duplicate", st.Status)
		}
		if st.SlaHours < 0 {
			return fmt.Errorf("stage %s has negative sla hours", st.Status)
		}
		stages[st.Status] = st
	}
	initial, ok := stages[def.InitialStatus]
	if !ok {
		return fmt.Errorf("initial status %s is not a stage", def.InitialStatus)
	}
	if initial.IsTerminal {
		return fmt.Errorf("initial status %s can not be terminal", def.InitialStatus)
	}
	edges := make(map[string]bool)
	hasSubmit := false
	for _, tr := range def.Transitions {
		from, ok := stages[tr.FromStatus]
		if !ok {
			return fmt.Errorf("transition from undefined stage %s", tr.FromStatus)
		}
		if _, ok := stages[tr.ToStatus]; !ok {
			return fmt.Errorf("transition to undefined stage %s", tr.ToStatus)
		}
		if from.IsTerminal {
			return fmt.Errorf("terminal stage %s can not have outgoing transitions", tr.FromStatus)
		}
		if !tr.Action.IsValid() {
			return fmt.Errorf("transition from %s has unknown action %q", tr.FromStatus, tr.Action)
		}
		if len(tr.RequiredRole) == 0 {
			return fmt.Errorf("transition %s/%s has no required role", tr.FromStatus, tr.Action)
		}
		key := fmt.Sprintf("%s|%s|%s", tr.FromStatus, tr.Action, tr.RequiredRole)
		if edges[key] {
			return fmt.Errorf("transition %s/%s for role %s is duplicate", tr.FromStatus, tr.Action, tr.RequiredRole)
		}
		edges[key] = true
		if err := CompileGuard(tr.Guard); err != nil {
			return err
		}
		if tr.FromStatus == def.InitialStatus && tr.Action == model.ACTION_SUBMIT {
			hasSubmit = true
		}
	}
	if !hasSubmit {
		return fmt.Errorf("initial status %s has no %s transition", def.InitialStatus, model.ACTION_SUBMIT)
	}
	return nil
}
