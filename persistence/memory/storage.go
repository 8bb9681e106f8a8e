package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	api "github.com/mohitkumar/loanflow/api/v1"
	"github.com/mohitkumar/loanflow/model"
	"github.com/mohitkumar/loanflow/persistence"
)

var _ persistence.Storage = new(memoryStorage)

type reviewRecord struct {
	header    *model.CommitteeReview
	members   []*model.CommitteeMember
	comments  []model.CommitteeComment
	documents []model.CommitteeDocument
}

type memoryStorage struct {
	mu sync.RWMutex

	definitions map[string]*model.WorkflowDefinition
	active      map[string]string

	instances   map[string]*model.WorkflowInstance
	openByApp   map[string]string
	logs        map[string][]model.WorkflowTransitionLog
	reviews     map[string]*reviewRecord
	openReviews map[string]string
	handoffs    map[string]struct{}
}

func NewMemoryStorage() *memoryStorage {
	return &memoryStorage{
		definitions: make(map[string]*model.WorkflowDefinition),
		active:      make(map[string]string),
		instances:   make(map[string]*model.WorkflowInstance),
		openByApp:   make(map[string]string),
		logs:        make(map[string][]model.WorkflowTransitionLog),
		reviews:     make(map[string]*reviewRecord),
		openReviews: make(map[string]string),
		handoffs:    make(map[string]struct{}),
	}
}

func definitionKey(id string, version int) string {
	return fmt.Sprintf("%s:%d", id, version)
}

func (s *memoryStorage) PublishDefinition(ctx context.Context, def model.WorkflowDefinition) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := definitionKey(def.Id, def.Version)
	if _, ok := s.definitions[key]; ok {
		return api.ConflictError{Entity: "definition", Id: key, Reason: "version already published"}
	}
	if prevKey, ok := s.active[def.ApplicationType]; ok {
		prev := *s.definitions[prevKey]
		prev.IsActive = false
		s.definitions[prevKey] = &prev
	}
	def.IsActive = true
	s.definitions[key] = &def
	s.active[def.ApplicationType] = key
	return nil
}

func (s *memoryStorage) GetDefinition(ctx context.Context, id string, version int) (*model.WorkflowDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.definitions[definitionKey(id, version)]
	if !ok {
		return nil, api.NotFoundError{Entity: "definition", Id: definitionKey(id, version)}
	}
	cp := *def
	return &cp, nil
}

func (s *memoryStorage) GetActiveDefinition(ctx context.Context, applicationType string) (*model.WorkflowDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.active[applicationType]
	if !ok {
		return nil, api.NotFoundError{Entity: "active definition", Id: applicationType}
	}
	cp := *s.definitions[key]
	return &cp, nil
}

func (s *memoryStorage) ListDefinitionVersions(ctx context.Context, id string) ([]*model.WorkflowDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.WorkflowDefinition
	for _, def := range s.definitions {
		if def.Id == id {
			cp := *def
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func (s *memoryStorage) CreateInstance(ctx context.Context, inst *model.WorkflowInstance, log *model.WorkflowTransitionLog) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.openByApp[inst.ApplicationId]; ok {
		return api.ConflictError{Entity: "application", Id: inst.ApplicationId, Reason: fmt.Sprintf("open instance %s exists", existing)}
	}
	if _, ok := s.instances[inst.Id]; ok {
		return api.ConflictError{Entity: "instance", Id: inst.Id, Reason: "already exists"}
	}
	inst.Version = 1
	s.instances[inst.Id] = inst.Clone()
	if !inst.IsCompleted {
		s.openByApp[inst.ApplicationId] = inst.Id
	}
	if log != nil {
		s.logs[inst.Id] = append(s.logs[inst.Id], *log)
	}
	return nil
}

func (s *memoryStorage) GetInstance(ctx context.Context, id string) (*model.WorkflowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inst, ok := s.instances[id]
	if !ok {
		return nil, api.NotFoundError{Entity: "instance", Id: id}
	}
	return inst.Clone(), nil
}

func (s *memoryStorage) GetOpenInstanceByApplication(ctx context.Context, applicationId string) (*model.WorkflowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.openByApp[applicationId]
	if !ok {
		return nil, api.NotFoundError{Entity: "open instance for application", Id: applicationId}
	}
	return s.instances[id].Clone(), nil
}

func (s *memoryStorage) UpdateInstance(ctx context.Context, inst *model.WorkflowInstance, expectedVersion int64) error {
	return s.commit(ctx, inst, expectedVersion, nil)
}

func (s *memoryStorage) CommitTransition(ctx context.Context, inst *model.WorkflowInstance, expectedVersion int64, log model.WorkflowTransitionLog) error {
	return s.commit(ctx, inst, expectedVersion, &log)
}

func (s *memoryStorage) commit(ctx context.Context, inst *model.WorkflowInstance, expectedVersion int64, log *model.WorkflowTransitionLog) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.instances[inst.Id]
	if !ok {
		return api.NotFoundError{Entity: "instance", Id: inst.Id}
	}
	if stored.Version != expectedVersion {
		return api.ConflictError{Entity: "instance", Id: inst.Id}
	}
	inst.Version = expectedVersion + 1
	s.instances[inst.Id] = inst.Clone()
	if inst.IsCompleted {
		if s.openByApp[inst.ApplicationId] == inst.Id {
			delete(s.openByApp, inst.ApplicationId)
		}
	}
	if log != nil {
		s.logs[inst.Id] = append(s.logs[inst.Id], *log)
	}
	return nil
}

func (s *memoryStorage) ListOpenInstances(ctx context.Context) ([]*model.WorkflowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.WorkflowInstance, 0, len(s.openByApp))
	for _, id := range s.openByApp {
		out = append(out, s.instances[id].Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EnteredStageAt.Before(out[j].EnteredStageAt) })
	return out, nil
}

func (s *memoryStorage) GetTransitionLogs(ctx context.Context, instanceId string) ([]model.WorkflowTransitionLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.instances[instanceId]; !ok {
		return nil, api.NotFoundError{Entity: "instance", Id: instanceId}
	}
	logs := s.logs[instanceId]
	out := make([]model.WorkflowTransitionLog, len(logs))
	copy(out, logs)
	return out, nil
}

func (s *memoryStorage) CreateReview(ctx context.Context, review *model.CommitteeReview) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.openReviews[review.ApplicationId]; ok {
		return api.ConflictError{Entity: "application", Id: review.ApplicationId, Reason: fmt.Sprintf("review %s is in progress", existing)}
	}
	review.Version = 1
	rec := &reviewRecord{header: review.Clone()}
	rec.header.Members = nil
	rec.header.Comments = nil
	rec.header.Documents = nil
	for i := range review.Members {
		review.Members[i].Version = 1
		m := review.Members[i]
		rec.members = append(rec.members, &m)
	}
	s.reviews[review.Id] = rec
	if review.Status == model.REVIEW_IN_PROGRESS {
		s.openReviews[review.ApplicationId] = review.Id
	}
	return nil
}

func (s *memoryStorage) GetReview(ctx context.Context, id string) (*model.CommitteeReview, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.reviews[id]
	if !ok {
		return nil, api.NotFoundError{Entity: "review", Id: id}
	}
	return rec.assemble(), nil
}

func (rec *reviewRecord) assemble() *model.CommitteeReview {
	review := rec.header.Clone()
	review.Members = make([]model.CommitteeMember, 0, len(rec.members))
	for _, m := range rec.members {
		review.Members = append(review.Members, *m)
	}
	review.Comments = append([]model.CommitteeComment(nil), rec.comments...)
	review.Documents = append([]model.CommitteeDocument(nil), rec.documents...)
	return review
}

func (s *memoryStorage) UpdateReview(ctx context.Context, review *model.CommitteeReview, expectedVersion int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.reviews[review.Id]
	if !ok {
		return api.NotFoundError{Entity: "review", Id: review.Id}
	}
	if rec.header.Version != expectedVersion {
		return api.ConflictError{Entity: "review", Id: review.Id}
	}
	review.Version = expectedVersion + 1
	header := review.Clone()
	header.Members = nil
	header.Comments = nil
	header.Documents = nil
	rec.header = header
	if review.Status.IsClosed() && s.openReviews[review.ApplicationId] == review.Id {
		delete(s.openReviews, review.ApplicationId)
	}
	if review.AwaitingHandoff() {
		s.handoffs[review.Id] = struct{}{}
	} else {
		delete(s.handoffs, review.Id)
	}
	return nil
}

func (s *memoryStorage) UpdateMember(ctx context.Context, reviewId string, member *model.CommitteeMember, expectedVersion int64, reviewVersion int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.reviews[reviewId]
	if !ok {
		return api.NotFoundError{Entity: "review", Id: reviewId}
	}
	if reviewVersion != persistence.AnyVersion && rec.header.Version != reviewVersion {
		return api.ConflictError{Entity: "review", Id: reviewId}
	}
	for _, m := range rec.members {
		if m.UserId != member.UserId {
			continue
		}
		if m.Version != expectedVersion {
			return api.ConflictError{Entity: "committee member", Id: member.UserId}
		}
		member.Version = expectedVersion + 1
		*m = *member
		return nil
	}
	return api.NotFoundError{Entity: "committee member", Id: member.UserId}
}

func (s *memoryStorage) AppendComment(ctx context.Context, reviewId string, comment model.CommitteeComment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.reviews[reviewId]
	if !ok {
		return api.NotFoundError{Entity: "review", Id: reviewId}
	}
	rec.comments = append(rec.comments, comment)
	return nil
}

func (s *memoryStorage) AppendDocument(ctx context.Context, reviewId string, doc model.CommitteeDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.reviews[reviewId]
	if !ok {
		return api.NotFoundError{Entity: "review", Id: reviewId}
	}
	rec.documents = append(rec.documents, doc)
	return nil
}

func (s *memoryStorage) ListOpenReviews(ctx context.Context) ([]*model.CommitteeReview, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.CommitteeReview, 0, len(s.openReviews))
	for _, id := range s.openReviews {
		out = append(out, s.reviews[id].assemble())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeadlineAt.Before(out[j].DeadlineAt) })
	return out, nil
}

func (s *memoryStorage) ListPendingHandoffs(ctx context.Context) ([]*model.CommitteeReview, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.CommitteeReview, 0, len(s.handoffs))
	for id := range s.handoffs {
		out = append(out, s.reviews[id].assemble())
	}
	sortByDecision(out)
	return out, nil
}

func sortByDecision(list []*model.CommitteeReview) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].DecidedAt == nil || list[j].DecidedAt == nil {
			return list[j].DecidedAt == nil && list[i].DecidedAt != nil
		}
		return list[i].DecidedAt.Before(*list[j].DecidedAt)
	})
}
