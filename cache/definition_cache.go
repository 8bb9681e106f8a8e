package cache

import (
	"fmt"
	"time"

	"github.com/mohitkumar/loanflow/model"
	c "github.com/patrickmn/go-cache"
)

// DefinitionCache holds published definitions keyed by id and version.
// Published versions are immutable, so entries never expire.
type DefinitionCache struct {
	cache *c.Cache
}

func NewDefinitionCache() *DefinitionCache {
	return &DefinitionCache{
		cache: c.New(c.NoExpiration, 10*time.Minute),
	}
}

func key(id string, version int) string {
	return fmt.Sprintf("%s:%d", id, version)
}

func (ch *DefinitionCache) SaveDefinition(def *model.WorkflowDefinition) {
	ch.cache.Set(key(def.Id, def.Version), def, c.NoExpiration)
}

func (ch *DefinitionCache) GetDefinition(id string, version int) (*model.WorkflowDefinition, bool) {
	v, found := ch.cache.Get(key(id, version))
	if !found {
		return nil, false
	}
	def, ok := v.(*model.WorkflowDefinition)
	return def, ok
}

func (ch *DefinitionCache) Count() int {
	return ch.cache.ItemCount()
}
