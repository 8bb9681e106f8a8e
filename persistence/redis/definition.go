package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	rd "github.com/go-redis/redis/v9"
	api "github.com/mohitkumar/loanflow/api/v1"
	"github.com/mohitkumar/loanflow/model"
	"github.com/mohitkumar/loanflow/persistence"
	"github.com/mohitkumar/loanflow/util"
)

const DEFINITION_KEY string = "DEFINITION"
const DEFINITION_VERSIONS_KEY string = "DEFINITION_VERSIONS"
const ACTIVE_DEFINITION_KEY string = "ACTIVE_DEFINITION"

var _ persistence.DefinitionStorage = new(redisDefinitionStorage)

type redisDefinitionStorage struct {
	*baseDao
	encoderDecoder util.EncoderDecoder[model.WorkflowDefinition]
}

func newRedisDefinitionStorage(base *baseDao) *redisDefinitionStorage {
	return &redisDefinitionStorage{
		baseDao:        base,
		encoderDecoder: util.NewJsonEncoderDecoder[model.WorkflowDefinition](),
	}
}

func (r *redisDefinitionStorage) definitionKey(id string, version int) string {
	return r.getNamespaceKey(DEFINITION_KEY, id, strconv.Itoa(version))
}

func (r *redisDefinitionStorage) PublishDefinition(ctx context.Context, def model.WorkflowDefinition) error {
	activeKey := r.getNamespaceKey(ACTIVE_DEFINITION_KEY, def.ApplicationType)
	defKey := r.definitionKey(def.Id, def.Version)
	versionsKey := r.getNamespaceKey(DEFINITION_VERSIONS_KEY, def.Id)
	return r.watch(ctx, "definition", def.Key(), func(tx *rd.Tx) error {
		exists, err := tx.Exists(ctx, defKey).Result()
		if err != nil {
			return err
		}
		if exists > 0 {
			return api.ConflictError{Entity: "definition", Id: def.Key(), Reason: "version already published"}
		}
		var previous *model.WorkflowDefinition
		prevKey, err := tx.Get(ctx, activeKey).Result()
		if err != nil && !errors.Is(err, rd.Nil) {
			return err
		}
		if err == nil {
			data, err := tx.Get(ctx, prevKey).Result()
			if err != nil && !errors.Is(err, rd.Nil) {
				return err
			}
			if err == nil {
				previous, err = r.encoderDecoder.Decode([]byte(data))
				if err != nil {
					return err
				}
				previous.IsActive = false
			}
		}
		def.IsActive = true
		data, err := r.encoderDecoder.Encode(def)
		if err != nil {
			return err
		}
		var prevData []byte
		if previous != nil {
			if prevData, err = r.encoderDecoder.Encode(*previous); err != nil {
				return err
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe rd.Pipeliner) error {
			if previous != nil {
				pipe.Set(ctx, prevKey, prevData, 0)
			}
			pipe.Set(ctx, defKey, data, 0)
			pipe.ZAdd(ctx, versionsKey, rd.Z{Score: float64(def.Version), Member: strconv.Itoa(def.Version)})
			pipe.Set(ctx, activeKey, defKey, 0)
			return nil
		})
		return err
	}, activeKey, defKey)
}

func (r *redisDefinitionStorage) GetDefinition(ctx context.Context, id string, version int) (*model.WorkflowDefinition, error) {
	return r.getByKey(ctx, r.definitionKey(id, version), fmt.Sprintf("%s:%d", id, version))
}

func (r *redisDefinitionStorage) getByKey(ctx context.Context, key string, id string) (*model.WorkflowDefinition, error) {
	data, err := r.redisClient.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, api.NotFoundError{Entity: "definition", Id: id}
		}
		return nil, storageError(err)
	}
	return r.encoderDecoder.Decode([]byte(data))
}

func (r *redisDefinitionStorage) GetActiveDefinition(ctx context.Context, applicationType string) (*model.WorkflowDefinition, error) {
	defKey, err := r.redisClient.Get(ctx, r.getNamespaceKey(ACTIVE_DEFINITION_KEY, applicationType)).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, api.NotFoundError{Entity: "active definition", Id: applicationType}
		}
		return nil, storageError(err)
	}
	return r.getByKey(ctx, defKey, applicationType)
}

func (r *redisDefinitionStorage) ListDefinitionVersions(ctx context.Context, id string) ([]*model.WorkflowDefinition, error) {
	versions, err := r.redisClient.ZRange(ctx, r.getNamespaceKey(DEFINITION_VERSIONS_KEY, id), 0, -1).Result()
	if err != nil {
		return nil, storageError(err)
	}
	out := make([]*model.WorkflowDefinition, 0, len(versions))
	for _, v := range versions {
		version, err := strconv.Atoi(v)
		if err != nil {
			continue
		}
		def, err := r.GetDefinition(ctx, id, version)
		if err != nil {
			return nil, err
		}
		out = append(out, def)
	}
	return out, nil
}
