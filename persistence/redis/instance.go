package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"

	rd "github.com/go-redis/redis/v9"
	api "github.com/mohitkumar/loanflow/api/v1"
	"github.com/mohitkumar/loanflow/logger"
	"github.com/mohitkumar/loanflow/model"
	"github.com/mohitkumar/loanflow/persistence"
	"github.com/mohitkumar/loanflow/util"
	"go.uber.org/zap"
)

const INSTANCE_KEY string = "INSTANCE"
const OPEN_INSTANCES_KEY string = "OPEN_INSTANCES"
const OPEN_APPLICATION_KEY string = "OPEN_APPLICATION"
const TRANSITION_LOG_KEY string = "TRANSITION_LOG"

var _ persistence.InstanceStorage = new(redisInstanceStorage)

type redisInstanceStorage struct {
	*baseDao
	encoderDecoder    util.EncoderDecoder[model.WorkflowInstance]
	logEncoderDecoder util.EncoderDecoder[model.WorkflowTransitionLog]
}

func newRedisInstanceStorage(base *baseDao) *redisInstanceStorage {
	return &redisInstanceStorage{
		baseDao:           base,
		encoderDecoder:    util.NewJsonEncoderDecoder[model.WorkflowInstance](),
		logEncoderDecoder: util.NewJsonEncoderDecoder[model.WorkflowTransitionLog](),
	}
}

func (r *redisInstanceStorage) instanceKey(id string) string {
	return r.getNamespaceKey(INSTANCE_KEY, id)
}

func (r *redisInstanceStorage) applicationKey(applicationId string) string {
	return r.getNamespaceKey(OPEN_APPLICATION_KEY, applicationId)
}

func (r *redisInstanceStorage) CreateInstance(ctx context.Context, inst *model.WorkflowInstance, log *model.WorkflowTransitionLog) error {
	appKey := r.applicationKey(inst.ApplicationId)
	key := r.instanceKey(inst.Id)
	return r.watch(ctx, "application", inst.ApplicationId, func(tx *rd.Tx) error {
		existing, err := tx.Get(ctx, appKey).Result()
		if err != nil && !errors.Is(err, rd.Nil) {
			return err
		}
		if err == nil {
			return api.ConflictError{Entity: "application", Id: inst.ApplicationId, Reason: fmt.Sprintf("open instance %s exists", existing)}
		}
		inst.Version = 1
		data, err := r.encoderDecoder.Encode(*inst)
		if err != nil {
			return err
		}
		var logData []byte
		if log != nil {
			if logData, err = r.logEncoderDecoder.Encode(*log); err != nil {
				return err
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe rd.Pipeliner) error {
			pipe.SetNX(ctx, key, data, 0)
			if !inst.IsCompleted {
				pipe.Set(ctx, appKey, inst.Id, 0)
				pipe.SAdd(ctx, r.getNamespaceKey(OPEN_INSTANCES_KEY), inst.Id)
			}
			if logData != nil {
				pipe.RPush(ctx, r.getNamespaceKey(TRANSITION_LOG_KEY, inst.Id), logData)
			}
			return nil
		})
		return err
	}, appKey, key)
}

func (r *redisInstanceStorage) GetInstance(ctx context.Context, id string) (*model.WorkflowInstance, error) {
	data, err := r.redisClient.Get(ctx, r.instanceKey(id)).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, api.NotFoundError{Entity: "instance", Id: id}
		}
		logger.Error("error in getting instance", zap.String("instanceId", id), zap.Error(err))
		return nil, storageError(err)
	}
	return r.encoderDecoder.Decode([]byte(data))
}

func (r *redisInstanceStorage) GetOpenInstanceByApplication(ctx context.Context, applicationId string) (*model.WorkflowInstance, error) {
	id, err := r.redisClient.Get(ctx, r.applicationKey(applicationId)).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, api.NotFoundError{Entity: "open instance for application", Id: applicationId}
		}
		return nil, storageError(err)
	}
	return r.GetInstance(ctx, id)
}

func (r *redisInstanceStorage) UpdateInstance(ctx context.Context, inst *model.WorkflowInstance, expectedVersion int64) error {
	return r.commit(ctx, inst, expectedVersion, nil)
}

func (r *redisInstanceStorage) CommitTransition(ctx context.Context, inst *model.WorkflowInstance, expectedVersion int64, log model.WorkflowTransitionLog) error {
	return r.commit(ctx, inst, expectedVersion, &log)
}

func (r *redisInstanceStorage) commit(ctx context.Context, inst *model.WorkflowInstance, expectedVersion int64, log *model.WorkflowTransitionLog) error {
	key := r.instanceKey(inst.Id)
	return r.watch(ctx, "instance", inst.Id, func(tx *rd.Tx) error {
		current, err := tx.Get(ctx, key).Result()
		if err != nil {
			if errors.Is(err, rd.Nil) {
				return api.NotFoundError{Entity: "instance", Id: inst.Id}
			}
			return err
		}
		stored, err := r.encoderDecoder.Decode([]byte(current))
		if err != nil {
			return err
		}
		if stored.Version != expectedVersion {
			return api.ConflictError{Entity: "instance", Id: inst.Id}
		}
		next := inst.Clone()
		next.Version = expectedVersion + 1
		data, err := r.encoderDecoder.Encode(*next)
		if err != nil {
			return err
		}
		var logData []byte
		if log != nil {
			if logData, err = r.logEncoderDecoder.Encode(*log); err != nil {
				return err
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe rd.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			if logData != nil {
				pipe.RPush(ctx, r.getNamespaceKey(TRANSITION_LOG_KEY, inst.Id), logData)
			}
			if next.IsCompleted {
				pipe.Del(ctx, r.applicationKey(inst.ApplicationId))
				pipe.SRem(ctx, r.getNamespaceKey(OPEN_INSTANCES_KEY), inst.Id)
			}
			return nil
		})
		if err != nil {
			return err
		}
		inst.Version = next.Version
		return nil
	}, key)
}

func (r *redisInstanceStorage) ListOpenInstances(ctx context.Context) ([]*model.WorkflowInstance, error) {
	ids, err := r.redisClient.SMembers(ctx, r.getNamespaceKey(OPEN_INSTANCES_KEY)).Result()
	if err != nil {
		return nil, storageError(err)
	}
	if len(ids) == 0 {
		return []*model.WorkflowInstance{}, nil
	}
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, r.instanceKey(id))
	}
	values, err := r.redisClient.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, storageError(err)
	}
	out := make([]*model.WorkflowInstance, 0, len(values))
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			continue
		}
		inst, err := r.encoderDecoder.Decode([]byte(str))
		if err != nil {
			logger.Error("can not decode instance", zap.String("instanceId", ids[i]), zap.Error(err))
			continue
		}
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EnteredStageAt.Before(out[j].EnteredStageAt) })
	return out, nil
}

func (r *redisInstanceStorage) GetTransitionLogs(ctx context.Context, instanceId string) ([]model.WorkflowTransitionLog, error) {
	exists, err := r.redisClient.Exists(ctx, r.instanceKey(instanceId)).Result()
	if err != nil {
		return nil, storageError(err)
	}
	if exists == 0 {
		return nil, api.NotFoundError{Entity: "instance", Id: instanceId}
	}
	values, err := r.redisClient.LRange(ctx, r.getNamespaceKey(TRANSITION_LOG_KEY, instanceId), 0, -1).Result()
	if err != nil {
		return nil, storageError(err)
	}
	logs, err := util.DecodeAll[model.WorkflowTransitionLog](r.logEncoderDecoder, values)
	if err != nil {
		return nil, err
	}
	out := make([]model.WorkflowTransitionLog, 0, len(logs))
	for _, l := range logs {
		out = append(out, *l)
	}
	return out, nil
}
