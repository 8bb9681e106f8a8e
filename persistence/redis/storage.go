package redis

import (
	"github.com/mohitkumar/loanflow/persistence"
)

var _ persistence.Storage = new(redisStorage)

type redisStorage struct {
	*baseDao
	*redisDefinitionStorage
	*redisInstanceStorage
	*redisReviewStorage
}

func NewRedisStorage(conf Config) *redisStorage {
	base := newBaseDao(conf)
	return &redisStorage{
		baseDao:                base,
		redisDefinitionStorage: newRedisDefinitionStorage(base),
		redisInstanceStorage:   newRedisInstanceStorage(base),
		redisReviewStorage:     newRedisReviewStorage(base),
	}
}
