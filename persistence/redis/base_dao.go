package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	rd "github.com/go-redis/redis/v9"
	api "github.com/mohitkumar/loanflow/api/v1"
	"google.golang.org/grpc/status"
)

type baseDao struct {
	redisClient rd.UniversalClient
	namespace   string
}

func newBaseDao(conf Config) *baseDao {
	redisClient := rd.NewUniversalClient(&rd.UniversalOptions{
		Addrs:    conf.Addrs,
		Password: conf.Password,
		PoolSize: conf.PoolSize,
	})
	return &baseDao{
		redisClient: redisClient,
		namespace:   conf.Namespace,
	}
}

func (bs *baseDao) getNamespaceKey(args ...string) string {
	return fmt.Sprintf("%s:%s", bs.namespace, strings.Join(args, ":"))
}

func (bs *baseDao) Ping(ctx context.Context) error {
	return bs.redisClient.Ping(ctx).Err()
}

func (bs *baseDao) Close() error {
	return bs.redisClient.Close()
}

// watch runs fn in an optimistic transaction over keys. A concurrent write to
// any watched key surfaces as a ConflictError on entity/id.
func (bs *baseDao) watch(ctx context.Context, entity string, id string, fn func(tx *rd.Tx) error, keys ...string) error {
	err := bs.redisClient.Watch(ctx, fn, keys...)
	if errors.Is(err, rd.TxFailedErr) {
		return api.ConflictError{Entity: entity, Id: id}
	}
	return storageError(err)
}

// storageError passes typed and context errors through and wraps the rest.
func storageError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var typed interface{ GRPCStatus() *status.Status }
	if errors.As(err, &typed) {
		return err
	}
	return api.StorageLayerError{Message: err.Error()}
}
