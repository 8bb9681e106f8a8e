package container

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/mohitkumar/loanflow/analytics"
	"github.com/mohitkumar/loanflow/bridge"
	"github.com/mohitkumar/loanflow/cache"
	"github.com/mohitkumar/loanflow/committee"
	"github.com/mohitkumar/loanflow/config"
	"github.com/mohitkumar/loanflow/flow"
	"github.com/mohitkumar/loanflow/logger"
	"github.com/mohitkumar/loanflow/metadata"
	"github.com/mohitkumar/loanflow/persistence"
	"github.com/mohitkumar/loanflow/persistence/memory"
	rd "github.com/mohitkumar/loanflow/persistence/redis"
	"github.com/mohitkumar/loanflow/service"
	"github.com/mohitkumar/loanflow/util"
	"go.uber.org/zap"
)

type DIContainer struct {
	initialized      bool
	clock            util.Clock
	storage          persistence.Storage
	definitionCache  *cache.DefinitionCache
	catalog          *metadata.CatalogServiceImpl
	auditSink        analytics.AuditSink
	notificationSink bridge.NotificationSink
	dispatcher       *bridge.Dispatcher
	executor         *flow.TransitionExecutor
	tracker          *flow.Tracker
	committee        *committee.Engine
	loanService      *service.LoanService
}

func NewDiContainer(clock util.Clock) *DIContainer {
	return &DIContainer{
		initialized: false,
		clock:       clock,
	}
}

func (d *DIContainer) Init(conf config.Config, wg *sync.WaitGroup) error {
	switch conf.EncoderDecoderType {
	case config.JSON_ENCODER_DECODER, "":
	default:
		return fmt.Errorf("unsupported encoder decoder %s", conf.EncoderDecoderType)
	}

	switch conf.StorageType {
	case config.STORAGE_TYPE_REDIS:
		d.storage = rd.NewRedisStorage(rd.Config{
			Addrs:     conf.RedisConfig.Addrs,
			Namespace: conf.RedisConfig.Namespace,
			Password:  conf.RedisConfig.Password,
			PoolSize:  conf.RedisConfig.PoolSize,
		})
	case config.STORAGE_TYPE_INMEM:
		d.storage = memory.NewMemoryStorage()
	default:
		return fmt.Errorf("unsupported storage %s", conf.StorageType)
	}

	d.definitionCache = cache.NewDefinitionCache()
	d.catalog = metadata.NewCatalogService(d.storage, d.definitionCache)
	def, err := d.catalog.EnsureDefault(context.Background())
	if err != nil {
		return err
	}
	logger.Info("active corporate definition", zap.String("definition", def.Key()))

	d.auditSink, err = analytics.NewDataCollector(conf.AnalyticsConfig)
	if err != nil {
		return err
	}
	switch conf.NotificationConfig.SinkType {
	case config.NOTIFICATION_SINK_REDIS:
		d.notificationSink = bridge.NewRedisSinkFromAddrs(conf.RedisConfig.Addrs, conf.RedisConfig.Password, conf.NotificationConfig.Channel)
	default:
		d.notificationSink = bridge.NewLogSink()
	}
	d.dispatcher = bridge.NewDispatcher(d.notificationSink, d.auditSink, bridge.NewTemplates(bridge.DefaultTemplates), d.clock, bridge.DispatcherConfig{
		Timeout:  conf.NotificationConfig.Timeout,
		Capacity: conf.NotificationConfig.Capacity,
	}, wg)

	d.executor = flow.NewTransitionExecutor(d.storage, d.catalog, d.dispatcher, d.clock)
	d.tracker = flow.NewTracker(d.storage, d.clock)
	d.committee = committee.NewEngine(d.storage, d.catalog, d.executor, d.dispatcher, d.clock, committee.Config{
		CommitteeRole:       conf.CommitteeConfig.CommitteeRole,
		ConflictRetries:     conf.CommitteeConfig.ConflictRetries,
		RecirculationWindow: conf.CommitteeConfig.RecirculationWindow,
	})
	d.loanService = service.NewLoanService(d.catalog, d.executor, d.tracker, d.committee)
	d.initialized = true
	return nil
}

func (d *DIContainer) check() {
	if !d.initialized {
		panic("container not initalized")
	}
}

func (d *DIContainer) GetStorage() persistence.Storage {
	d.check()
	return d.storage
}

func (d *DIContainer) GetCatalog() *metadata.CatalogServiceImpl {
	d.check()
	return d.catalog
}

func (d *DIContainer) GetDispatcher() *bridge.Dispatcher {
	d.check()
	return d.dispatcher
}

func (d *DIContainer) GetTransitionExecutor() *flow.TransitionExecutor {
	d.check()
	return d.executor
}

func (d *DIContainer) GetTracker() *flow.Tracker {
	d.check()
	return d.tracker
}

func (d *DIContainer) GetCommitteeEngine() *committee.Engine {
	d.check()
	return d.committee
}

func (d *DIContainer) GetLoanService() *service.LoanService {
	d.check()
	return d.loanService
}

func (d *DIContainer) GetClock() util.Clock {
	return d.clock
}

// Close releases storage and sink connections.
func (d *DIContainer) Close() error {
	if !d.initialized {
		return nil
	}
	for _, c := range []any{d.storage, d.notificationSink, d.auditSink} {
		if closer, ok := c.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				logger.Error("error closing resource", zap.Error(err))
			}
		}
	}
	if syncer, ok := d.auditSink.(interface{ Sync() error }); ok {
		_ = syncer.Sync()
	}
	return nil
}
