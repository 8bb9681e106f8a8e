package agent

import (
	"fmt"
	"net"
	"sync"

	"github.com/mohitkumar/loanflow/config"
	"github.com/mohitkumar/loanflow/container"
	"github.com/mohitkumar/loanflow/executor"
	"github.com/mohitkumar/loanflow/logger"
	"github.com/mohitkumar/loanflow/metrics"
	"github.com/mohitkumar/loanflow/rest"
	"github.com/mohitkumar/loanflow/rpc"
	"github.com/mohitkumar/loanflow/util"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

type Agent struct {
	Config               config.Config
	diContainer          *container.DIContainer
	httpServer           *rest.Server
	grpcServer           *grpc.Server
	slaExecutor          *executor.SlaExecutor
	reviewExpiryExecutor *executor.ReviewExpiryExecutor
	shutdown             bool
	shutdowns            chan struct{}
	shutdownLock         sync.Mutex
	wg                   sync.WaitGroup
}

func New(config config.Config) (*Agent, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	a := &Agent{
		Config:    config,
		shutdowns: make(chan struct{}),
	}
	setup := []func() error{
		metrics.Register,
		a.setupContainer,
		a.setupExecutors,
		a.setupHttpServer,
		a.setupGrpcServer,
	}
	for _, fn := range setup {
		if err := fn(); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (a *Agent) setupContainer() error {
	a.diContainer = container.NewDiContainer(util.NewSystemClock())
	return a.diContainer.Init(a.Config, &a.wg)
}

func (a *Agent) setupExecutors() error {
	dispatcher := a.diContainer.GetDispatcher()
	a.slaExecutor = executor.NewSlaExecutor(a.diContainer.GetStorage(), dispatcher, dispatcher, a.diContainer.GetClock(), a.Config.SlaConfig, &a.wg)
	a.reviewExpiryExecutor = executor.NewReviewExpiryExecutor(a.diContainer.GetCommitteeEngine(), a.diContainer.GetClock(), a.Config.CommitteeConfig.ExpiryInterval, &a.wg)
	return nil
}

func (a *Agent) setupHttpServer() error {
	var err error
	a.httpServer, err = rest.NewServer(a.Config.HttpPort, a.diContainer.GetLoanService())
	if err != nil {
		return err
	}
	return nil
}

func (a *Agent) setupGrpcServer() error {
	var err error
	conf := &rpc.GrpcConfig{
		LoanService: a.diContainer.GetLoanService(),
	}
	a.grpcServer, err = rpc.NewGrpcServer(conf)
	if err != nil {
		return err
	}
	return nil
}

func (a *Agent) Start() error {
	start := []func() error{
		a.diContainer.GetDispatcher().Start,
		a.slaExecutor.Start,
		a.reviewExpiryExecutor.Start,
	}
	for _, fn := range start {
		if err := fn(); err != nil {
			return err
		}
	}

	go func() {
		err := a.httpServer.Start()
		if err != nil {
			_ = a.Shutdown()
			panic(err)
		}
	}()

	go func() {
		logger.Info("startting grpc server on", zap.Int("port", a.Config.GrpcPort))
		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", a.Config.GrpcPort))
		if err != nil {
			panic(err)
		}

		if err := a.grpcServer.Serve(lis); err != nil {
			_ = a.Shutdown()
			panic(err)
		}
	}()
	return nil
}

func (a *Agent) Shutdown() error {
	logger.Info("shutting down server")
	a.shutdownLock.Lock()
	defer a.shutdownLock.Unlock()
	if a.shutdown {
		return nil
	}
	a.shutdown = true
	close(a.shutdowns)

	shutdown := []func() error{
		a.httpServer.Stop,
		func() error {
			logger.Info("stopping grpc server")
			a.grpcServer.GracefulStop()
			return nil
		},
		a.slaExecutor.Stop,
		a.reviewExpiryExecutor.Stop,
		a.diContainer.GetDispatcher().Stop,
	}
	for _, fn := range shutdown {
		if err := fn(); err != nil {
			return err
		}
	}
	logger.Info("waiting for all services to shutdown...")
	a.wg.Wait()
	metrics.Unregister()
	return a.diContainer.Close()
}
