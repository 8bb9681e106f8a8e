package config

import (
	"fmt"
	"net"
	"time"

	"github.com/mohitkumar/loanflow/analytics"
	"github.com/mohitkumar/loanflow/model"
)

type StorageType string

const STORAGE_TYPE_REDIS StorageType = "redis"
const STORAGE_TYPE_INMEM StorageType = "memory"

type NotificationSinkType string

const NOTIFICATION_SINK_LOG NotificationSinkType = "log"
const NOTIFICATION_SINK_REDIS NotificationSinkType = "redis"

type EncoderDecoderType string

const JSON_ENCODER_DECODER EncoderDecoderType = "JSON"

type Config struct {
	RedisConfig        RedisStorageConfig
	HttpPort           int
	GrpcPort           int
	BindAddr           string
	StorageType        StorageType
	EncoderDecoderType EncoderDecoderType
	SlaConfig          SlaConfig
	CommitteeConfig    CommitteeConfig
	NotificationConfig NotificationConfig
	AnalyticsConfig    analytics.DataCollectorConfig
	LogLevel           string
}

type SlaConfig struct {
	SweepInterval      time.Duration
	EscalationInterval time.Duration
	EscalationChain    []model.Role
}

type CommitteeConfig struct {
	CommitteeRole       model.Role
	ExpiryInterval      time.Duration
	ConflictRetries     int
	// RecirculationWindow delays the Reject of an expired review.
	RecirculationWindow time.Duration
}

type NotificationConfig struct {
	SinkType NotificationSinkType
	Channel  string
	Timeout  time.Duration
	Capacity int
}

type RedisStorageConfig struct {
	Addrs     []string
	Namespace string
	Password  string
	PoolSize  int
}

func (c Config) RPCAddr() (string, error) {
	host, _, err := net.SplitHostPort(c.BindAddr)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:%d", host, c.GrpcPort), nil
}

const (
	DEFAULT_SWEEP_INTERVAL        = time.Minute
	DEFAULT_ESCALATION_INTERVAL   = 4 * time.Hour
	DEFAULT_EXPIRY_INTERVAL       = time.Minute
	DEFAULT_NOTIFICATION_TIMEOUT  = 5 * time.Second
	DEFAULT_NOTIFICATION_CAPACITY = 512
	DEFAULT_CONFLICT_RETRIES      = 5
)

// WithDefaults fills zero durations, capacities and retries.
func (c Config) WithDefaults() Config {
	if c.SlaConfig.SweepInterval <= 0 {
		c.SlaConfig.SweepInterval = DEFAULT_SWEEP_INTERVAL
	}
	if c.SlaConfig.EscalationInterval <= 0 {
		c.SlaConfig.EscalationInterval = DEFAULT_ESCALATION_INTERVAL
	}
	if c.CommitteeConfig.ExpiryInterval <= 0 {
		c.CommitteeConfig.ExpiryInterval = DEFAULT_EXPIRY_INTERVAL
	}
	if c.CommitteeConfig.ConflictRetries <= 0 {
		c.CommitteeConfig.ConflictRetries = DEFAULT_CONFLICT_RETRIES
	}
	if c.NotificationConfig.Timeout <= 0 {
		c.NotificationConfig.Timeout = DEFAULT_NOTIFICATION_TIMEOUT
	}
	if c.NotificationConfig.Capacity <= 0 {
		c.NotificationConfig.Capacity = DEFAULT_NOTIFICATION_CAPACITY
	}
	if len(c.NotificationConfig.SinkType) == 0 {
		c.NotificationConfig.SinkType = NOTIFICATION_SINK_LOG
	}
	if len(c.EncoderDecoderType) == 0 {
		c.EncoderDecoderType = JSON_ENCODER_DECODER
	}
	return c
}

func (c Config) Validate() error {
	if c.SlaConfig.SweepInterval <= 0 {
		return fmt.Errorf("sla sweep interval must be positive")
	}
	if c.SlaConfig.EscalationInterval <= 0 {
		return fmt.Errorf("sla escalation interval must be positive")
	}
	if len(c.SlaConfig.EscalationChain) == 0 {
		return fmt.Errorf("sla escalation chain can not be empty")
	}
	if c.CommitteeConfig.ExpiryInterval <= 0 {
		return fmt.Errorf("committee expiry interval must be positive")
	}
	if c.CommitteeConfig.RecirculationWindow < 0 {
		return fmt.Errorf("committee recirculation window can not be negative")
	}
	switch c.StorageType {
	case STORAGE_TYPE_INMEM, STORAGE_TYPE_REDIS:
	default:
		return fmt.Errorf("unsupported storage %s", c.StorageType)
	}
	switch c.NotificationConfig.SinkType {
	case NOTIFICATION_SINK_LOG, NOTIFICATION_SINK_REDIS:
	default:
		return fmt.Errorf("unsupported notification sink %s", c.NotificationConfig.SinkType)
	}
	return nil
}
