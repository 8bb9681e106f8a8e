package main

import (
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mohitkumar/loanflow/agent"
	"github.com/mohitkumar/loanflow/analytics"
	"github.com/mohitkumar/loanflow/config"
	"github.com/mohitkumar/loanflow/logger"
	"github.com/mohitkumar/loanflow/metadata"
	"github.com/mohitkumar/loanflow/model"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type cfg struct {
	config.Config
}
type cli struct {
	cfg cfg
}

func setupFlags(cmd *cobra.Command) error {
	cmd.Flags().String("config-file", "", "Path to config file.")
	cmd.Flags().String("redis-addr", "localhost:6379", "comma separated list of redis host:port")
	cmd.Flags().String("redis-password", "", "redis password")
	cmd.Flags().Int("redis-pool-size", 0, "redis connection pool size, 0 uses the client default")
	cmd.Flags().String("namespace", "loanflow", "namespace used in storage")
	cmd.Flags().String("bind-addr", "127.0.0.1:8400", "address the server binds to")
	cmd.Flags().Int("http-port", 8080, "htt port for rest endpoints")
	cmd.Flags().Int("grpc-port", 8099, "grpc port for service clients")
	cmd.Flags().String("storage-impl", "redis", "implementation of underline storage, redis or memory")
	cmd.Flags().String("encoder-decoder", "JSON", "encoder decoder used to serialzie data")
	cmd.Flags().Duration("sla-sweep-interval", 0, "how often the sla monitor runs, defaults to 1m")
	cmd.Flags().Duration("sla-escalation-interval", 0, "minimum gap between escalation steps, defaults to 4h")
	cmd.Flags().String("sla-escalation-chain", strings.Join([]string{string(metadata.ROLE_BRANCH_MANAGER), string(metadata.ROLE_RISK_MANAGER), string(metadata.ROLE_CREDIT_COMMITTEE)}, ","), "comma separated roles escalation walks through")
	cmd.Flags().String("committee-role", string(metadata.ROLE_CREDIT_COMMITTEE), "role used when a committee decision moves the application")
	cmd.Flags().Duration("committee-expiry-interval", 0, "how often overdue committee reviews are expired, defaults to 1m")
	cmd.Flags().Int("committee-conflict-retries", 5, "attempts for a vote that loses a concurrent update")
	cmd.Flags().Duration("committee-recirculation-window", 0, "how long an expired review waits for recirculation before rejecting")
	cmd.Flags().String("notification-sink", "log", "notification sink, log or redis")
	cmd.Flags().String("notification-channel", "loanflow-notifications", "redis channel notifications are published on")
	cmd.Flags().Duration("notification-timeout", 0, "per delivery timeout, defaults to 5s")
	cmd.Flags().Int("notification-capacity", 512, "notification dispatcher queue capacity")
	cmd.Flags().String("audit-file", "", "file the audit trail is appended to, empty keeps it in memory")
	cmd.Flags().String("log-level", "info", "log level")
	return viper.BindPFlags(cmd.Flags())
}

func (c *cli) setupConfig(cmd *cobra.Command, args []string) error {
	var err error

	configFile, err := cmd.Flags().GetString("config-file")
	if err != nil {
		return err
	}
	viper.SetConfigFile(configFile)

	if err = viper.ReadInConfig(); err != nil {
		// it's ok if config file doesn't exist
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && len(configFile) != 0 {
			return err
		}
	}

	c.cfg.RedisConfig.Addrs = strings.Split(viper.GetString("redis-addr"), ",")
	c.cfg.RedisConfig.Password = viper.GetString("redis-password")
	c.cfg.RedisConfig.PoolSize = viper.GetInt("redis-pool-size")
	c.cfg.RedisConfig.Namespace = viper.GetString("namespace")
	c.cfg.BindAddr = viper.GetString("bind-addr")
	c.cfg.HttpPort = viper.GetInt("http-port")
	c.cfg.GrpcPort = viper.GetInt("grpc-port")
	c.cfg.StorageType = config.StorageType(viper.GetString("storage-impl"))
	c.cfg.EncoderDecoderType = config.EncoderDecoderType(viper.GetString("encoder-decoder"))
	c.cfg.LogLevel = viper.GetString("log-level")

	c.cfg.SlaConfig.SweepInterval = viper.GetDuration("sla-sweep-interval")
	c.cfg.SlaConfig.EscalationInterval = viper.GetDuration("sla-escalation-interval")
	c.cfg.SlaConfig.EscalationChain = roles(viper.GetString("sla-escalation-chain"))

	c.cfg.CommitteeConfig.CommitteeRole = model.Role(viper.GetString("committee-role"))
	c.cfg.CommitteeConfig.ExpiryInterval = viper.GetDuration("committee-expiry-interval")
	c.cfg.CommitteeConfig.ConflictRetries = viper.GetInt("committee-conflict-retries")
	c.cfg.CommitteeConfig.RecirculationWindow = viper.GetDuration("committee-recirculation-window")

	c.cfg.NotificationConfig.SinkType = config.NotificationSinkType(viper.GetString("notification-sink"))
	c.cfg.NotificationConfig.Channel = viper.GetString("notification-channel")
	c.cfg.NotificationConfig.Timeout = viper.GetDuration("notification-timeout")
	c.cfg.NotificationConfig.Capacity = viper.GetInt("notification-capacity")

	if auditFile := viper.GetString("audit-file"); len(auditFile) != 0 {
		c.cfg.AnalyticsConfig = analytics.DataCollectorConfig{CollectorType: analytics.LOG_FILE_DATA_COLLECTOR, FileName: auditFile}
	} else {
		c.cfg.AnalyticsConfig = analytics.DataCollectorConfig{CollectorType: analytics.MEMORY_DATA_COLLECTOR}
	}
	c.cfg.Config = c.cfg.Config.WithDefaults()
	return logger.SetLevel(c.cfg.LogLevel)
}

func roles(csv string) []model.Role {
	out := make([]model.Role, 0)
	for _, r := range strings.Split(csv, ",") {
		if r = strings.TrimSpace(r); len(r) != 0 {
			out = append(out, model.Role(r))
		}
	}
	return out
}

func (c *cli) run(cmd *cobra.Command, args []string) error {
	var err error
	agent, err := agent.New(c.cfg.Config)
	if err != nil {
		panic(err)
	}
	err = agent.Start()
	if err != nil {
		panic(err)
	}
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	return agent.Shutdown()
}

func main() {
	cli := &cli{}

	cmd := &cobra.Command{
		Use:     "loanflow",
		PreRunE: cli.setupConfig,
		RunE:    cli.run,
	}

	if err := setupFlags(cmd); err != nil {
		log.Fatal(err)
	}

	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
