package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	QueuePlatformKafka   = "kafka"
	QueuePlatformStdout  = "stdout"
	QueuePlatformDiscard = "discard"
)

// Config is the runtime configuration of the entrypoint. It is read from
// environment variables set by the platform and an optional config file.
type Config struct {
	Verbose     bool    `mapstructure:"verbose"`
	Interpreter string  `mapstructure:"interpreter"`
	Queue       Queue   `mapstructure:"queue"`
	Metrics     Metrics `mapstructure:"metrics"`
	Deploy      Deploy  `mapstructure:"deploy"`
}

type Queue struct {
	Platform       string        `mapstructure:"platform"`
	Listeners      string        `mapstructure:"listeners"` // comma separated hosts
	Port           string        `mapstructure:"port"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	FlushTimeout   time.Duration `mapstructure:"flush_timeout"`
	SendTimeout    time.Duration `mapstructure:"send_timeout"` // how long a send waits for room in a full local queue
	Kafka          Kafka         `mapstructure:"kafka"`
}

type Kafka struct {
	Compression      string `mapstructure:"compression"`
	Acks             string `mapstructure:"acks"`
	SecurityProtocol string `mapstructure:"security_protocol"`
	SASLMechanism    string `mapstructure:"sasl_mechanism"`
	SASLUsername     string `mapstructure:"sasl_username"`
	SASLPassword     string `mapstructure:"sasl_password"`
	MaxQueued        int    `mapstructure:"max_queued"` // queue.buffering.max.messages, librdkafka default when 0
}

type Metrics struct {
	Textfile string `mapstructure:"textfile"`
}

type Deploy struct {
	RepositoryName         string        `mapstructure:"repository_name"`
	CleanupCandidateImages bool          `mapstructure:"cleanup_candidate_images"`
	Timeout                time.Duration `mapstructure:"timeout"`
}

var envBindings = map[string]string{
	"verbose":                         "ESTELA_VERBOSE",
	"interpreter":                     "ESTELA_INTERPRETER",
	"queue.platform":                  "QUEUE_PLATFORM",
	"queue.listeners":                 "QUEUE_PLATFORM_LISTENERS",
	"queue.port":                      "QUEUE_PLATFORM_PORT",
	"queue.kafka.sasl_username":       "KAFKA_SASL_USERNAME",
	"queue.kafka.sasl_password":       "KAFKA_SASL_PASSWORD",
	"metrics.textfile":                "ESTELA_METRICS_TEXTFILE",
	"deploy.repository_name":          "REPOSITORY_NAME",
	"deploy.cleanup_candidate_images": "CLEANUP_CANDIDATE_IMAGES",
}

// SetDefaults registers defaults and environment bindings on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("interpreter", "python")
	v.SetDefault("queue.platform", QueuePlatformKafka)
	v.SetDefault("queue.port", "9092")
	v.SetDefault("queue.connect_timeout", 10*time.Second)
	v.SetDefault("queue.flush_timeout", 15*time.Second)
	v.SetDefault("queue.send_timeout", 30*time.Second)
	v.SetDefault("deploy.repository_name", "estela")
	v.SetDefault("deploy.timeout", 30*time.Second)

	for key, env := range envBindings {
		// BindEnv only fails on a missing key
		_ = v.BindEnv(key, env)
	}
}

// LoadConfig decodes the configuration held by v.
func LoadConfig(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding configuration: %w", err)
	}
	switch cfg.Queue.Platform {
	case QueuePlatformKafka, QueuePlatformStdout, QueuePlatformDiscard:
	default:
		return Config{}, fmt.Errorf("queue.platform: unsupported value %q", cfg.Queue.Platform)
	}
	return cfg, nil
}

// Brokers combines listeners with the port into a bootstrap servers list.
// A listener with an explicit port is kept as is.
func (q Queue) Brokers() []string {
	var brokers []string
	for _, l := range strings.Split(q.Listeners, ",") {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		if !strings.Contains(l, ":") && q.Port != "" {
			l = l + ":" + q.Port
		}
		brokers = append(brokers, l)
	}
	return brokers
}
