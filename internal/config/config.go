package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App      AppConfig
	Hub      HubConfig
	Modems   ModemConfig
	Redis    RedisConfig
	MongoDB  MongoDBConfig
	RabbitMQ RabbitMQConfig
}

type AppConfig struct {
	Port     int
	Debug    bool
	LogLevel string
}

// HubConfig covers the upstream marketplace link: the shared API key, the
// SMS push endpoint and which service codes this agent sells.
type HubConfig struct {
	APIKey          string
	PushURL         string
	EnabledServices []string
	ServiceLimit    int
	ForwardAttempts int
	ForwardDelay    time.Duration
}

type ModemConfig struct {
	ScanInterval   time.Duration
	PollInterval   time.Duration
	ReprobeBackoff time.Duration
}

// Optional backends. An empty address/URI leaves the concern on its no-op
// implementation.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type MongoDBConfig struct {
	URI    string
	DBName string
}

type RabbitMQConfig struct {
	URL      string
	Exchange string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	viper.AddConfigPath(".")

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	setDefaults()
	bindEnvVariables()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}
	if err := config.validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) validate() error {
	if c.Hub.APIKey == "" {
		return fmt.Errorf("hub.apikey is required")
	}
	if c.Hub.PushURL == "" {
		return fmt.Errorf("hub.pushurl is required")
	}
	return nil
}

// EnabledServiceSet converts the service list to the lookup form the agent
// service consumes.
func (c *Config) EnabledServiceSet() map[string]bool {
	set := make(map[string]bool, len(c.Hub.EnabledServices))
	for _, service := range c.Hub.EnabledServices {
		set[service] = true
	}
	return set
}

func setDefaults() {
	viper.SetDefault("app.port", 8080)
	viper.SetDefault("app.debug", false)
	viper.SetDefault("app.loglevel", "info")

	viper.SetDefault("hub.enabledservices", []string{})
	viper.SetDefault("hub.servicelimit", 4)
	viper.SetDefault("hub.forwardattempts", 3)
	viper.SetDefault("hub.forwarddelay", "10s")

	viper.SetDefault("modems.scaninterval", "30s")
	viper.SetDefault("modems.pollinterval", "5s")
	viper.SetDefault("modems.reprobebackoff", "5m")

	viper.SetDefault("redis.db", 0)
	viper.SetDefault("rabbitmq.exchange", "smsagent.events")
}

func bindEnvVariables() {
	viper.BindEnv("app.port", "APP_PORT")
	viper.BindEnv("app.debug", "APP_DEBUG")
	viper.BindEnv("app.loglevel", "LOG_LEVEL")

	viper.BindEnv("hub.apikey", "HUB_API_KEY")
	viper.BindEnv("hub.pushurl", "HUB_PUSH_URL")
	viper.BindEnv("hub.servicelimit", "HUB_SERVICE_LIMIT")
	viper.BindEnv("hub.forwardattempts", "HUB_FORWARD_ATTEMPTS")
	viper.BindEnv("hub.forwarddelay", "HUB_FORWARD_DELAY")

	viper.BindEnv("modems.scaninterval", "MODEM_SCAN_INTERVAL")
	viper.BindEnv("modems.pollinterval", "MODEM_POLL_INTERVAL")
	viper.BindEnv("modems.reprobebackoff", "MODEM_REPROBE_BACKOFF")

	viper.BindEnv("redis.addr", "REDIS_ADDR")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("mongodb.uri", "MONGO_URI")
	viper.BindEnv("mongodb.dbname", "MONGO_DB_NAME")

	viper.BindEnv("rabbitmq.url", "RABBITMQ_URL")
	viper.BindEnv("rabbitmq.exchange", "RABBITMQ_EXCHANGE")
}
