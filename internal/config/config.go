package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

const (
	StorageRedis  = "redis"
	StorageDynamo = "dynamo"
)

// Config - the application configuration.
type Config struct {
	LogLevel   string  `yaml:"log-level" env:"LOG_LEVEL" env-default:"info"`
	HTTPPort   string  `yaml:"http-port" env:"HTTP_PORT" env-default:"9090"`
	SocketPort string  `yaml:"socket-port" env:"SOCKET_PORT" env-default:"8080"`
	Storage    Storage `yaml:"storage"`
	Redis      Redis   `yaml:"redis"`
	Dynamo     Dynamo  `yaml:"dynamo"`
	Gateway    Gateway `yaml:"gateway"`
}

// Storage - selects the match and connection store.
type Storage struct {
	Driver string `yaml:"driver" env:"STORAGE_DRIVER" env-default:"redis"`
}

// Redis - the Redis connection and record lifetimes.
type Redis struct {
	Host          string        `yaml:"host" env:"REDIS_HOST" env-default:"localhost"`
	Port          string        `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password      string        `yaml:"password" env:"REDIS_PASSWORD" env-default:""`
	DB            int           `yaml:"db" env:"REDIS_DB" env-default:"0"`
	MatchTTL      time.Duration `yaml:"match-ttl" env:"REDIS_MATCH_TTL" env-default:"24h"`
	ConnectionTTL time.Duration `yaml:"connection-ttl" env:"REDIS_CONNECTION_TTL" env-default:"2m"`
}

// Dynamo - the DynamoDB connection and table names.
type Dynamo struct {
	Region          string        `yaml:"region" env:"DYNAMO_REGION" env-default:"us-east-1"`
	Endpoint        string        `yaml:"endpoint" env:"DYNAMO_ENDPOINT" env-default:""`
	AccessKeyID     string        `yaml:"access-key-id" env:"DYNAMO_ACCESS_KEY_ID" env-default:""`
	SecretAccessKey string        `yaml:"secret-access-key" env:"DYNAMO_SECRET_ACCESS_KEY" env-default:""`
	MatchTable      string        `yaml:"match-table" env:"DYNAMO_MATCH_TABLE" env-default:"jogo-da-velha-DB"`
	ConnectionTable string        `yaml:"connection-table" env:"DYNAMO_CONNECTION_TABLE" env-default:"conexao-jogo-da-velha-DB"`
	ConnectionTTL   time.Duration `yaml:"connection-ttl" env:"DYNAMO_CONNECTION_TTL" env-default:"2h"`
}

// Gateway - timeouts, conflict retries and the push channel.
type Gateway struct {
	ActionTimeout     time.Duration `yaml:"action-timeout" env:"GATEWAY_ACTION_TIMEOUT" env-default:"5s"`
	SendTimeout       time.Duration `yaml:"send-timeout" env:"GATEWAY_SEND_TIMEOUT" env-default:"2s"`
	ConflictRetries   uint64        `yaml:"conflict-retries" env:"GATEWAY_CONFLICT_RETRIES" env-default:"5"`
	RetryInterval     time.Duration `yaml:"retry-interval" env:"GATEWAY_RETRY_INTERVAL" env-default:"10ms"`
	HeartbeatInterval time.Duration `yaml:"heartbeat-interval" env:"GATEWAY_HEARTBEAT_INTERVAL" env-default:"30s"`
	// CallbackURL is the API Gateway management endpoint, https://{api-id}.execute-api.{region}.amazonaws.com/{stage}.
	CallbackURL string `yaml:"callback-url" env:"GATEWAY_CALLBACK_URL" env-default:""`
}

// MustLoad - load all configurations in config.yml file.
func MustLoad(path string) *Config {
	config := &Config{}

	if err := cleanenv.ReadConfig(path, config); err != nil {
		panic(fmt.Errorf("unable to load config file: %w", err))
	}

	return config
}

// MustLoadEnv - load configuration from the environment only.
func MustLoadEnv() *Config {
	config := &Config{}

	if err := cleanenv.ReadEnv(config); err != nil {
		panic(fmt.Errorf("unable to load config from env: %w", err))
	}

	return config
}

// GetRedisAddr - returns host:port.
func (that *Redis) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", that.Host, that.Port)
}
