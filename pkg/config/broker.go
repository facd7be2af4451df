package config

// BrokerConfig holds the broker's environment configuration.
type BrokerConfig struct {
	DBPath       string
	Host         string
	Port         string
	WorkerToken  string
	BotToken     string
	LeaseSeconds int64
}

// LoadBrokerFromEnv reads broker configuration with defaults.
func LoadBrokerFromEnv() *BrokerConfig {
	return &BrokerConfig{
		DBPath:       getEnv("BROKER_DB", "/var/lib/conveyor-broker/broker.db"),
		Host:         getEnv("BROKER_HOST", "127.0.0.1"),
		Port:         getEnv("BROKER_PORT", "8000"),
		WorkerToken:  getEnv("WORKER_TOKEN", ""),
		BotToken:     getEnv("BOT_TOKEN", ""),
		LeaseSeconds: int64(getEnvInt("LEASE_SECONDS", 60)),
	}
}

// Addr returns the listen address.
func (c *BrokerConfig) Addr() string {
	return c.Host + ":" + c.Port
}
