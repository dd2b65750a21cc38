package config

import (
	"fmt"
	"time"

	env "github.com/caarlos0/env/v11"
)

type Config struct {
	DatabaseURL string        `env:"DATABASE_URL,required"`
	JWTSecret   string        `env:"JWT_SECRET,required"`
	JWTExpiry   time.Duration `env:"JWT_EXPIRY" envDefault:"24h"`
	Port        int           `env:"PORT" envDefault:"8080"`
	LogLevel    string        `env:"LOG_LEVEL" envDefault:"info"`
	AppEnv      string        `env:"APP_ENV" envDefault:"production"`

	// Kafka settlement events. Empty broker list disables publishing.
	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`

	// Referral program. Rewards are fixed per operation type, expressed in
	// the operation's currency, and always capped at half the system fee.
	ReferralEnabled             bool   `env:"REFERRAL_ENABLED" envDefault:"true"`
	ReferralRewardCityTransfer  string `env:"REFERRAL_REWARD_CITY" envDefault:"1"`
	ReferralRewardInterOffice   string `env:"REFERRAL_REWARD_INTEROFFICE" envDefault:"2"`
	ReferralRewardInternational string `env:"REFERRAL_REWARD_INTERNATIONAL" envDefault:"3"`
	ReferralRewardMarketOffer   string `env:"REFERRAL_REWARD_MARKET" envDefault:"1"`

	OfferSweepIntervalS int `env:"OFFER_SWEEP_INTERVAL_S" envDefault:"60"`

	DBMaxOpenConns     int `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	DBMaxIdleConns     int `env:"DB_MAX_IDLE_CONNS" envDefault:"10"`
	DBConnMaxLifetimeS int `env:"DB_CONN_MAX_LIFETIME_S" envDefault:"300"`
	DBConnMaxIdleTimeS int `env:"DB_CONN_MAX_IDLE_TIME_S" envDefault:"60"`
}

func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return &cfg, nil
}
