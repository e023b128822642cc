/**
 * @description
 * This package handles the configuration management for the service. It
 * uses the Viper library to read configuration from environment variables,
 * providing a centralized and straightforward way to manage application
 * settings. Every component receives its settings from this struct at
 * construction; nothing reads the environment directly.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the rewards-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort     string `mapstructure:"SERVER_PORT"`
	DatabaseURL    string `mapstructure:"DATABASE_URL"`
	RedisURL       string `mapstructure:"REDIS_URL"`
	RabbitMQURL    string `mapstructure:"RABBITMQ_URL"`
	InternalAPIKey string `mapstructure:"INTERNAL_API_KEY"`

	QueueEnabled        bool   `mapstructure:"QUEUE_ENABLED"`
	JobExchange         string `mapstructure:"JOB_EXCHANGE"`
	PayoutJobQueue      string `mapstructure:"PAYOUT_JOB_QUEUE"`
	WorkerConcurrency   int    `mapstructure:"WORKER_CONCURRENCY"`
	DispatchMaxAttempts int    `mapstructure:"DISPATCH_MAX_ATTEMPTS"`
	DispatchBackoffSec  int    `mapstructure:"DISPATCH_BACKOFF_SECONDS"`
	DedupeWindowMinutes int    `mapstructure:"DEDUPE_WINDOW_MINUTES"`

	LeaderboardKeyPrefix string `mapstructure:"LEADERBOARD_KEY_PREFIX"`

	PayoutMode           string `mapstructure:"PAYOUT_MODE"`
	RewardToken          string `mapstructure:"REWARD_TOKEN"`
	RewardTotalPoolUnits string `mapstructure:"REWARD_TOTAL_POOL_UNITS"`
	RewardPolicy         string `mapstructure:"REWARD_ALLOCATION_MODE"`
	RewardTopN           int    `mapstructure:"REWARD_TOP_N"`
	WeeklyCloseSchedule  string `mapstructure:"REWARD_WEEKLY_CRON"`

	CustodialAPIBaseURL  string `mapstructure:"CUSTODIAL_API_BASE"`
	CustodialAPIKey      string `mapstructure:"CUSTODIAL_API_KEY"`
	CustodialWalletID    string `mapstructure:"CUSTODIAL_WALLET_ID"`
	CustodialEntityKey   string `mapstructure:"CUSTODIAL_ENTITY_SECRET"`
	CustodialBlockchain  string `mapstructure:"CUSTODIAL_BLOCKCHAIN"`
	CustodialUSDCAddress string `mapstructure:"CUSTODIAL_USDC_TOKEN_ADDRESS"`

	ChainRPCURL           string `mapstructure:"CHAIN_RPC_URL"`
	ChainID               int64  `mapstructure:"CHAIN_ID"`
	DistributorPrivateKey string `mapstructure:"DISTRIBUTOR_PRIVATE_KEY"`
	OnchainUSDCAddress    string `mapstructure:"USDC_ADDRESS"`
}

// LoadConfig reads configuration from environment variables from the given
// path. It uses Viper to automatically bind environment variables to the
// Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("QUEUE_ENABLED", false)
	viper.SetDefault("JOB_EXCHANGE", "rewards.jobs")
	viper.SetDefault("PAYOUT_JOB_QUEUE", "rewards_service.payout_jobs")
	viper.SetDefault("WORKER_CONCURRENCY", 5)
	viper.SetDefault("DISPATCH_MAX_ATTEMPTS", 3)
	viper.SetDefault("DISPATCH_BACKOFF_SECONDS", 5)
	viper.SetDefault("DEDUPE_WINDOW_MINUTES", 1440)
	viper.SetDefault("LEADERBOARD_KEY_PREFIX", "lb")
	viper.SetDefault("PAYOUT_MODE", "custodial")
	viper.SetDefault("REWARD_TOKEN", "USDC")
	viper.SetDefault("REWARD_TOTAL_POOL_UNITS", "0")
	viper.SetDefault("REWARD_ALLOCATION_MODE", "equal")
	viper.SetDefault("REWARD_TOP_N", 10)
	// Monday 00:05 UTC: close the week that just ended.
	viper.SetDefault("REWARD_WEEKLY_CRON", "5 0 * * 1")
	viper.SetDefault("CUSTODIAL_API_BASE", "https://api.circle.com")
	viper.SetDefault("CUSTODIAL_BLOCKCHAIN", "BASE")
	viper.SetDefault("CHAIN_ID", 8453)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "REWARDS_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("QUEUE_ENABLED")
	_ = viper.BindEnv("JOB_EXCHANGE")
	_ = viper.BindEnv("PAYOUT_JOB_QUEUE")
	_ = viper.BindEnv("WORKER_CONCURRENCY")
	_ = viper.BindEnv("DISPATCH_MAX_ATTEMPTS")
	_ = viper.BindEnv("DISPATCH_BACKOFF_SECONDS")
	_ = viper.BindEnv("DEDUPE_WINDOW_MINUTES")
	_ = viper.BindEnv("LEADERBOARD_KEY_PREFIX")
	_ = viper.BindEnv("PAYOUT_MODE")
	_ = viper.BindEnv("REWARD_TOKEN")
	_ = viper.BindEnv("REWARD_TOTAL_POOL_UNITS", "REWARD_TOTAL_POOL_UNITS", "REWARD_TOTAL_POOL_WEI")
	_ = viper.BindEnv("REWARD_ALLOCATION_MODE")
	_ = viper.BindEnv("REWARD_TOP_N")
	_ = viper.BindEnv("REWARD_WEEKLY_CRON")
	_ = viper.BindEnv("CUSTODIAL_API_BASE")
	_ = viper.BindEnv("CUSTODIAL_API_KEY")
	_ = viper.BindEnv("CUSTODIAL_WALLET_ID")
	_ = viper.BindEnv("CUSTODIAL_ENTITY_SECRET")
	_ = viper.BindEnv("CUSTODIAL_BLOCKCHAIN")
	_ = viper.BindEnv("CUSTODIAL_USDC_TOKEN_ADDRESS")
	_ = viper.BindEnv("CHAIN_RPC_URL")
	_ = viper.BindEnv("CHAIN_ID")
	_ = viper.BindEnv("DISTRIBUTOR_PRIVATE_KEY")
	_ = viper.BindEnv("USDC_ADDRESS")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	config.InternalAPIKey = strings.TrimSpace(config.InternalAPIKey)
	config.RewardTotalPoolUnits = strings.TrimSpace(config.RewardTotalPoolUnits)

	if config.WorkerConcurrency <= 0 {
		config.WorkerConcurrency = 5
	}
	if config.DispatchMaxAttempts <= 0 {
		config.DispatchMaxAttempts = 3
	}
	if config.DispatchBackoffSec <= 0 {
		config.DispatchBackoffSec = 5
	}
	if config.DedupeWindowMinutes <= 0 {
		config.DedupeWindowMinutes = 1440
	}
	if config.RewardTopN <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive REWARD_TOP_N; coercing to 10\" top_n=%d", config.RewardTopN)
		config.RewardTopN = 10
	}

	mode := strings.ToLower(strings.TrimSpace(config.PayoutMode))
	if mode != "onchain" {
		mode = "custodial"
	}
	config.PayoutMode = mode

	policy := strings.ToLower(strings.TrimSpace(config.RewardPolicy))
	if policy != "weighted" {
		policy = "equal"
	}
	config.RewardPolicy = policy

	return
}
