package config

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Env    string `yaml:"env"`
	Server struct {
		Addr                 string `yaml:"addr"`
		VerifyWaitSeconds    int    `yaml:"verify_wait_seconds"`
		VerifyTimeoutSeconds int    `yaml:"verify_timeout_seconds"`
	} `yaml:"server"`
	DB struct {
		Driver string `yaml:"driver"`
		DSN    string `yaml:"dsn"`
	} `yaml:"db"`
	Catalog struct {
		Currency string   `yaml:"currency"`
		Bundles  []Bundle `yaml:"bundles"`
	} `yaml:"catalog"`
	Card struct {
		BaseURL       string `yaml:"base_url"`
		SecretKey     string `yaml:"secret_key"`
		WebhookSecret string `yaml:"webhook_secret"`
		RedirectURL   string `yaml:"redirect_url"`
		MinorUnits    int    `yaml:"minor_units"`
	} `yaml:"card"`
	Solana struct {
		RPCEndpoints   []string `yaml:"rpc_endpoints"`
		WSEndpoint     string   `yaml:"ws_endpoint"`
		Mint           string   `yaml:"mint"`
		Decimals       int      `yaml:"decimals"`
		ReceiverWallet string   `yaml:"receiver_wallet"`
		TimeoutSeconds int      `yaml:"timeout_seconds"`
	} `yaml:"solana"`
	Aptos struct {
		RPCEndpoints   []string `yaml:"rpc_endpoints"`
		Asset          string   `yaml:"asset"`
		Decimals       int      `yaml:"decimals"`
		ReceiverWallet string   `yaml:"receiver_wallet"`
		TimeoutSeconds int      `yaml:"timeout_seconds"`
		RetryAttempts  int      `yaml:"retry_attempts"`
		RetryStepMS    int      `yaml:"retry_step_ms"`
		MaxGasAmount   uint64   `yaml:"max_gas_amount"`
	} `yaml:"aptos"`
	Custody struct {
		MasterKey string `yaml:"master_key"`
	} `yaml:"custody"`
	Notify struct {
		Driver       string   `yaml:"driver"`
		Topic        string   `yaml:"topic"`
		RedisAddr    string   `yaml:"redis_addr"`
		RedisDB      int      `yaml:"redis_db"`
		KafkaBrokers []string `yaml:"kafka_brokers"`
	} `yaml:"notify"`
	Worker struct {
		IntervalSeconds int64 `yaml:"interval_seconds"`
		BatchSize       int   `yaml:"batch_size"`
	} `yaml:"worker"`
}

type Bundle struct {
	ID      string `yaml:"id"`
	Credits int64  `yaml:"credits"`
	Price   string `yaml:"price"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if cfg.Server.Addr == "" {
		return nil, errors.New("server.addr is required")
	}
	if cfg.DB.Driver == "postgres" && cfg.DB.DSN == "" {
		return nil, errors.New("db.dsn is required")
	}
	if len(cfg.Catalog.Bundles) == 0 {
		return nil, errors.New("catalog.bundles is empty")
	}
	if len(cfg.Solana.RPCEndpoints) > 0 && (cfg.Solana.Mint == "" || cfg.Solana.ReceiverWallet == "") {
		return nil, errors.New("solana config is incomplete")
	}
	if len(cfg.Aptos.RPCEndpoints) > 0 && (cfg.Aptos.Asset == "" || cfg.Aptos.ReceiverWallet == "") {
		return nil, errors.New("aptos config is incomplete")
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Env == "" {
		cfg.Env = "development"
	}
	if cfg.Server.VerifyWaitSeconds == 0 {
		cfg.Server.VerifyWaitSeconds = 25
	}
	if cfg.Server.VerifyTimeoutSeconds == 0 {
		cfg.Server.VerifyTimeoutSeconds = 90
	}
	if cfg.DB.Driver == "" {
		cfg.DB.Driver = "postgres"
	}
	if cfg.Catalog.Currency == "" {
		cfg.Catalog.Currency = "USD"
	}
	if cfg.Card.MinorUnits == 0 {
		cfg.Card.MinorUnits = 2
	}
	if cfg.Solana.Decimals == 0 {
		cfg.Solana.Decimals = 6
	}
	if cfg.Solana.TimeoutSeconds == 0 {
		cfg.Solana.TimeoutSeconds = 15
	}
	if cfg.Aptos.Decimals == 0 {
		cfg.Aptos.Decimals = 6
	}
	if cfg.Aptos.TimeoutSeconds == 0 {
		cfg.Aptos.TimeoutSeconds = 10
	}
	if cfg.Aptos.RetryAttempts == 0 {
		cfg.Aptos.RetryAttempts = 5
	}
	if cfg.Aptos.RetryStepMS == 0 {
		cfg.Aptos.RetryStepMS = 2000
	}
	if cfg.Aptos.MaxGasAmount == 0 {
		cfg.Aptos.MaxGasAmount = 2000
	}
	if cfg.Notify.Driver == "" {
		cfg.Notify.Driver = "log"
	}
	if cfg.Notify.Topic == "" {
		cfg.Notify.Topic = "votecredit.settlements"
	}
	if cfg.Worker.IntervalSeconds == 0 {
		cfg.Worker.IntervalSeconds = 30
	}
	if cfg.Worker.BatchSize == 0 {
		cfg.Worker.BatchSize = 50
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("APP_ENV"); v != "" {
		cfg.Env = v
	}
	if v := os.Getenv("SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("DB_DRIVER"); v != "" {
		cfg.DB.Driver = v
	}
	if v := os.Getenv("DB_DSN"); v != "" {
		cfg.DB.DSN = v
	}
	if v := os.Getenv("CARD_BASE_URL"); v != "" {
		cfg.Card.BaseURL = v
	}
	if v := os.Getenv("CARD_SECRET_KEY"); v != "" {
		cfg.Card.SecretKey = v
	}
	if v := os.Getenv("CARD_WEBHOOK_SECRET"); v != "" {
		cfg.Card.WebhookSecret = v
	}
	if v := os.Getenv("SOLANA_RPC_ENDPOINTS"); v != "" {
		cfg.Solana.RPCEndpoints = splitCommaList(v)
	}
	if v := os.Getenv("SOLANA_WS_ENDPOINT"); v != "" {
		cfg.Solana.WSEndpoint = v
	}
	if v := os.Getenv("SOLANA_RECEIVER_WALLET"); v != "" {
		cfg.Solana.ReceiverWallet = v
	}
	if v := os.Getenv("APTOS_RPC_ENDPOINTS"); v != "" {
		cfg.Aptos.RPCEndpoints = splitCommaList(v)
	}
	if v := os.Getenv("APTOS_RECEIVER_WALLET"); v != "" {
		cfg.Aptos.ReceiverWallet = v
	}
	if v := os.Getenv("APTOS_RETRY_ATTEMPTS"); v != "" {
		cfg.Aptos.RetryAttempts = atoiOr(cfg.Aptos.RetryAttempts, v)
	}
	if v := os.Getenv("CUSTODY_MASTER_KEY"); v != "" {
		cfg.Custody.MasterKey = v
	}
	if v := os.Getenv("NOTIFY_DRIVER"); v != "" {
		cfg.Notify.Driver = v
	}
	if v := os.Getenv("NOTIFY_REDIS_ADDR"); v != "" {
		cfg.Notify.RedisAddr = v
	}
	if v := os.Getenv("NOTIFY_KAFKA_BROKERS"); v != "" {
		cfg.Notify.KafkaBrokers = splitCommaList(v)
	}
	if v := os.Getenv("WORKER_INTERVAL_SECONDS"); v != "" {
		cfg.Worker.IntervalSeconds = atoi64Or(cfg.Worker.IntervalSeconds, v)
	}
	if v := os.Getenv("WORKER_BATCH_SIZE"); v != "" {
		cfg.Worker.BatchSize = atoiOr(cfg.Worker.BatchSize, v)
	}
}

func splitCommaList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func atoiOr(fallback int, v string) int {
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func atoi64Or(fallback int64, v string) int64 {
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}
