package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Printer   PrinterConfig   `mapstructure:"printer"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
	Sequence  SequenceConfig  `mapstructure:"sequence"`
	Pumps     PumpsConfig     `mapstructure:"pumps"`
	Materials MaterialsConfig `mapstructure:"materials"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type ServerConfig struct {
	HTTPPort        int           `mapstructure:"http_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
}

type AuthConfig struct {
	JWTSecretEnv      string        `mapstructure:"jwt_secret_env"`
	AccessTokenTTL    time.Duration `mapstructure:"access_token_ttl"`
	OperatorUser      string        `mapstructure:"operator_user"`
	OperatorHash      string        `mapstructure:"operator_hash"`
	ClientTokenHashes []string      `mapstructure:"client_token_hashes"`
}

type PrinterConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	Simulated      bool          `mapstructure:"simulated"`
}

type MonitorConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// SequenceConfig holds the timed windows of a material change. The bed raise
// wait is a fixed estimate, not a confirmed mechanical signal.
type SequenceConfig struct {
	Quiescence     time.Duration `mapstructure:"quiescence"`
	BedRaiseDelay  time.Duration `mapstructure:"bed_raise_delay"`
	BedRaiseMove   time.Duration `mapstructure:"bed_raise_move"`
	BedRaiseBuffer time.Duration `mapstructure:"bed_raise_buffer"`
	Settle         time.Duration `mapstructure:"settle"`
	DrainVolumeML  float64       `mapstructure:"drain_volume_ml"`
	FillVolumeML   float64       `mapstructure:"fill_volume_ml"`
	AirAssist      bool          `mapstructure:"air_assist"`
	AirAssistTail  time.Duration `mapstructure:"air_assist_tail"`
}

type PumpsConfig struct {
	ProfileDir   string        `mapstructure:"profile_dir"`
	ManualMinRun time.Duration `mapstructure:"manual_min_run"`
	ManualMaxRun time.Duration `mapstructure:"manual_max_run"`
	SafetyWindow time.Duration `mapstructure:"safety_window"`
}

type MaterialsConfig struct {
	CatalogPath string `mapstructure:"catalog_path"`
}

type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

func Load(path string) (*Config, error) {
	viper.SetConfigFile(path)
	viper.SetConfigType("yaml")

	viper.SetDefault("server.http_port", 8080)
	viper.SetDefault("server.shutdown_timeout", "30s")
	viper.SetDefault("database.max_connections", 10)
	viper.SetDefault("printer.port", 6000)
	viper.SetDefault("printer.connect_timeout", "5s")
	viper.SetDefault("printer.request_timeout", "5s")
	viper.SetDefault("monitor.poll_interval", "3500ms")

	// Material change windows. Quiescence exists because commands issued
	// right after a pause race the printer firmware.
	viper.SetDefault("sequence.quiescence", "10s")
	viper.SetDefault("sequence.bed_raise_delay", "3s")
	viper.SetDefault("sequence.bed_raise_move", "8s")
	viper.SetDefault("sequence.bed_raise_buffer", "2s")
	viper.SetDefault("sequence.settle", "5s")
	viper.SetDefault("sequence.drain_volume_ml", 50.0)
	viper.SetDefault("sequence.fill_volume_ml", 45.0)
	viper.SetDefault("sequence.air_assist", true)
	viper.SetDefault("sequence.air_assist_tail", "2s")

	viper.SetDefault("pumps.profile_dir", "pump-profiles")
	viper.SetDefault("pumps.manual_min_run", "1s")
	viper.SetDefault("pumps.manual_max_run", "300s")
	viper.SetDefault("pumps.safety_window", "600s")

	viper.SetDefault("materials.catalog_path", "materials.yaml")

	viper.SetDefault("auth.jwt_secret_env", "JWT_SECRET")
	viper.SetDefault("auth.access_token_ttl", "60m")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.development", false)

	viper.AutomaticEnv()
	viper.SetEnvPrefix("PRINTFLOW")

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

func (s *SequenceConfig) BedRaiseWait() time.Duration {
	return s.BedRaiseDelay + s.BedRaiseMove + s.BedRaiseBuffer
}

func (a *AuthConfig) GetJWTSecret() string {
	envVar := a.JWTSecretEnv
	if envVar == "" {
		envVar = "JWT_SECRET"
	}

	secret := os.Getenv(envVar)
	if secret == "" {
		// Development fallback.
		return "dev-secret-change-in-production-min-32-chars"
	}
	return secret
}

func (a *AuthConfig) IsProductionReady() bool {
	secret := a.GetJWTSecret()
	return secret != "dev-secret-change-in-production-min-32-chars" && len(secret) >= 32
}
