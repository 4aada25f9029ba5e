package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`
	ETL      ETLConfig      `yaml:"etl" mapstructure:"etl"`
	Tracking TrackingConfig `yaml:"tracking" mapstructure:"tracking"`
	Training TrainingConfig `yaml:"training" mapstructure:"training"`
	Serving  ServingConfig  `yaml:"serving" mapstructure:"serving"`
	Temporal TemporalConfig `yaml:"temporal" mapstructure:"temporal"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// DatabaseConfig configures the warehouse holding raw transactions and the feature view.
type DatabaseConfig struct {
	Driver     string `yaml:"driver" mapstructure:"driver"`
	URL        string `yaml:"url" mapstructure:"url"`
	Host       string `yaml:"host" mapstructure:"host"`
	Port       int    `yaml:"port" mapstructure:"port"`
	Name       string `yaml:"name" mapstructure:"name"`
	User       string `yaml:"user" mapstructure:"user"`
	Password   string `yaml:"password" mapstructure:"password"`
	SSLMode    string `yaml:"sslmode" mapstructure:"sslmode"`
	SQLitePath string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	MaxConns   int32  `yaml:"max_conns" mapstructure:"max_conns"`
}

// DSN returns the Postgres connection string. An explicit URL wins over the
// discrete host/name/user fields.
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   "/" + d.Name,
	}
	if d.SSLMode != "" {
		u.RawQuery = "sslmode=" + d.SSLMode
	}
	return u.String()
}

// ETLConfig configures raw data loading and the feature view.
type ETLConfig struct {
	Source          string `yaml:"source" mapstructure:"source"`
	RawTable        string `yaml:"raw_table" mapstructure:"raw_table"`
	FeatureView     string `yaml:"feature_view" mapstructure:"feature_view"`
	HTTPTimeoutSecs int    `yaml:"http_timeout_secs" mapstructure:"http_timeout_secs"`
	MinFraudRows    int    `yaml:"min_fraud_rows" mapstructure:"min_fraud_rows"`
}

// TrackingConfig configures the experiment-tracking store.
type TrackingConfig struct {
	Driver       string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL  string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath   string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	ArtifactRoot string `yaml:"artifact_root" mapstructure:"artifact_root"`
	Experiment   string `yaml:"experiment" mapstructure:"experiment"`
}

// TrainingConfig configures the model selector.
type TrainingConfig struct {
	ModelsFile string  `yaml:"models_file" mapstructure:"models_file"`
	Threshold  float64 `yaml:"threshold" mapstructure:"threshold"`
	TestRatio  float64 `yaml:"test_ratio" mapstructure:"test_ratio"`
	Seed       uint64  `yaml:"seed" mapstructure:"seed"`
}

// ServingConfig configures the inference server.
type ServingConfig struct {
	Port                int      `yaml:"port" mapstructure:"port"`
	Threshold           float64  `yaml:"threshold" mapstructure:"threshold"`
	LocalModelDir       string   `yaml:"local_model_dir" mapstructure:"local_model_dir"`
	LookupTimeoutSecs   int      `yaml:"lookup_timeout_secs" mapstructure:"lookup_timeout_secs"`
	BestRunTTLSecs      int      `yaml:"best_run_ttl_secs" mapstructure:"best_run_ttl_secs"`
	RefreshIntervalSecs int      `yaml:"refresh_interval_secs" mapstructure:"refresh_interval_secs"`
	CORSOrigins         []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// LookupTimeout returns the per-lookup deadline for the tracking store.
func (s ServingConfig) LookupTimeout() time.Duration {
	return time.Duration(s.LookupTimeoutSecs) * time.Second
}

// BestRunTTL returns how long a resolved best run id may be reused.
func (s ServingConfig) BestRunTTL() time.Duration {
	return time.Duration(s.BestRunTTLSecs) * time.Second
}

// RefreshInterval returns the model refresh period. Zero disables refreshing.
func (s ServingConfig) RefreshInterval() time.Duration {
	return time.Duration(s.RefreshIntervalSecs) * time.Second
}

// TemporalConfig configures the scheduled retraining workflow.
type TemporalConfig struct {
	HostPort           string `yaml:"host_port" mapstructure:"host_port"`
	Namespace          string `yaml:"namespace" mapstructure:"namespace"`
	TaskQueue          string `yaml:"task_queue" mapstructure:"task_queue"`
	ScheduleID         string `yaml:"schedule_id" mapstructure:"schedule_id"`
	ScheduleEveryHours int    `yaml:"schedule_every_hours" mapstructure:"schedule_every_hours"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// legacyEnv maps config keys to the unprefixed environment names the
// deployment compose files have always used.
var legacyEnv = map[string]string{
	"database.host":         "DB_HOST",
	"database.name":         "DB_NAME",
	"database.user":         "DB_USER",
	"database.password":     "DB_PASSWORD",
	"database.port":         "DB_PORT",
	"tracking.database_url": "MLFLOW_TRACKING_URI",
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("FRAUD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		// Prefixed name first so FRAUD_* wins over the legacy alias.
		envName := "FRAUD_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envName, env); err != nil {
			return nil, eris.Wrapf(err, "config: bind env %s", env)
		}
	}

	// Defaults
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "fraud_detection")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.sqlite_path", "fraud.db")
	v.SetDefault("database.max_conns", 8)
	v.SetDefault("etl.source", "data/creditcard.csv")
	v.SetDefault("etl.raw_table", "raw_transactions")
	v.SetDefault("etl.feature_view", "feature_transactions")
	v.SetDefault("etl.http_timeout_secs", 120)
	v.SetDefault("etl.min_fraud_rows", 100)
	v.SetDefault("tracking.driver", "sqlite")
	v.SetDefault("tracking.sqlite_path", "mlruns/tracking.db")
	v.SetDefault("tracking.artifact_root", "mlruns")
	v.SetDefault("tracking.experiment", "fraud_detection")
	v.SetDefault("training.threshold", 0.5)
	v.SetDefault("training.test_ratio", 0.2)
	v.SetDefault("training.seed", 42)
	v.SetDefault("serving.port", 8000)
	v.SetDefault("serving.threshold", 0.5)
	v.SetDefault("serving.local_model_dir", "models/local")
	v.SetDefault("serving.lookup_timeout_secs", 3)
	v.SetDefault("serving.best_run_ttl_secs", 60)
	v.SetDefault("serving.refresh_interval_secs", 300)
	v.SetDefault("serving.cors_origins", []string{"http://localhost:8501"})
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "fraud-pipeline")
	v.SetDefault("temporal.schedule_id", "fraud-pipeline-daily")
	v.SetDefault("temporal.schedule_every_hours", 24)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the fields required by a command mode. Modes are
// "etl", "train", "serve" and "worker".
func (c *Config) Validate(mode string) error {
	var errs []string

	checkDriver := func(key, driver string) {
		if driver != "postgres" && driver != "sqlite" {
			errs = append(errs, fmt.Sprintf("%s must be postgres or sqlite, got %q", key, driver))
		}
	}
	checkThreshold := func(key string, v float64) {
		if v <= 0 || v >= 1 {
			errs = append(errs, fmt.Sprintf("%s must be in (0,1), got %v", key, v))
		}
	}

	switch mode {
	case "etl":
		checkDriver("database.driver", c.Database.Driver)
		if c.ETL.Source == "" {
			errs = append(errs, "etl.source is required")
		}
		if c.ETL.RawTable == "" || c.ETL.FeatureView == "" {
			errs = append(errs, "etl.raw_table and etl.feature_view are required")
		}
	case "train":
		checkDriver("database.driver", c.Database.Driver)
		checkDriver("tracking.driver", c.Tracking.Driver)
		checkThreshold("training.threshold", c.Training.Threshold)
		checkThreshold("training.test_ratio", c.Training.TestRatio)
		if c.Tracking.Experiment == "" {
			errs = append(errs, "tracking.experiment is required")
		}
	case "serve":
		checkDriver("tracking.driver", c.Tracking.Driver)
		checkThreshold("serving.threshold", c.Serving.Threshold)
		if c.Serving.Port <= 0 || c.Serving.Port > 65535 {
			errs = append(errs, fmt.Sprintf("serving.port must be 1-65535, got %d", c.Serving.Port))
		}
		if c.Serving.LookupTimeoutSecs <= 0 {
			errs = append(errs, "serving.lookup_timeout_secs must be positive")
		}
	case "worker":
		if c.Temporal.HostPort == "" || c.Temporal.TaskQueue == "" {
			errs = append(errs, "temporal.host_port and temporal.task_queue are required")
		}
		if c.Temporal.ScheduleEveryHours <= 0 {
			errs = append(errs, "temporal.schedule_every_hours must be positive")
		}
	default:
		return eris.Errorf("config: unknown validation mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
