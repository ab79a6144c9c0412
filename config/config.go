// Package config loads the YAML configuration shared by the server and the
// training tool.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"winequality/evaluation"
	"winequality/logging"
	"winequality/ml"
	"winequality/pipeline"
)

type Config struct {
	Dataset    DatasetConfig    `yaml:"dataset"`
	Training   TrainingConfig   `yaml:"training"`
	Evaluation EvaluationConfig `yaml:"evaluation"`
	Database   DatabaseConfig   `yaml:"database"`
	HTTP       HTTPConfig       `yaml:"http"`
	Service    ServiceConfig    `yaml:"service"`
	Log        LogConfig        `yaml:"log"`
}

type DatasetConfig struct {
	Path     string `yaml:"path"`
	Encoding string `yaml:"encoding"`
	// Delimiter is a single character; empty means detect from the header.
	Delimiter string `yaml:"delimiter"`
}

type TrainingConfig struct {
	TestFraction    float64 `yaml:"test_fraction"`
	Seed            int64   `yaml:"seed"`
	RegularizationC float64 `yaml:"regularization_c"`
	MaxIter         int     `yaml:"max_iter"`
	Tolerance       float64 `yaml:"tolerance"`
}

type EvaluationConfig struct {
	ROCScores string `yaml:"roc_scores"`
}

type DatabaseConfig struct {
	// Path of the sqlite file; empty disables persistence.
	Path string `yaml:"path"`
}

type HTTPConfig struct {
	Port           int           `yaml:"port"`
	Timeout        time.Duration `yaml:"timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes"`
}

type ServiceConfig struct {
	ProjectionCacheSize int `yaml:"projection_cache_size"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
	File        string `yaml:"file"`
	MaxSizeMB   int    `yaml:"max_size_mb"`
	MaxBackups  int    `yaml:"max_backups"`
	MaxAgeDays  int    `yaml:"max_age_days"`
	Compress    bool   `yaml:"compress"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	logistic := ml.DefaultLogisticConfig()
	return &Config{
		Dataset: DatasetConfig{
			Path:     "data/winequality-red.csv",
			Encoding: "utf-8",
		},
		Training: TrainingConfig{
			TestFraction:    ml.DefaultTestFraction,
			Seed:            ml.DefaultSeed,
			RegularizationC: logistic.C,
			MaxIter:         logistic.MaxIter,
			Tolerance:       logistic.Tolerance,
		},
		Evaluation: EvaluationConfig{ROCScores: string(evaluation.ScoreProbability)},
		HTTP: HTTPConfig{
			Port:           8050,
			Timeout:        30 * time.Second,
			AllowedOrigins: []string{"*"},
			MaxBodyBytes:   1 << 20,
		},
		Service: ServiceConfig{ProjectionCacheSize: 64},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Load reads path over the defaults. A missing file is not an error when
// optional is true.
func Load(path string, optional bool) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if optional && errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Dataset.Path == "" {
		return errors.New("dataset.path is required")
	}
	if len([]rune(c.Dataset.Delimiter)) > 1 {
		return fmt.Errorf("dataset.delimiter must be a single character, got %q", c.Dataset.Delimiter)
	}
	if c.Training.TestFraction <= 0 || c.Training.TestFraction >= 1 {
		return fmt.Errorf("training.test_fraction must be in (0, 1), got %v", c.Training.TestFraction)
	}
	if c.Training.RegularizationC < 0 {
		return fmt.Errorf("training.regularization_c must not be negative, got %v", c.Training.RegularizationC)
	}
	if c.Training.MaxIter <= 0 {
		return fmt.Errorf("training.max_iter must be positive, got %d", c.Training.MaxIter)
	}
	if c.Training.Tolerance <= 0 {
		return fmt.Errorf("training.tolerance must be positive, got %v", c.Training.Tolerance)
	}
	if !evaluation.ScoreSource(c.Evaluation.ROCScores).Valid() {
		return fmt.Errorf("evaluation.roc_scores must be %q or %q, got %q",
			evaluation.ScoreProbability, evaluation.ScoreLabel, c.Evaluation.ROCScores)
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port out of range: %d", c.HTTP.Port)
	}
	if c.HTTP.Timeout <= 0 {
		return fmt.Errorf("http.timeout must be positive, got %v", c.HTTP.Timeout)
	}
	if c.HTTP.MaxBodyBytes <= 0 {
		return fmt.Errorf("http.max_body_bytes must be positive, got %d", c.HTTP.MaxBodyBytes)
	}
	if c.Service.ProjectionCacheSize < 0 {
		return fmt.Errorf("service.projection_cache_size must not be negative, got %d", c.Service.ProjectionCacheSize)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}

// LoadOptions maps the dataset section onto the loader options.
func (c *Config) LoadOptions() pipeline.LoadOptions {
	opts := pipeline.LoadOptions{Encoding: c.Dataset.Encoding}
	if r := []rune(c.Dataset.Delimiter); len(r) == 1 {
		opts.Delimiter = r[0]
	}
	return opts
}

// TrainingConfig maps the training and evaluation sections onto a pipeline run.
func (c *Config) TrainingConfig() pipeline.TrainingConfig {
	return pipeline.TrainingConfig{
		TestFraction: c.Training.TestFraction,
		Seed:         c.Training.Seed,
		Classifier: ml.LogisticConfig{
			C:         c.Training.RegularizationC,
			MaxIter:   c.Training.MaxIter,
			Tolerance: c.Training.Tolerance,
		},
		ROCScores: evaluation.ScoreSource(c.Evaluation.ROCScores),
	}
}

func (c *Config) LogOptions() logging.Options {
	return logging.Options{
		Level:       c.Log.Level,
		Development: c.Log.Development,
		File:        c.Log.File,
		MaxSizeMB:   c.Log.MaxSizeMB,
		MaxBackups:  c.Log.MaxBackups,
		MaxAgeDays:  c.Log.MaxAgeDays,
		Compress:    c.Log.Compress,
	}
}
