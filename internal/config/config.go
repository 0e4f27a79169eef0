// Package config loads the application configuration from a YAML file,
// environment variables and built-in defaults.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/skycam/skycover/pkg/analyzer"
	"github.com/skycam/skycover/pkg/fingerprint"
)

// Config holds the application configuration.
type Config struct {
	Models   ModelsConfig   `mapstructure:"models"`
	Analysis AnalysisConfig `mapstructure:"analysis"`
	Paths    PathsConfig    `mapstructure:"paths"`
}

// ModelsConfig holds the inference backend settings.
type ModelsConfig struct {
	Segmentation   SegmentationConfig   `mapstructure:"segmentation"`
	Classification ClassificationConfig `mapstructure:"classification"`
}

// SegmentationConfig configures the cloud segmentation model.
type SegmentationConfig struct {
	Weights    string `mapstructure:"weights"`
	URL        string `mapstructure:"url"`
	InputSize  [2]int `mapstructure:"-"`
	InputSizeW int    `mapstructure:"input_width"`
	InputSizeH int    `mapstructure:"input_height"`
}

// ClassificationConfig configures the cloud type classifier. Backend is
// "http" for an inference server or "ollama" for a local vision model.
type ClassificationConfig struct {
	Backend     string   `mapstructure:"backend"`
	Weights     string   `mapstructure:"weights"`
	URL         string   `mapstructure:"url"`
	OllamaModel string   `mapstructure:"ollama_model"`
	ClassNames  []string `mapstructure:"class_names"`
}

// AnalysisConfig holds the analysis thresholds and tables.
type AnalysisConfig struct {
	ConfidenceThreshold    float64  `mapstructure:"confidence_threshold"`
	SegmentationThreshold  float64  `mapstructure:"segmentation_threshold"`
	TopK                   int      `mapstructure:"top_k"`
	SkyConditions          []string `mapstructure:"sky_conditions"`
	DefaultIntervalSeconds float64  `mapstructure:"default_interval_seconds"`
}

// PathsConfig holds filesystem locations.
type PathsConfig struct {
	Database string `mapstructure:"database"`
	Archives string `mapstructure:"archives"`
}

// Load reads configuration from configPath/configName.yaml, overlaid by
// SKYCOVER_* environment variables, falling back to defaults when the
// file is absent.
func Load(configPath, configName string) (*Config, error) {
	v := viper.New()
	v.AddConfigPath(configPath)
	v.SetConfigName(configName)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("skycover")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.Models.Segmentation.InputSize = [2]int{
		cfg.Models.Segmentation.InputSizeW,
		cfg.Models.Segmentation.InputSizeH,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("models.segmentation.weights", "cloud-seg-v2.onnx")
	v.SetDefault("models.segmentation.url", "http://localhost:8800")
	v.SetDefault("models.segmentation.input_width", 384)
	v.SetDefault("models.segmentation.input_height", 384)

	v.SetDefault("models.classification.backend", "http")
	v.SetDefault("models.classification.weights", "cloud-cls-v2.onnx")
	v.SetDefault("models.classification.url", "http://localhost:8800")
	v.SetDefault("models.classification.ollama_model", "llava")
	v.SetDefault("models.classification.class_names", []string{
		"Clear Sky", "Cirrus", "Cirrostratus", "Cirrocumulus",
		"Altocumulus", "Altostratus", "Cumulus", "Cumulonimbus",
		"Nimbostratus", "Stratocumulus", "Stratus",
	})

	v.SetDefault("analysis.confidence_threshold", 0.05)
	v.SetDefault("analysis.segmentation_threshold", 0.5)
	v.SetDefault("analysis.top_k", 3)
	v.SetDefault("analysis.sky_conditions", []string{
		"Clear", "Mostly Clear", "Partly Cloudy",
		"Cloudy", "Mostly Overcast", "Overcast",
	})
	v.SetDefault("analysis.default_interval_seconds", 5.0)

	v.SetDefault("paths.database", "skycover.db")
	v.SetDefault("paths.archives", "archives")
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Models.Segmentation.Weights == "" {
		return fmt.Errorf("models.segmentation.weights must be set")
	}
	if c.Models.Classification.Weights == "" {
		return fmt.Errorf("models.classification.weights must be set")
	}
	switch c.Models.Classification.Backend {
	case "http", "ollama":
	default:
		return fmt.Errorf("models.classification.backend must be http or ollama, got %q", c.Models.Classification.Backend)
	}
	if len(c.Models.Classification.ClassNames) == 0 {
		return fmt.Errorf("models.classification.class_names cannot be empty")
	}
	if c.Models.Segmentation.InputSize[0] < 1 || c.Models.Segmentation.InputSize[1] < 1 {
		return fmt.Errorf("models.segmentation input size must be positive")
	}
	// the pipeline version hash refuses zero thresholds, so reject them
	// here with a clearer message
	if t := c.Analysis.ConfidenceThreshold; t <= 0 || t > 1 {
		return fmt.Errorf("analysis.confidence_threshold must be greater than 0 and at most 1")
	}
	if t := c.Analysis.SegmentationThreshold; t <= 0 || t > 1 {
		return fmt.Errorf("analysis.segmentation_threshold must be greater than 0 and at most 1")
	}
	if c.Analysis.TopK < 1 {
		return fmt.Errorf("analysis.top_k must be positive")
	}
	if len(c.Analysis.SkyConditions) == 0 {
		return fmt.Errorf("analysis.sky_conditions cannot be empty")
	}
	if c.Analysis.DefaultIntervalSeconds <= 0 {
		return fmt.Errorf("analysis.default_interval_seconds must be positive")
	}
	return nil
}

// PipelineParams returns the configuration facets that define the
// pipeline fingerprint. Changing any of them invalidates cached results.
func (c *Config) PipelineParams() fingerprint.PipelineParams {
	return fingerprint.PipelineParams{
		SegmentationWeights:   c.Models.Segmentation.Weights,
		SegmentationInputSize: c.Models.Segmentation.InputSize,
		ClassificationWeights: c.Models.Classification.Weights,
		ConfidenceThreshold:   c.Analysis.ConfidenceThreshold,
		SegmentationThreshold: c.Analysis.SegmentationThreshold,
	}
}

// AnalyzerConfig maps the analysis section onto the frame analyzer.
func (c *Config) AnalyzerConfig() analyzer.Config {
	return analyzer.Config{
		SegmentationThreshold: c.Analysis.SegmentationThreshold,
		ConfidenceThreshold:   c.Analysis.ConfidenceThreshold,
		TopK:                  c.Analysis.TopK,
		SkyConditions:         c.Analysis.SkyConditions,
	}
}
