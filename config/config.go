// Package config loads the simulation configuration from a JSON file, with
// environment overrides for secrets.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"
)

var ErrInvalid = errors.New("invalid config")

// Behaviors understood by the entity client
const (
	BehaviorRandom = "random"
	BehaviorScript = "script"
	BehaviorGemini = "gemini"
)

// Config holds the application configuration. BehaviorScript is a tengo
// file; empty selects the built-in wander script.
type Config struct {
	TickRateMS         int     `json:"tick_rate_ms"`
	Agents             int     `json:"agents"`
	LevelPath          string  `json:"level_path"`
	PathfinderMaxDepth int     `json:"pathfinder_max_depth"`
	RetryThreshold     int     `json:"retry_threshold"`
	MoveSpeed          float64 `json:"move_speed"`
	TileSize           float64 `json:"tile_size"`
	ShuffleOrder       bool    `json:"shuffle_order"`
	Seed               int64   `json:"seed"`
	Behavior           string  `json:"behavior"`
	BehaviorScript     string  `json:"behavior_script"`
	GeminiAPIKey       string  `json:"gemini_api_key"`
	GeminiModel        string  `json:"gemini_model"`
	GRPCAddr           string  `json:"grpc_addr"`
	HTTPAddr           string  `json:"http_addr"`
	StateFile          string  `json:"state_file"`
}

// Default returns the configuration used when no file is present
func Default() *Config {
	return &Config{
		TickRateMS:         100,
		Agents:             20,
		PathfinderMaxDepth: 2000,
		RetryThreshold:     10,
		MoveSpeed:          75,
		TileSize:           16,
		Behavior:           BehaviorRandom,
		GeminiModel:        "gemini-2.0-flash",
		GRPCAddr:           ":9090",
		HTTPAddr:           ":8080",
		StateFile:          "grid_output.txt",
	}
}

// TickRate returns the tick period
func (c *Config) TickRate() time.Duration {
	return time.Duration(c.TickRateMS) * time.Millisecond
}

// Validate checks ranges and cross-field requirements
func (c *Config) Validate() error {
	var errs []error
	if c.TickRateMS <= 0 {
		errs = append(errs, fmt.Errorf("tick_rate_ms must be positive, got %d", c.TickRateMS))
	}
	if c.Agents < 0 {
		errs = append(errs, fmt.Errorf("agents must not be negative, got %d", c.Agents))
	}
	if c.PathfinderMaxDepth <= 0 {
		errs = append(errs, fmt.Errorf("pathfinder_max_depth must be positive, got %d", c.PathfinderMaxDepth))
	}
	if c.RetryThreshold < 0 {
		errs = append(errs, fmt.Errorf("retry_threshold must not be negative, got %d", c.RetryThreshold))
	}
	if c.MoveSpeed <= 0 {
		errs = append(errs, fmt.Errorf("move_speed must be positive, got %g", c.MoveSpeed))
	}
	if c.TileSize <= 0 {
		errs = append(errs, fmt.Errorf("tile_size must be positive, got %g", c.TileSize))
	}
	switch c.Behavior {
	case BehaviorRandom, BehaviorScript:
	case BehaviorGemini:
		if c.GeminiAPIKey == "" {
			errs = append(errs, errors.New("behavior \"gemini\" needs gemini_api_key or GEMINI_API_KEY"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown behavior %q", c.Behavior))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// Load reads the configuration at configPath on top of the defaults. A
// missing file is not an error. GEMINI_API_KEY overrides the file's key.
func Load(configPath string) (*Config, error) {
	config := Default()

	file, err := os.Open(configPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		log.Printf("Config file not found at %s, using defaults", configPath)
	case err != nil:
		return nil, fmt.Errorf("open config file: %w", err)
	default:
		defer file.Close()
		if err := json.NewDecoder(file).Decode(config); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", configPath, err)
		}
	}

	if apiKey := os.Getenv("GEMINI_API_KEY"); apiKey != "" {
		config.GeminiAPIKey = apiKey
	}
	return config, nil
}

// DefaultPath returns config.json next to the running executable
func DefaultPath() string {
	execPath, err := os.Executable()
	if err != nil {
		log.Printf("Warning: Could not determine executable path: %v", err)
		return "config.json"
	}
	return filepath.Join(filepath.Dir(execPath), "config.json")
}

// SaveDefault creates a default config file if it doesn't exist
func SaveDefault(configPath string) error {
	if _, err := os.Stat(configPath); err == nil {
		return nil
	}

	file, err := os.Create(configPath)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "    ")
	if err := encoder.Encode(Default()); err != nil {
		return err
	}

	log.Printf("Created default config file at %s", configPath)
	return nil
}
