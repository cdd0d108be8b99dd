package config

import (
	"flag"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/pkg/errors"
)

// EnvPrefix is the prefix of environment variables overriding file values.
// FIRE_SERVER_PORT=9000 sets server.port.
const EnvPrefix = "FIRE_"

// ServerConfig defines HTTP server configurations
type ServerConfig struct {
	Port            int           `koanf:"port"`
	MaxUploadMB     int64         `koanf:"maxuploadmb"`
	MaxBatch        int           `koanf:"maxbatch"`
	AllowedOrigins  []string      `koanf:"allowedorigins"`
	ShutdownTimeout time.Duration `koanf:"shutdowntimeout"`
}

// ModelConfig points at the model artifacts tried by the loader, in order.
type ModelConfig struct {
	Path          string  `koanf:"path"`
	Checkpoint    string  `koanf:"checkpoint"`
	Backbone      string  `koanf:"backbone"`
	Head          string  `koanf:"head"`
	Library       string  `koanf:"library"`
	Device        string  `koanf:"device"`
	ConfThreshold float64 `koanf:"confthreshold"`
	IOUThreshold  float64 `koanf:"iouthreshold"`
}

// RenderConfig related to annotated images
type RenderConfig struct {
	FontPath       string  `koanf:"fontpath"`
	FontSize       float64 `koanf:"fontsize"`
	BannerFontSize float64 `koanf:"bannerfontsize"`
}

// LogConfig related to logging
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	File   string `koanf:"file"`
}

// AppConfig defines the whole service configuration
type AppConfig struct {
	Server ServerConfig `koanf:"server"`
	Model  ModelConfig  `koanf:"model"`
	Render RenderConfig `koanf:"render"`
	Log    LogConfig    `koanf:"log"`
}

var defaults = map[string]any{
	"server.port":            8003,
	"server.maxuploadmb":     10,
	"server.maxbatch":        10,
	"server.allowedorigins":  []string{"*"},
	"server.shutdowntimeout": "10s",

	"model.path":          "models/fireDetection.onnx",
	"model.checkpoint":    "models/fireDetection.yaml",
	"model.backbone":      "models/resnet50.onnx",
	"model.head":          "models/head.json",
	"model.library":       "",
	"model.device":        "auto",
	"model.confthreshold": 0.25,
	"model.iouthreshold":  0.45,

	"render.fontpath":       "",
	"render.fontsize":       20.0,
	"render.bannerfontsize": 24.0,

	"log.level":  "info",
	"log.format": "text",
	"log.file":   "",
}

// Load reads the defaults, then filePath (skipped when it does not exist),
// then FIRE_* environment variables.
func Load(filePath string) (*AppConfig, error) {
	k := koanf.New(".")
	parser := yaml.Parser()

	if err := k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return nil, errors.Wrap(err, "load defaults")
	}

	if filePath != "" {
		if _, err := os.Stat(filePath); err == nil {
			if err := k.Load(file.Provider(filePath), parser); err != nil {
				return nil, errors.Wrapf(err, "load config file %s", filePath)
			}
		} else if !os.IsNotExist(err) {
			return nil, errors.Wrapf(err, "stat config file %s", filePath)
		}
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", func(s string, v string) (string, any) {
		key := strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "_", ".")
		if strings.Contains(v, ",") {
			return key, strings.Split(strings.TrimSpace(v), ",")
		}
		return key, v
	}), nil); err != nil {
		return nil, errors.Wrap(err, "load environment")
	}

	var cfg AppConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}

	return &cfg, ValidateConfig(&cfg)
}

// ValidateConfig rejects values the service cannot run with.
func ValidateConfig(cfg *AppConfig) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return errors.Errorf("server.port out of range: %d", cfg.Server.Port)
	}
	if cfg.Server.MaxBatch <= 0 {
		return errors.Errorf("server.maxbatch must be positive, got %d", cfg.Server.MaxBatch)
	}
	switch cfg.Model.Device {
	case "auto", "cpu", "cuda":
	default:
		return errors.Errorf("model.device must be auto, cpu or cuda, got %q", cfg.Model.Device)
	}
	if cfg.Model.ConfThreshold < 0 || cfg.Model.ConfThreshold > 1 {
		return errors.Errorf("model.confthreshold must be within [0,1], got %v", cfg.Model.ConfThreshold)
	}
	if cfg.Model.IOUThreshold < 0 || cfg.Model.IOUThreshold > 1 {
		return errors.Errorf("model.iouthreshold must be within [0,1], got %v", cfg.Model.IOUThreshold)
	}
	return nil
}

var defaultConfigPath = "config/config.yaml"

// ParseConfigFlag allows clients to specify the relative path to the file from
// which the configuration will be loaded.
func ParseConfigFlag() string {
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	configPath := fs.String("file", defaultConfigPath, "configuration file")
	_ = fs.Parse(os.Args[1:])

	return *configPath
}
