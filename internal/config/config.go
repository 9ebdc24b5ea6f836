package config

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type contextKey string

const configKey contextKey = "config"

// Config holds all application configuration
type Config struct {
	// Core settings
	WorkDir     string `yaml:"work_dir" env:"AUDIOGRAM_WORK_DIR"`
	OutputDir   string `yaml:"output_dir" env:"AUDIOGRAM_OUTPUT_DIR"`
	DataDir     string `yaml:"data_dir" env:"AUDIOGRAM_DATA_DIR"`
	Concurrency int    `yaml:"concurrency" env:"AUDIOGRAM_CONCURRENCY"`
	QueueSize   int    `yaml:"queue_size" env:"AUDIOGRAM_QUEUE_SIZE"`
	KeepFrames  bool   `yaml:"keep_frames"`
	LogFormat   string `yaml:"log_format" env:"AUDIOGRAM_LOG_FORMAT"`

	Render   RenderConfig   `yaml:"render"`
	Analysis AnalysisConfig `yaml:"analysis"`
	FFmpeg   FFmpegConfig   `yaml:"ffmpeg"`
	Overlays OverlayConfig  `yaml:"overlays"`
	Server   ServerConfig   `yaml:"server"`
}

type RenderConfig struct {
	Width         int `yaml:"width"`
	Height        int `yaml:"height"`
	FPS           int `yaml:"fps"`
	RenderWorkers int `yaml:"render_workers"`
	// Seed pins the job seed; zero derives one from the job ID.
	Seed int64 `yaml:"seed"`
}

type AnalysisConfig struct {
	Mode             string  `yaml:"mode"`
	SampleRate       int     `yaml:"sample_rate"`
	FrameSize        int     `yaml:"frame_size"`
	SilenceThreshold float64 `yaml:"silence_threshold"`
}

type FFmpegConfig struct {
	BinaryPath   string `yaml:"binary_path" env:"AUDIOGRAM_FFMPEG"`
	ProbePath    string `yaml:"ffprobe_path" env:"AUDIOGRAM_FFPROBE"`
	Threads      int    `yaml:"threads"`
	Preset       string `yaml:"preset"`
	CRF          int    `yaml:"crf"`
	VideoCodec   string `yaml:"video_codec"`
	AudioCodec   string `yaml:"audio_codec"`
	AudioBitrate string `yaml:"audio_bitrate"`
	PixelFormat  string `yaml:"pixel_format"`
}

type OverlayConfig struct {
	BrandText          string        `yaml:"brand_text"`
	EndScreenText      string        `yaml:"end_screen_text"`
	LowerThirdInterval time.Duration `yaml:"lower_third_interval"`
	LowerThirdDuration time.Duration `yaml:"lower_third_duration"`
	FontFile           string        `yaml:"font_file"`
	TitleFontSize      int           `yaml:"title_font_size"`
	BodyFontSize       int           `yaml:"body_font_size"`
	FontColor          string        `yaml:"font_color"`
	BoxColor           string        `yaml:"box_color"`
	BoxOpacity         float64       `yaml:"box_opacity"`
	ThumbnailAt        time.Duration `yaml:"thumbnail_at"`
}

type ServerConfig struct {
	Addr        string        `yaml:"addr" env:"AUDIOGRAM_ADDR"`
	PollTimeout time.Duration `yaml:"poll_timeout"`
	// JobRetention is how long finished jobs stay in the in-process
	// registry.
	JobRetention time.Duration `yaml:"job_retention"`
}

// Load reads configuration from file or returns defaults. Environment
// variables (optionally from a .env file) override file values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path == "" {
		path = findConfigFile()
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, err
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, err
			}
		}
	}

	// .env is optional
	_ = godotenv.Load()
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes configuration to file
func (c *Config) Save(path string) error {
	data, err := c.YAML()
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// YAML renders the configuration in the file format Load reads.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// Default returns the built-in configuration.
func Default() *Config {
	return defaultConfig()
}

func defaultConfig() *Config {
	return &Config{
		WorkDir:     "./work",
		OutputDir:   "./output",
		DataDir:     "./data",
		Concurrency: 2,
		QueueSize:   8,
		KeepFrames:  false,
		LogFormat:   "console",
		Render: RenderConfig{
			Width:         1280,
			Height:        720,
			FPS:           30,
			RenderWorkers: 4,
		},
		Analysis: AnalysisConfig{
			Mode:             "pcm",
			SampleRate:       22050,
			FrameSize:        1024,
			SilenceThreshold: 0.01,
		},
		FFmpeg: FFmpegConfig{
			BinaryPath:   "ffmpeg",
			ProbePath:    "ffprobe",
			Threads:      0,
			Preset:       "medium",
			CRF:          23,
			VideoCodec:   "libx264",
			AudioCodec:   "aac",
			AudioBitrate: "192k",
			PixelFormat:  "yuv420p",
		},
		Overlays: OverlayConfig{
			BrandText:          "Audiogram Presents",
			EndScreenText:      "Thanks for listening",
			LowerThirdInterval: 5 * time.Minute,
			LowerThirdDuration: 8 * time.Second,
			TitleFontSize:      64,
			BodyFontSize:       36,
			FontColor:          "white",
			BoxColor:           "black",
			BoxOpacity:         0.6,
			ThumbnailAt:        7500 * time.Millisecond,
		},
		Server: ServerConfig{
			Addr:         ":8080",
			PollTimeout:  2 * time.Second,
			JobRetention: 15 * time.Minute,
		},
	}
}

func findConfigFile() string {
	candidates := []string{
		"./config.yaml",
		"./config.yml",
		filepath.Join(os.Getenv("HOME"), ".audiogram", "config.yaml"),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

func applyEnv(cfg *Config) error {
	strs := map[string]*string{
		"AUDIOGRAM_WORK_DIR":   &cfg.WorkDir,
		"AUDIOGRAM_OUTPUT_DIR": &cfg.OutputDir,
		"AUDIOGRAM_DATA_DIR":   &cfg.DataDir,
		"AUDIOGRAM_LOG_FORMAT": &cfg.LogFormat,
		"AUDIOGRAM_FFMPEG":     &cfg.FFmpeg.BinaryPath,
		"AUDIOGRAM_FFPROBE":    &cfg.FFmpeg.ProbePath,
		"AUDIOGRAM_ADDR":       &cfg.Server.Addr,
	}
	for key, dst := range strs {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"AUDIOGRAM_CONCURRENCY": &cfg.Concurrency,
		"AUDIOGRAM_QUEUE_SIZE":  &cfg.QueueSize,
	}
	for key, dst := range ints {
		v, ok := os.LookupEnv(key)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return &EnvError{Key: key, Value: v, Err: err}
		}
		*dst = n
	}

	return nil
}

// EnvError reports an environment override that could not be parsed.
type EnvError struct {
	Key   string
	Value string
	Err   error
}

func (e *EnvError) Error() string {
	return "invalid " + e.Key + "=" + strconv.Quote(e.Value) + ": " + e.Err.Error()
}

func (e *EnvError) Unwrap() error { return e.Err }

// WithConfig stores config in context
func WithConfig(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configKey, cfg)
}

// FromContext retrieves config from context
func FromContext(ctx context.Context) *Config {
	if cfg, ok := ctx.Value(configKey).(*Config); ok {
		return cfg
	}
	return defaultConfig()
}
