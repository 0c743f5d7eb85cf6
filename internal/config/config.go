package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	// Server
	Port string `yaml:"port" validate:"required,numeric"`

	// Output
	OutputDir     string `yaml:"output_dir" validate:"required"`
	PublicPath    string `yaml:"public_path" validate:"required,startswith=/"`
	PublicBaseURL string `yaml:"public_base_url" validate:"omitempty,url"`

	// Uploads
	UploadDir      string `yaml:"upload_dir" validate:"required"`
	KeepUploads    bool   `yaml:"keep_uploads"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes" validate:"gt=0"`

	// Concurrency
	MaxConcurrentRequests int64   `yaml:"max_concurrent_requests" validate:"gt=0"`
	MaxConnections        int     `yaml:"max_connections" validate:"gte=0"`
	MaxAnalysisConcurrent int64   `yaml:"max_analysis_concurrent" validate:"gt=0"`
	AnalysisRatePerSec    float64 `yaml:"analysis_rate_per_sec" validate:"gte=0"`
	CropWorkers           int     `yaml:"crop_workers" validate:"gt=0,lte=64"`

	// Analysis
	AWSRegion       string        `yaml:"aws_region" validate:"required"`
	AnalysisTimeout time.Duration `yaml:"analysis_timeout" validate:"gt=0"`
	FormsReport     bool          `yaml:"forms_report"`

	// Request timeouts
	RequestTimeout time.Duration `yaml:"request_timeout" validate:"gt=0"`
	SlowRequest    time.Duration `yaml:"slow_request"`

	// Server timeouts
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" validate:"gt=0"`
	ReadTimeout       time.Duration `yaml:"read_timeout" validate:"gt=0"`
	WriteTimeout      time.Duration `yaml:"write_timeout" validate:"gt=0"`
	IdleTimeout       time.Duration `yaml:"idle_timeout" validate:"gt=0"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`

	// http
	MaxHeaderBytes     int      `yaml:"max_header_bytes" validate:"gt=0"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins" validate:"min=1,dive,required"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Port: "5500",

		OutputDir:  "./extracted_data",
		PublicPath: "/extracted_data",

		UploadDir:      "public/temp",
		MaxUploadBytes: 10 << 20,

		MaxConcurrentRequests: 15,
		MaxConnections:        256,
		MaxAnalysisConcurrent: 4,
		AnalysisRatePerSec:    5,
		CropWorkers:           4,

		AWSRegion:       "us-east-1",
		AnalysisTimeout: 60 * time.Second,

		RequestTimeout: 90 * time.Second,
		SlowRequest:    10 * time.Second,

		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       60 * time.Second,
		ShutdownTimeout:   20 * time.Second,

		MaxHeaderBytes:     1 << 20,
		CORSAllowedOrigins: []string{"*"},
	}
}

// Load builds the configuration from defaults, the YAML file named by
// CONFIG_FILE (if any), then environment variables.
func Load() (Config, error) {
	c := Defaults()
	if path := envStr("CONFIG_FILE", ""); path != "" {
		if err := c.mergeFile(path); err != nil {
			return Config{}, err
		}
	}
	c.applyEnv()
	return c, nil
}

func (c *Config) mergeFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config file: %w", err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Port = envStr("PORT", c.Port)

	c.OutputDir = envStr("OUTPUT_DIR", c.OutputDir)
	c.PublicPath = envStr("PUBLIC_PATH", c.PublicPath)
	c.PublicBaseURL = envStr("PUBLIC_BASE_URL", c.PublicBaseURL)

	c.UploadDir = envStr("UPLOAD_DIR", c.UploadDir)
	c.KeepUploads = envBool("KEEP_UPLOADS", c.KeepUploads)
	c.MaxUploadBytes = int64(envInt("MAX_UPLOAD_BYTES", int(c.MaxUploadBytes)))

	c.MaxConcurrentRequests = int64(envInt("MAX_CONCURRENT_REQUESTS", int(c.MaxConcurrentRequests)))
	c.MaxConnections = envInt("MAX_CONNECTIONS", c.MaxConnections)
	c.MaxAnalysisConcurrent = int64(envInt("MAX_ANALYSIS_CONCURRENT", int(c.MaxAnalysisConcurrent)))
	c.AnalysisRatePerSec = envFloat("ANALYSIS_RATE_PER_SEC", c.AnalysisRatePerSec)
	c.CropWorkers = envInt("CROP_WORKERS", c.CropWorkers)

	c.AWSRegion = envStr("AWS_REGION", c.AWSRegion)
	c.AnalysisTimeout = envDur("ANALYSIS_TIMEOUT", c.AnalysisTimeout)
	c.FormsReport = envBool("FORMS_REPORT", c.FormsReport)

	c.RequestTimeout = envDur("REQUEST_TIMEOUT", c.RequestTimeout)
	c.SlowRequest = envDur("SLOW_REQUEST", c.SlowRequest)

	c.ReadHeaderTimeout = envDur("READ_HEADER_TIMEOUT", c.ReadHeaderTimeout)
	c.ReadTimeout = envDur("READ_TIMEOUT", c.ReadTimeout)
	c.WriteTimeout = envDur("WRITE_TIMEOUT", c.WriteTimeout)
	c.IdleTimeout = envDur("IDLE_TIMEOUT", c.IdleTimeout)
	c.ShutdownTimeout = envDur("SHUTDOWN_TIMEOUT", c.ShutdownTimeout)

	c.MaxHeaderBytes = envInt("MAX_HEADER_BYTES", c.MaxHeaderBytes)
	c.CORSAllowedOrigins = envList("CORS_ALLOWED_ORIGINS", c.CORSAllowedOrigins)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

func envStr(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return fallback
	}
	return f
}

func envDur(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func envBool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envList(key string, fallback []string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
