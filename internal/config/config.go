package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port         int           `yaml:"port"`
		Mode         string        `yaml:"mode"`
		ReadTimeout  time.Duration `yaml:"readTimeout"`
		WriteTimeout time.Duration `yaml:"writeTimeout"`
		CORSOrigins  []string      `yaml:"corsOrigins"`
	} `yaml:"server"`

	Database struct {
		Driver   string `yaml:"driver"` // mysql | postgres | sqlite
		DSN      string `yaml:"dsn"`
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Name     string `yaml:"name"`
		SSLMode  string `yaml:"sslMode"`
		Path     string `yaml:"path"`
	} `yaml:"database"`

	Storage struct {
		Driver    string `yaml:"driver"` // minio | local
		LocalRoot string `yaml:"localRoot"`
	} `yaml:"storage"`

	Minio struct {
		Endpoint   string `yaml:"endpoint"`
		AccessKey  string `yaml:"accessKey"`
		SecretKey  string `yaml:"secretKey"`
		BucketName string `yaml:"bucketName"`
		Region     string `yaml:"region"`
		UseSSL     bool   `yaml:"useSSL"`
	} `yaml:"minio"`

	OpenAI struct {
		APIKey   string `yaml:"apiKey"`
		BaseURL  string `yaml:"baseURL"`
		Model    string `yaml:"model"`
		OCRModel string `yaml:"ocrModel"`

		// 0 uses the client default, negative sends no cap
		MaxTokens int `yaml:"maxTokens"`
	} `yaml:"openai"`

	Auth struct {
		JWTSecret string            `yaml:"jwtSecret"`
		AdminKeys map[string]string `yaml:"adminKeys"`
	} `yaml:"auth"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	Tracing struct {
		Enabled     bool   `yaml:"enabled"`
		ServiceName string `yaml:"serviceName"`
	} `yaml:"tracing"`

	Analysis struct {
		Cost           int   `yaml:"cost"`
		MaxUploadBytes int64 `yaml:"maxUploadBytes"`
		ShareTTLDays   int   `yaml:"shareTTLDays"`
	} `yaml:"analysis"`

	Extract struct {
		Pdftotext    string `yaml:"pdftotext"`
		Pdftoppm     string `yaml:"pdftoppm"`
		MaxImageEdge int    `yaml:"maxImageEdge"`
		OCRGroup     int    `yaml:"ocrGroup"`
	} `yaml:"extract"`

	RateLimit struct {
		Capacity   int `yaml:"capacity"`
		RefillRate int `yaml:"refillRate"`

		// proxy yang boleh mengisi X-Forwarded-For (CIDR atau IP)
		TrustedProxies []string `yaml:"trustedProxies"`
	} `yaml:"rateLimit"`
}

// Load baca file config.yaml. File yang tidak ada tidak dianggap error,
// nilai default dan environment tetap dipakai.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, err
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// secrets dan alamat dari environment menimpa isi file
func (c *Config) applyEnv() {
	setString(&c.OpenAI.APIKey, "OPENAI_API_KEY")
	setString(&c.OpenAI.BaseURL, "OPENAI_BASE_URL")
	setString(&c.Auth.JWTSecret, "JWT_SECRET")
	setString(&c.Database.Driver, "DATABASE_DRIVER")
	setString(&c.Database.DSN, "DATABASE_DSN")
	setString(&c.Minio.AccessKey, "MINIO_ACCESS_KEY")
	setString(&c.Minio.SecretKey, "MINIO_SECRET_KEY")
	setString(&c.Redis.Addr, "REDIS_ADDR")
	setString(&c.Redis.Password, "REDIS_PASSWORD")
	if v := os.Getenv("ADMIN_API_KEY"); v != "" {
		if c.Auth.AdminKeys == nil {
			c.Auth.AdminKeys = map[string]string{}
		}
		c.Auth.AdminKeys["env"] = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Server.Port = p
		}
	}
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Mode == "" {
		c.Server.Mode = "dev"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	// analisis dokumen panjang bisa makan beberapa menit
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 5 * time.Minute
	}
	if len(c.Server.CORSOrigins) == 0 {
		c.Server.CORSOrigins = []string{"*"}
	}

	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/contract-risk.db"
	}
	if c.Database.Port == 0 {
		switch c.Database.Driver {
		case "mysql":
			c.Database.Port = 3306
		case "postgres":
			c.Database.Port = 5432
		}
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}

	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	if c.Storage.Driver == "" {
		if c.Minio.Endpoint != "" {
			c.Storage.Driver = "minio"
		} else {
			c.Storage.Driver = "local"
		}
	}
	if c.Storage.LocalRoot == "" {
		c.Storage.LocalRoot = "data/files"
	}

	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "contract-risk"
	}
	if c.Analysis.Cost <= 0 {
		c.Analysis.Cost = 1
	}
	if c.Analysis.MaxUploadBytes <= 0 {
		c.Analysis.MaxUploadBytes = 50 << 20
	}
	if c.Analysis.ShareTTLDays <= 0 {
		c.Analysis.ShareTTLDays = 30
	}
	if c.RateLimit.Capacity <= 0 {
		c.RateLimit.Capacity = 30
	}
	if c.RateLimit.RefillRate <= 0 {
		c.RateLimit.RefillRate = 1
	}
}

// Validate checks combinations defaults cannot fix.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "mysql", "postgres", "sqlite":
	default:
		return fmt.Errorf("database.driver %q: want mysql, postgres or sqlite", c.Database.Driver)
	}
	switch c.Storage.Driver {
	case "local":
	case "minio":
		if c.Minio.Endpoint == "" || c.Minio.BucketName == "" {
			return errors.New("minio storage needs minio.endpoint and minio.bucketName")
		}
	default:
		return fmt.Errorf("storage.driver %q: want minio or local", c.Storage.Driver)
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwtSecret (or JWT_SECRET) is required")
	}
	return nil
}

// ShareTTL is the lifetime of a public share link.
func (c *Config) ShareTTL() time.Duration {
	return time.Duration(c.Analysis.ShareTTLDays) * 24 * time.Hour
}

// DSN returns database.dsn when set, otherwise builds one for the driver.
func (c *Config) DSN() string {
	if c.Database.DSN != "" {
		return c.Database.DSN
	}
	switch c.Database.Driver {
	case "mysql":
		return c.MySQLDSN()
	case "postgres":
		return c.PostgresDSN()
	default:
		return c.Database.Path
	}
}

// Helper untuk build DSN MySQL
func (c *Config) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4&loc=UTC",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
	)
}

// Helper untuk build DSN Postgres (format URL)
func (c *Config) PostgresDSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.Database.User, c.Database.Password),
		Host:   fmt.Sprintf("%s:%d", c.Database.Host, c.Database.Port),
		Path:   "/" + c.Database.Name,
	}
	q := url.Values{}
	q.Set("sslmode", c.Database.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}
