package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"

	"memo-sync/pkg/logger"
)

const (
	BackendFile    = "file"
	BackendGit     = "git"
	BackendCouchDB = "couchdb"
)

type Config struct {
	Server    ServerConfig
	Admin     AdminConfig
	JWT       JWTConfig
	Storage   StorageConfig
	Database  DatabaseConfig
	Git       GitConfig
	WebSocket WebSocketConfig
	CORS      CORSConfig
	Logging   logger.Config
}

type ServerConfig struct {
	Port string `default:"3000"`
	Host string `default:"0.0.0.0"`
	Env  string `default:"development"`
}

type AdminConfig struct {
	Username string `default:"admin"`
	// Password may be clear text or a bcrypt hash.
	Password string `default:"change-me-please"`
}

type JWTConfig struct {
	Secret     string        `default:"dev-secret-change-in-production"`
	Expiration time.Duration `default:"168h"`
}

type StorageConfig struct {
	Backend string `default:"file"`
	DataDir string `default:"data"`
}

type DatabaseConfig struct {
	Host     string `default:"localhost"`
	Port     string `default:"5984"`
	User     string `default:"admin"`
	Password string `default:"password"`
	Name     string `default:"memo_sync"`
}

type GitConfig struct {
	RepoDir     string `default:"data/repo"`
	RemoteURL   string
	Username    string
	Password    string
	Branch      string `default:"main"`
	AuthorName  string `default:"memo-sync"`
	AuthorEmail string `default:"memo-sync@localhost"`
}

type WebSocketConfig struct {
	ReadBufferSize  int           `default:"4096"`
	WriteBufferSize int           `default:"4096"`
	MaxMessageSize  int64         `default:"65536"`
	WriteWait       time.Duration `default:"10s"`
	PongWait        time.Duration `default:"60s"`
	PingPeriod      time.Duration `default:"54s"`
	MaxConnPerUser  int           `default:"10"`
}

type CORSConfig struct {
	AllowedOrigins string `default:"*"`
	AllowedMethods string `default:"GET,POST,OPTIONS"`
	AllowedHeaders string `default:"Content-Type,Authorization,X-Device-ID"`
}

// Load reads the server configuration from the environment, after loading an
// optional .env file.
func Load() (*Config, error) {
	godotenv.Load()

	cfg := new(Config)
	if err := defaults.Set(cfg); err != nil {
		return nil, errors.Wrap(err, "set default config failed")
	}

	cfg.Server.Port = getEnv("PORT", cfg.Server.Port)
	cfg.Server.Host = getEnv("HOST", cfg.Server.Host)
	cfg.Server.Env = getEnv("ENV", cfg.Server.Env)

	cfg.Admin.Username = getEnv("ADMIN_USERNAME", cfg.Admin.Username)
	cfg.Admin.Password = getEnv("ADMIN_PASSWORD", cfg.Admin.Password)

	cfg.JWT.Secret = getEnv("JWT_SECRET", cfg.JWT.Secret)
	exp, err := getEnvAsDuration("JWT_EXPIRATION", cfg.JWT.Expiration)
	if err != nil {
		return nil, err
	}
	cfg.JWT.Expiration = exp

	cfg.Storage.Backend = strings.ToLower(getEnv("STORAGE_BACKEND", cfg.Storage.Backend))
	cfg.Storage.DataDir = getEnv("DATA_DIR", cfg.Storage.DataDir)

	cfg.Database.Host = getEnv("DB_HOST", cfg.Database.Host)
	cfg.Database.Port = getEnv("DB_PORT", cfg.Database.Port)
	cfg.Database.User = getEnv("DB_USER", cfg.Database.User)
	cfg.Database.Password = getEnv("DB_PASSWORD", cfg.Database.Password)
	cfg.Database.Name = getEnv("DB_NAME", cfg.Database.Name)

	cfg.Git.RepoDir = getEnv("GIT_REPO_DIR", cfg.Git.RepoDir)
	cfg.Git.RemoteURL = getEnv("GIT_REMOTE_URL", cfg.Git.RemoteURL)
	cfg.Git.Username = getEnv("GIT_USERNAME", cfg.Git.Username)
	cfg.Git.Password = getEnv("GIT_PASSWORD", cfg.Git.Password)
	cfg.Git.Branch = getEnv("GIT_BRANCH", cfg.Git.Branch)

	cfg.WebSocket.ReadBufferSize = getEnvAsInt("WS_READ_BUFFER_SIZE", cfg.WebSocket.ReadBufferSize)
	cfg.WebSocket.WriteBufferSize = getEnvAsInt("WS_WRITE_BUFFER_SIZE", cfg.WebSocket.WriteBufferSize)
	cfg.WebSocket.MaxConnPerUser = getEnvAsInt("WS_MAX_CONN_PER_USER", cfg.WebSocket.MaxConnPerUser)
	cfg.WebSocket.MaxMessageSize = int64(getEnvAsInt("WS_MAX_MESSAGE_SIZE", int(cfg.WebSocket.MaxMessageSize)))

	cfg.CORS.AllowedOrigins = getEnv("CORS_ALLOWED_ORIGINS", cfg.CORS.AllowedOrigins)
	cfg.CORS.AllowedMethods = getEnv("CORS_ALLOWED_METHODS", cfg.CORS.AllowedMethods)
	cfg.CORS.AllowedHeaders = getEnv("CORS_ALLOWED_HEADERS", cfg.CORS.AllowedHeaders)

	cfg.Logging.Level = getEnv("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.File = getEnv("LOG_FILE", cfg.Logging.File)
	cfg.Logging.Production = getEnvAsBool("LOG_JSON", cfg.Server.Env == "production")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendFile, BackendGit, BackendCouchDB:
	default:
		return errors.Errorf("unknown STORAGE_BACKEND %q", c.Storage.Backend)
	}
	if c.Admin.Username == "" || c.Admin.Password == "" {
		return errors.New("ADMIN_USERNAME and ADMIN_PASSWORD must be set")
	}
	if c.JWT.Secret == "" {
		return errors.New("JWT_SECRET must be set")
	}
	if c.JWT.Expiration <= 0 {
		return errors.New("JWT_EXPIRATION must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(valueStr)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid %s", key)
	}
	return d, nil
}
