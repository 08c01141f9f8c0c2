package main

import (
	"bytes"
	"encoding/json"
	"github.com/andygello555/try-playwright/browser"
	task "github.com/andygello555/try-playwright/tasks"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"os"
	"regexp"
	"time"
)

const (
	ConfigDefaultPath = "config.json"
	// ConfigPathEnv overrides ConfigDefaultPath.
	ConfigPathEnv = "CONFIG_PATH"
	// AppEnv selects the additional .env.<APP_ENV> file that is loaded before the config.
	AppEnv = "APP_ENV"
)

// DBConfig contains the config variables for the DB to connect to via Gorm.
type DBConfig struct {
	Host     string `json:"host"`
	User     string `json:"user"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Port     int    `json:"port"`
	SSLMode  bool   `json:"sslmode"`
	Timezone string `json:"timezone"`
}

func (c *DBConfig) DBHost() string     { return c.Host }
func (c *DBConfig) DBUser() string     { return c.User }
func (c *DBConfig) DBPassword() string { return c.Password }
func (c *DBConfig) DBName() string     { return c.Name }
func (c *DBConfig) TestDBName() string { return "test_" + c.DBName() }
func (c *DBConfig) DBPort() int        { return c.Port }
func (c *DBConfig) DBSSLMode() string {
	sslMode := "disable"
	if c.SSLMode {
		sslMode = "require"
	}
	return sslMode
}
func (c *DBConfig) DBTimezone() string { return c.Timezone }

type RedisConfig struct {
	MaxIdle                int `json:"max_idle"`
	IdleTimeout            int `json:"idle_timeout"`
	ReadTimeout            int `json:"read_timeout"`
	WriteTimeout           int `json:"write_timeout"`
	ConnectTimeout         int `json:"connect_timeout"`
	NormalTasksPollPeriod  int `json:"normal_tasks_poll_period"`
	DelayedTasksPollPeriod int `json:"delayed_tasks_poll_period"`
}

func (c *RedisConfig) RedisMaxIdle() int                { return c.MaxIdle }
func (c *RedisConfig) RedisIdleTimeout() int            { return c.IdleTimeout }
func (c *RedisConfig) RedisReadTimeout() int            { return c.ReadTimeout }
func (c *RedisConfig) RedisWriteTimeout() int           { return c.WriteTimeout }
func (c *RedisConfig) RedisConnectTimeout() int         { return c.ConnectTimeout }
func (c *RedisConfig) RedisNormalTasksPollPeriod() int  { return c.NormalTasksPollPeriod }
func (c *RedisConfig) RedisDelayedTasksPollPeriod() int { return c.DelayedTasksPollPeriod }

type AMQPConfig struct {
	Exchange      string `json:"exchange"`
	ExchangeType  string `json:"exchange_type"`
	BindingKey    string `json:"binding_key"`
	PrefetchCount int    `json:"prefetch_count"`
}

func (c *AMQPConfig) AMQPExchange() string     { return c.Exchange }
func (c *AMQPConfig) AMQPExchangeType() string { return c.ExchangeType }
func (c *AMQPConfig) AMQPBindingKey() string   { return c.BindingKey }
func (c *AMQPConfig) AMQPPrefetchCount() int   { return c.PrefetchCount }

type TaskConfig struct {
	DefaultQueue    string       `json:"default_queue"`
	ResultsExpireIn int          `json:"results_expire_in"`
	Broker          string       `json:"broker"`
	ResultBackend   string       `json:"result_backend"`
	Redis           *RedisConfig `json:"redis"`
	AMQP            *AMQPConfig  `json:"amqp"`
	// Concurrency is the number of executions a single worker process runs at once.
	Concurrency int `json:"concurrency"`
}

func (c *TaskConfig) TasksDefaultQueue() string    { return c.DefaultQueue }
func (c *TaskConfig) TasksResultsExpireIn() int    { return c.ResultsExpireIn }
func (c *TaskConfig) TasksBroker() string          { return c.Broker }
func (c *TaskConfig) TasksResultBackend() string   { return c.ResultBackend }
func (c *TaskConfig) TasksRedis() task.RedisConfig { return c.Redis }
func (c *TaskConfig) TasksAMQP() task.AMQPConfig {
	if c.AMQP == nil {
		return nil
	}
	return c.AMQP
}

// ControlConfig is the config for the control service.
type ControlConfig struct {
	Addr string `json:"addr"`
	// RunTimeout is the number of seconds a run waits for a worker.
	RunTimeout      int    `json:"run_timeout"`
	MaxShareSize    int64  `json:"max_share_size"`
	TurnstileSecret string `json:"turnstile_secret"`
	TurnstileURL    string `json:"turnstile_url"`
	// URL is where the send command finds the control service.
	URL string `json:"url"`
}

func (c *ControlConfig) ControlRunTimeout() time.Duration { return time.Duration(c.RunTimeout) * time.Second }
func (c *ControlConfig) ControlMaxShareSize() int64       { return c.MaxShareSize }
func (c *ControlConfig) ControlTurnstileSecret() string   { return c.TurnstileSecret }
func (c *ControlConfig) ControlTurnstileURL() string      { return c.TurnstileURL }

// FilesConfig is the config for the file service.
type FilesConfig struct {
	Addr          string `json:"addr"`
	MaxUploadSize int64  `json:"max_upload_size"`
	// PresignExpiry is the number of seconds the URLs to uploaded files are valid for.
	PresignExpiry int `json:"presign_expiry"`
	// Memory stores uploads in memory instead of in the object store. Only useful for development.
	Memory bool `json:"memory"`
}

func (c *FilesConfig) FilesMaxUploadSize() int64 { return c.MaxUploadSize }
func (c *FilesConfig) FilesPresignExpiry() time.Duration {
	return time.Duration(c.PresignExpiry) * time.Second
}

// StorageConfig is the config for the S3 compatible object store that the file service uploads to.
type StorageConfig struct {
	Endpoint  string `json:"endpoint"`
	Region    string `json:"region"`
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
	UseSSL    bool   `json:"use_ssl"`
	Bucket    string `json:"bucket"`
}

func (c *StorageConfig) StorageEndpoint() string  { return c.Endpoint }
func (c *StorageConfig) StorageRegion() string    { return c.Region }
func (c *StorageConfig) StorageAccessKey() string { return c.AccessKey }
func (c *StorageConfig) StorageSecretKey() string { return c.SecretKey }
func (c *StorageConfig) StorageUseSSL() bool      { return c.UseSSL }
func (c *StorageConfig) StorageBucket() string    { return c.Bucket }

// LogsConfig is the config for the log aggregator as well as for the clients that post to it.
type LogsConfig struct {
	Addr    string `json:"addr"`
	Enabled bool   `json:"enabled"`
	URL     string `json:"url"`
	// TTL is the number of minutes the logs of a test are kept for after they were last written to.
	TTL int `json:"ttl"`
	// CleanupInterval is the number of minutes between each sweep of expired logs.
	CleanupInterval int `json:"cleanup_interval"`
	// Level is the level of the HTTP request logs of every service.
	Level string `json:"level"`
}

func (c *LogsConfig) LogAggregatorEnabled() bool { return c.Enabled }
func (c *LogsConfig) LogAggregatorURL() string   { return c.URL }

// WorkerConfig is the config for the execution workers.
type WorkerConfig struct {
	ExecutionRoot     string `json:"execution_root"`
	Proxy             string `json:"proxy"`
	FileServiceURL    string `json:"file_service_url"`
	PlaywrightVersion string `json:"playwright_version"`
	// ExecutionTimeout is the number of seconds an execution can run for.
	ExecutionTimeout  int      `json:"execution_timeout"`
	IgnorePatterns    []string `json:"ignore_patterns"`
	PlaywrightTestCLI string   `json:"playwright_test_cli"`
	JavaPOM           string   `json:"java_pom"`
	CSharpProject     string   `json:"csharp_project"`
}

func (c *WorkerConfig) WorkerExecutionRoot() string     { return c.ExecutionRoot }
func (c *WorkerConfig) WorkerProxy() string             { return c.Proxy }
func (c *WorkerConfig) WorkerFileServiceURL() string    { return c.FileServiceURL }
func (c *WorkerConfig) WorkerPlaywrightVersion() string { return c.PlaywrightVersion }
func (c *WorkerConfig) WorkerExecutionTimeout() time.Duration {
	return time.Duration(c.ExecutionTimeout) * time.Second
}
func (c *WorkerConfig) WorkerIgnorePatterns() []string  { return c.IgnorePatterns }
func (c *WorkerConfig) WorkerPlaywrightTestCLI() string { return c.PlaywrightTestCLI }
func (c *WorkerConfig) WorkerJavaPOM() string           { return c.JavaPOM }
func (c *WorkerConfig) WorkerCSharpProject() string     { return c.CSharpProject }

// BrowserConfig is the config used when running example flows from the command line.
type BrowserConfig struct {
	Headless bool   `json:"headless"`
	Engine   string `json:"engine"`
	// Timeout is the number of milliseconds each browser action can take.
	Timeout float64 `json:"timeout"`
}

// Options converts the BrowserConfig to browser.Options.
func (c *BrowserConfig) Options() browser.Options {
	return browser.Options{Headless: c.Headless, Engine: browser.Engine(c.Engine), Timeout: c.Timeout}
}

// Config contains the sub-configs for each service of try-playwright.
type Config struct {
	DB      *DBConfig      `json:"db"`
	Tasks   *TaskConfig    `json:"tasks"`
	Control *ControlConfig `json:"control"`
	Files   *FilesConfig   `json:"files"`
	Storage *StorageConfig `json:"storage"`
	Logs    *LogsConfig    `json:"logs"`
	Worker  *WorkerConfig  `json:"worker"`
	Browser *BrowserConfig `json:"browser"`
}

var globalConfig *Config

// setDefaults fills in any missing sub-configs and any zero-valued tunables.
func (c *Config) setDefaults() {
	if c.DB == nil {
		c.DB = &DBConfig{}
	}
	if c.DB.Port == 0 {
		c.DB.Port = 5432
	}
	if c.DB.Timezone == "" {
		c.DB.Timezone = "UTC"
	}

	if c.Tasks == nil {
		c.Tasks = &TaskConfig{}
	}
	if c.Tasks.DefaultQueue == "" {
		c.Tasks.DefaultQueue = "try_playwright_tasks"
	}
	if c.Tasks.ResultsExpireIn == 0 {
		c.Tasks.ResultsExpireIn = 3600
	}
	if c.Tasks.Redis == nil {
		c.Tasks.Redis = &RedisConfig{
			MaxIdle:                3,
			IdleTimeout:            240,
			ReadTimeout:            15,
			WriteTimeout:           15,
			ConnectTimeout:         15,
			NormalTasksPollPeriod:  1000,
			DelayedTasksPollPeriod: 500,
		}
	}
	if c.Tasks.Concurrency == 0 {
		c.Tasks.Concurrency = 4
	}

	if c.Control == nil {
		c.Control = &ControlConfig{}
	}
	if c.Control.Addr == "" {
		c.Control.Addr = ":8080"
	}
	if c.Control.URL == "" {
		c.Control.URL = "http://localhost:8080"
	}

	if c.Files == nil {
		c.Files = &FilesConfig{}
	}
	if c.Files.Addr == "" {
		c.Files.Addr = ":8081"
	}
	if c.Storage == nil {
		c.Storage = &StorageConfig{}
	}

	if c.Logs == nil {
		c.Logs = &LogsConfig{}
	}
	if c.Logs.Addr == "" {
		c.Logs.Addr = ":8082"
	}
	if c.Logs.TTL == 0 {
		c.Logs.TTL = 60
	}
	if c.Logs.CleanupInterval == 0 {
		c.Logs.CleanupInterval = 5
	}

	if c.Worker == nil {
		c.Worker = &WorkerConfig{}
	}
	if c.Worker.ExecutionTimeout == 0 {
		c.Worker.ExecutionTimeout = 30
	}
	if c.Worker.PlaywrightVersion == "" {
		c.Worker.PlaywrightVersion = os.Getenv("PLAYWRIGHT_VERSION")
	}

	if c.Browser == nil {
		c.Browser = &BrowserConfig{Headless: true}
	}
	if c.Browser.Engine == "" {
		c.Browser.Engine = browser.Chromium.String()
	}
}

// loadEnv loads the .env.<APP_ENV> file and then the .env file into the environment. Variables that are already set
// are not overridden, so the more specific file wins. Missing files are skipped.
func loadEnv() error {
	files := []string{".env"}
	if appEnv := os.Getenv(AppEnv); appEnv != "" {
		files = append([]string{".env." + appEnv}, files...)
	}
	for _, file := range files {
		if err := godotenv.Load(file); err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "could not load %s", file)
		}
	}
	return nil
}

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)}`)

// expandEnv replaces each ${VAR} in the given JSON with the value of the environment variable, escaped so that it can
// sit within a JSON string. A "$" that is not followed by a braced name is left as it is.
func expandEnv(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		value := os.Getenv(string(envVarPattern.FindSubmatch(match)[1]))
		quoted, _ := json.Marshal(value)
		return quoted[1 : len(quoted)-1]
	})
}

// ParseConfig parses the given JSON config after removing any BOM and expanding any ${VAR} environment variables
// within it.
func ParseConfig(data []byte) (config *Config, err error) {
	// Remove BOM, if there is one
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	data = expandEnv(data)

	config = &Config{}
	if err = json.Unmarshal(data, config); err != nil {
		return nil, errors.Wrap(err, "could not decode config")
	}
	config.setDefaults()
	return config, nil
}

// LoadConfig loads the .env files and then the config file into the globalConfig variable. A missing config file
// results in the default config.
func LoadConfig() (err error) {
	if err = loadEnv(); err != nil {
		return err
	}

	path := ConfigDefaultPath
	if envPath := os.Getenv(ConfigPathEnv); envPath != "" {
		path = envPath
	}

	var configData []byte
	if configData, err = os.ReadFile(path); err != nil {
		if !os.IsNotExist(err) || path != ConfigDefaultPath {
			return errors.Wrapf(err, "could not read config %s", path)
		}
		configData = []byte("{}")
	}

	globalConfig, err = ParseConfig(configData)
	return errors.Wrapf(err, "could not load config %s", path)
}

// ToJSON converts the Config back to JSON.
func (c *Config) ToJSON() (jsonData []byte, err error) {
	if jsonData, err = json.Marshal(c); err != nil {
		return jsonData, errors.Wrap(err, "could not Marshal Config to JSON")
	}
	return
}
