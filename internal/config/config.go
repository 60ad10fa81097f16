package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"gopkg.in/yaml.v3"
)

const (
	ProviderGitHub      = "github"
	ProviderObjectStore = "objectstore"
	ProviderBlobStore   = "blobstore"
	ProviderMemory      = "memory"
)

// Config models bulletin.yml.
type Config struct {
	Board   BoardConfig   `yaml:"board"`
	Storage StorageConfig `yaml:"storage"`
	Retry   RetryConfig   `yaml:"retry"`
	Auth    AuthConfig    `yaml:"auth"`
	Notify  NotifyConfig  `yaml:"notify"`
	Log     LogConfig     `yaml:"log"`
}

type BoardConfig struct {
	MaxActivePosts  int      `yaml:"max_active_posts"`
	PrivilegedRoles []string `yaml:"privileged_roles"`
}

type StorageConfig struct {
	Provider       string            `yaml:"provider"`
	TimeoutSeconds int               `yaml:"timeout_seconds"`
	GitHub         GitHubConfig      `yaml:"github"`
	ObjectStore    ObjectStoreConfig `yaml:"objectstore"`
	BlobStore      BlobStoreConfig   `yaml:"blobstore"`
}

type GitHubConfig struct {
	APIURL string `yaml:"api_url"`
	Owner  string `yaml:"owner"`
	Repo   string `yaml:"repo"`
	Branch string `yaml:"branch"`
	Token  string `yaml:"token"`
}

type ObjectStoreConfig struct {
	Root string `yaml:"root"`
}

type BlobStoreConfig struct {
	Path string `yaml:"path"`
}

type RetryConfig struct {
	Attempts    int `yaml:"attempts"`
	BaseDelayMS int `yaml:"base_delay_ms"`
	MaxDelayMS  int `yaml:"max_delay_ms"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

type NotifyConfig struct {
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// IsEnabled treats an absent flag as enabled.
func (w WebhookConfig) IsEnabled() bool {
	return w.Enabled == nil || *w.Enabled
}

func (r RetryConfig) BaseDelay() time.Duration {
	return time.Duration(r.BaseDelayMS) * time.Millisecond
}

func (r RetryConfig) MaxDelay() time.Duration {
	return time.Duration(r.MaxDelayMS) * time.Millisecond
}

func (s StorageConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Board),
		validation.Field(&c.Storage),
		validation.Field(&c.Retry),
		validation.Field(&c.Notify),
		validation.Field(&c.Log),
	)
}

func (b BoardConfig) Validate() error {
	return validation.ValidateStruct(&b,
		validation.Field(&b.MaxActivePosts, validation.Required, validation.Min(1)),
		validation.Field(&b.PrivilegedRoles, validation.Required, validation.Each(validation.Required)),
	)
}

func (s StorageConfig) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Provider,
			validation.Required,
			validation.In(ProviderGitHub, ProviderObjectStore, ProviderBlobStore, ProviderMemory).Error("must be github, objectstore, blobstore or memory"),
		),
		validation.Field(&s.TimeoutSeconds, validation.Min(0)),
		validation.Field(&s.GitHub, validation.When(s.Provider == ProviderGitHub, validation.By(validateGitHub))),
		validation.Field(&s.ObjectStore, validation.When(s.Provider == ProviderObjectStore, validation.By(func(any) error {
			return validation.Validate(s.ObjectStore.Root, validation.Required.Error("objectstore.root is required"))
		}))),
		validation.Field(&s.BlobStore, validation.When(s.Provider == ProviderBlobStore, validation.By(func(any) error {
			return validation.Validate(s.BlobStore.Path, validation.Required.Error("blobstore.path is required"))
		}))),
	)
}

func validateGitHub(value any) error {
	g, ok := value.(GitHubConfig)
	if !ok {
		return nil
	}
	return validation.ValidateStruct(&g,
		validation.Field(&g.APIURL, is.URL),
		validation.Field(&g.Owner, validation.Required),
		validation.Field(&g.Repo, validation.Required),
		validation.Field(&g.Branch, validation.Required),
	)
}

func (r RetryConfig) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Attempts, validation.Required, validation.Min(1), validation.Max(10)),
		validation.Field(&r.BaseDelayMS, validation.Min(0)),
		validation.Field(&r.MaxDelayMS, validation.Min(r.BaseDelayMS)),
	)
}

func (n NotifyConfig) Validate() error {
	return validation.ValidateStruct(&n,
		validation.Field(&n.Webhooks),
	)
}

func (w WebhookConfig) Validate() error {
	return validation.ValidateStruct(&w,
		validation.Field(&w.URL, validation.Required, is.URL),
		validation.Field(&w.Events, validation.Each(validation.In(EventPostSubmitted))),
		validation.Field(&w.TimeoutSeconds, validation.Min(0), validation.Max(60)),
	)
}

func (l LogConfig) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.Level, validation.In("trace", "debug", "info", "warn", "error")),
		validation.Field(&l.Format, validation.In("json", "console")),
	)
}

// EventPostSubmitted is the only event webhooks can subscribe to.
const EventPostSubmitted = "post.submitted"

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "bulletin.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with bulletin config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the defaults if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses config from raw YAML bytes on top of the defaults, then validates it.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	cfg.Notify.Webhooks = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `board:
  max_active_posts: 50
  privileged_roles: [admin]

storage:
  provider: memory
  timeout_seconds: 15
  github:
    api_url: https://api.github.com
    owner: ""
    repo: ""
    branch: main
  objectstore:
    root: .bulletin/objects
  blobstore:
    path: .bulletin/bulletin.db

retry:
  attempts: 3
  base_delay_ms: 200
  max_delay_ms: 2000

auth:
  jwt_secret: ""

notify:
  webhooks: []

log:
  level: info
  format: json
`
