package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/usagi-dev/usagi/core/storage"
	"gopkg.in/yaml.v3"
)

type Manager struct {
	configPtr unsafe.Pointer
	dirs      *storage.Dirs
	watchers  []func(*Config)
	watcherMu sync.RWMutex
	stopWatch chan struct{}
	watchOnce sync.Once
}

type Config struct {
	LLM       LLMConfig       `yaml:"llm"`
	Actor     ActorConfig     `yaml:"actor"`
	Queue     QueueConfig     `yaml:"queue"`
	Analysis  AnalysisConfig  `yaml:"analysis"`
	Aggregate AggregateConfig `yaml:"aggregate"`
	Database  DatabaseConfig  `yaml:"database"`
	Blob      BlobConfig      `yaml:"blob"`
	Parent    ParentConfig    `yaml:"parent"`
}

type LLMConfig struct {
	Provider   string        `yaml:"provider"` // "mock" or "anthropic"
	Model      string        `yaml:"model"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

type ActorConfig struct {
	ContextWindow int           `yaml:"context_window"`
	IdleTimeout   time.Duration `yaml:"idle_timeout"`
	MaxResident   int           `yaml:"max_resident"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

type QueueConfig struct {
	Workers        int           `yaml:"workers"`
	MaxAttempts    int           `yaml:"max_attempts"`
	MaxPerSession  int           `yaml:"max_per_session"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

type AnalysisConfig struct {
	MaxTokens      int           `yaml:"max_tokens"`
	MaxTokenLength int           `yaml:"max_token_length"`
	ExcerptLength  int           `yaml:"excerpt_length"`
	SweepInterval  time.Duration `yaml:"sweep_interval"`
}

type AggregateConfig struct {
	Period time.Duration `yaml:"period"`
	Window time.Duration `yaml:"window"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type BlobConfig struct {
	Dir string `yaml:"dir"`
}

type ParentConfig struct {
	// PIN is normally supplied via USAGI_PARENT_PIN rather than the file.
	PIN string `yaml:"pin"`
}

func NewManager(dirs *storage.Dirs) *Manager {
	m := &Manager{
		dirs:      dirs,
		stopWatch: make(chan struct{}),
	}
	cfg := DefaultConfig()
	atomic.StorePointer(&m.configPtr, unsafe.Pointer(cfg))
	return m
}

func DefaultConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:   "mock",
			Model:      "claude-sonnet-4-5-20250929",
			Timeout:    2 * time.Minute,
			MaxRetries: 3,
		},
		Actor: ActorConfig{
			ContextWindow: 5,
			IdleTimeout:   time.Hour,
			MaxResident:   1024,
			SweepInterval: time.Minute,
		},
		Queue: QueueConfig{
			Workers:        4,
			MaxAttempts:    5,
			MaxPerSession:  100,
			InitialBackoff: 100 * time.Millisecond,
			MaxBackoff:     30 * time.Second,
		},
		Analysis: AnalysisConfig{
			MaxTokens:      30,
			MaxTokenLength: 12,
			ExcerptLength:  100,
			SweepInterval:  time.Minute,
		},
		Aggregate: AggregateConfig{
			Period: 24 * time.Hour,
			Window: 24 * time.Hour,
		},
		Database: DatabaseConfig{},
		Blob:     BlobConfig{},
		Parent:   ParentConfig{},
	}
}

func (m *Manager) Get() *Config {
	return (*Config)(atomic.LoadPointer(&m.configPtr))
}

func (m *Manager) Load() error {
	cfg := DefaultConfig()

	if err := m.loadUserConfig(cfg); err != nil {
		return fmt.Errorf("user config: %w", err)
	}

	m.applyEnvironment(cfg)

	atomic.StorePointer(&m.configPtr, unsafe.Pointer(cfg))
	m.notifyWatchers(cfg)

	return nil
}

// ConfigPath returns the path of the user configuration file.
func (m *Manager) ConfigPath() string {
	return m.dirs.ConfigDir("config.yaml")
}

func (m *Manager) loadUserConfig(cfg *Config) error {
	return m.loadYAMLFile(m.ConfigPath(), cfg)
}

func (m *Manager) loadYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

func (m *Manager) applyEnvironment(cfg *Config) {
	if v := os.Getenv("USAGI_LLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = strings.ToLower(v)
	}
	if v := os.Getenv("USAGI_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("USAGI_LLM_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.LLM.Timeout = d
		}
	}
	if v := os.Getenv("USAGI_ACTOR_IDLE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Actor.IdleTimeout = d
		}
	}
	if v := os.Getenv("USAGI_QUEUE_WORKERS"); v != "" {
		if n, err := parseInt(v); err == nil {
			cfg.Queue.Workers = n
		}
	}
	if v := os.Getenv("USAGI_QUEUE_MAX_ATTEMPTS"); v != "" {
		if n, err := parseInt(v); err == nil {
			cfg.Queue.MaxAttempts = n
		}
	}
	if v := os.Getenv("USAGI_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("USAGI_BLOB_DIR"); v != "" {
		cfg.Blob.Dir = v
	}
	if v := os.Getenv("USAGI_PARENT_PIN"); v != "" {
		cfg.Parent.PIN = v
	}
}

func (m *Manager) OnChange(fn func(*Config)) {
	m.watcherMu.Lock()
	m.watchers = append(m.watchers, fn)
	m.watcherMu.Unlock()
}

func (m *Manager) notifyWatchers(cfg *Config) {
	m.watcherMu.RLock()
	watchers := m.watchers
	m.watcherMu.RUnlock()

	for _, fn := range watchers {
		fn(cfg)
	}
}

func (m *Manager) Reload() error {
	return m.Load()
}

func (m *Manager) Close() error {
	m.watchOnce.Do(func() {
		close(m.stopWatch)
	})
	return nil
}

func parseInt(s string) (int, error) {
	var n int
	_, err := fmt.Sscanf(s, "%d", &n)
	return n, err
}
