// Package config loads objectbus process configuration from the
// environment via joeshaw/envdecode, with an optional YAML overlay for
// deployments that prefer a config file, grounded on the teacher's
// sessions/redishost.Config (env tags with defaults) and its NewFromEnv
// constructor pattern.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"

	"github.com/objectbus/objectbus/workerpool"
)

// Config is the full set of knobs a running objectbus process needs.
type Config struct {
	// ListenURL is the transport/tcp URL the broker accepts inbound
	// connections on, e.g. "tcp://0.0.0.0:7300" or "tcps://0.0.0.0:7300".
	ListenURL string `env:"OBJECTBUS_LISTEN_URL,default=tcp://0.0.0.0:7300" yaml:"listen_url"`

	// TLSCertFile/TLSKeyFile are used when ListenURL has the "tcps" scheme.
	TLSCertFile string `env:"OBJECTBUS_TLS_CERT_FILE" yaml:"tls_cert_file"`
	TLSKeyFile  string `env:"OBJECTBUS_TLS_KEY_FILE" yaml:"tls_key_file"`

	// MachineID overrides the machine id reported in ServiceInfo; a random
	// id is used if empty.
	MachineID string `env:"OBJECTBUS_MACHINE_ID" yaml:"machine_id"`

	// WorkerPool bounds the broker's elastic goroutine pool.
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`

	// Auth configures bearer-token validation for inbound connections.
	Auth AuthConfig `yaml:"auth"`

	// AdminListenAddr is the address the admin HTTP surface binds to, e.g.
	// "127.0.0.1:7301". Empty disables it.
	AdminListenAddr string `env:"OBJECTBUS_ADMIN_LISTEN_ADDR" yaml:"admin_listen_addr"`

	// RedisAddr configures directory/redisdir for multi-process
	// deployments; empty means use directory/memorydir instead.
	RedisAddr string `env:"OBJECTBUS_REDIS_ADDR" yaml:"redis_addr"`
	// DirectoryKeyPrefix namespaces redisdir's keys.
	DirectoryKeyPrefix string `env:"OBJECTBUS_DIRECTORY_KEY_PREFIX,default=objectbus:directory:" yaml:"directory_key_prefix"`
}

// WorkerPoolConfig mirrors workerpool.Config with env/yaml tags.
type WorkerPoolConfig struct {
	MinWorkers int `env:"OBJECTBUS_WORKERPOOL_MIN_WORKERS,default=2" yaml:"min_workers"`
	MaxWorkers int `env:"OBJECTBUS_WORKERPOOL_MAX_WORKERS,default=32" yaml:"max_workers"`
	MinIdle    int `env:"OBJECTBUS_WORKERPOOL_MIN_IDLE,default=1" yaml:"min_idle"`
	MaxIdle    int `env:"OBJECTBUS_WORKERPOOL_MAX_IDLE,default=4" yaml:"max_idle"`
}

// ToWorkerPoolConfig converts to workerpool.Config.
func (w WorkerPoolConfig) ToWorkerPoolConfig() workerpool.Config {
	return workerpool.Config{MinWorkers: w.MinWorkers, MaxWorkers: w.MaxWorkers, MinIdle: w.MinIdle, MaxIdle: w.MaxIdle}
}

// AuthConfig configures an OIDC/JWT Authenticator for the broker's
// FunctionAuthenticate hook. Empty Issuer disables authentication.
type AuthConfig struct {
	Issuer         string        `env:"OBJECTBUS_AUTH_ISSUER" yaml:"issuer"`
	Audience       string        `env:"OBJECTBUS_AUTH_AUDIENCE" yaml:"audience"`
	RequiredScopes []string      `env:"OBJECTBUS_AUTH_REQUIRED_SCOPES" yaml:"required_scopes"`
	Leeway         time.Duration `env:"OBJECTBUS_AUTH_LEEWAY,default=60s" yaml:"leeway"`
}

// Default decodes Config from the environment the same way FromEnv does,
// so every field whose variable is unset takes its tag default, and then
// resets WorkerPool to its tag defaults whatever the environment says.
func Default() Config {
	var cfg Config
	_ = envdecode.Decode(&cfg)
	cfg.WorkerPool = WorkerPoolConfig{MinWorkers: 2, MaxWorkers: 32, MinIdle: 1, MaxIdle: 4}
	return cfg
}

// FromEnv decodes Config from the environment, applying the env defaults
// declared above. Following the teacher's NewFromEnv convention,
// envdecode's "no fields set" case is not treated as fatal: every field
// here carries a usable default or is legitimately optional (Auth,
// RedisAddr, TLS paths).
func FromEnv() (Config, error) {
	var cfg Config
	_ = envdecode.Decode(&cfg)
	return cfg, nil
}

// LoadYAMLOverlay reads path and unmarshals it onto base, letting file
// values override whatever FromEnv already populated. A missing file is
// not an error: deployments that configure purely via environment
// variables need not create one.
func LoadYAMLOverlay(base Config, path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return base, nil
		}
		return Config{}, fmt.Errorf("config: read %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &base); err != nil {
		return Config{}, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return base, nil
}
