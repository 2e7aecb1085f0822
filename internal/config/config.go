package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level worker configuration: the tier layout, the
// event-notification sink, and the ambient observability/logging stack.
type Config struct {
	Tiers         []TierConfig        `yaml:"tiers"`
	Lock          LockConfig          `yaml:"lock"`
	Notify        NotifyConfig        `yaml:"notify"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// TierConfig describes one storage tier: an ordered set of directories, all
// sharing a tier alias. Aliases are ordered by list position: the first
// TierConfig in the file is the fastest tier.
type TierConfig struct {
	Alias int         `yaml:"alias"`
	Dirs  []DirConfig `yaml:"dirs"`
}

// DirConfig describes one storage directory within a tier. Backend selects
// the fileops implementation backing the dir; "local" (default) uses the
// filesystem at Path, "s3" treats Path as the object-key prefix and reads
// connection details from Blob.
type DirConfig struct {
	Path          string         `yaml:"path"`
	CapacityBytes ByteSize       `yaml:"capacity_bytes"`
	Backend       string         `yaml:"backend"`
	Blob          BlobTierConfig `yaml:"blob"`
}

// LockConfig tunes the behavior of block locking.
type LockConfig struct {
	AcquireTimeout Duration `yaml:"acquire_timeout"`
}

// NotifyConfig configures the event sink the façade reports commits,
// removals, and moves to.
type NotifyConfig struct {
	NATS NATSConfig `yaml:"nats"`
}

type NATSConfig struct {
	Enabled         bool      `yaml:"enabled"`
	URL             string    `yaml:"url"`
	CredentialsFile string    `yaml:"credentials_file"`
	NKeySeedFile    string    `yaml:"nkey_seed_file"`
	TLS             TLSConfig `yaml:"tls"`
	ConnectionName  string    `yaml:"connection_name"`
	SubjectPrefix   string    `yaml:"subject_prefix"`
	MaxReconnects   int       `yaml:"max_reconnects"`
	ReconnectWait   Duration  `yaml:"reconnect_wait"`
}

type TLSConfig struct {
	CAFile   string `yaml:"ca_file"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// BlobTierConfig carries the S3-compatible connection details for a dir
// whose Backend is "s3".
type BlobTierConfig struct {
	Endpoint        string `yaml:"endpoint"`
	Region          string `yaml:"region"`
	Bucket          string `yaml:"bucket"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	ForcePathStyle  bool   `yaml:"force_path_style"`
	StorageClass    string `yaml:"storage_class"`
}

type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Health  HealthConfig  `yaml:"health"`
	Logging LoggingConfig `yaml:"logging"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	Path    string `yaml:"path"`
}

type HealthConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Listen        string `yaml:"listen"`
	LivenessPath  string `yaml:"liveness_path"`
	ReadinessPath string `yaml:"readiness_path"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and validates a Config from a YAML file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Validate checks structural invariants Load cannot catch via YAML tags
// alone: at least one tier, unique aliases, every dir has capacity and a
// supported backend.
func (c *Config) Validate() error {
	if len(c.Tiers) == 0 {
		return fmt.Errorf("at least one tier must be configured")
	}

	seen := make(map[int]bool)
	for i, t := range c.Tiers {
		if seen[t.Alias] {
			return fmt.Errorf("tiers[%d]: duplicate alias %d", i, t.Alias)
		}
		seen[t.Alias] = true

		if len(t.Dirs) == 0 {
			return fmt.Errorf("tiers[%d] (alias %d): at least one dir must be configured", i, t.Alias)
		}
		for j, d := range t.Dirs {
			if d.CapacityBytes <= 0 {
				return fmt.Errorf("tiers[%d].dirs[%d]: capacity_bytes must be > 0", i, j)
			}
			switch d.Backend {
			case "", "local":
				if d.Path == "" {
					return fmt.Errorf("tiers[%d].dirs[%d]: local backend requires path", i, j)
				}
			case "s3":
				if d.Blob.Bucket == "" {
					return fmt.Errorf("tiers[%d].dirs[%d]: s3 backend requires blob.bucket", i, j)
				}
			default:
				return fmt.Errorf("tiers[%d].dirs[%d]: unknown backend %q", i, j, d.Backend)
			}
		}
	}

	if c.Notify.NATS.Enabled && c.Notify.NATS.URL == "" {
		return fmt.Errorf("notify.nats.url is required when notify.nats.enabled")
	}

	return nil
}

// Duration wraps time.Duration for YAML unmarshaling of strings like "5m", "24h".
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// ByteSize wraps int64 for YAML unmarshaling of strings like "256MB", "10GB".
type ByteSize int64

func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		var n int64
		if err2 := value.Decode(&n); err2 != nil {
			return err
		}
		*b = ByteSize(n)
		return nil
	}
	parsed, err := parseByteSize(s)
	if err != nil {
		return err
	}
	*b = ByteSize(parsed)
	return nil
}

func parseByteSize(s string) (int64, error) {
	if len(s) == 0 {
		return 0, fmt.Errorf("empty byte size")
	}

	var multiplier int64 = 1
	numStr := s

	switch {
	case len(s) >= 2 && s[len(s)-2:] == "KB":
		multiplier = 1024
		numStr = s[:len(s)-2]
	case len(s) >= 2 && s[len(s)-2:] == "MB":
		multiplier = 1024 * 1024
		numStr = s[:len(s)-2]
	case len(s) >= 2 && s[len(s)-2:] == "GB":
		multiplier = 1024 * 1024 * 1024
		numStr = s[:len(s)-2]
	case len(s) >= 2 && s[len(s)-2:] == "TB":
		multiplier = 1024 * 1024 * 1024 * 1024
		numStr = s[:len(s)-2]
	case s[len(s)-1] == 'B':
		numStr = s[:len(s)-1]
	}

	var n int64
	_, err := fmt.Sscanf(numStr, "%d", &n)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size %q: %w", s, err)
	}
	return n * multiplier, nil
}
