package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"
)

const FileName = "agentline.yml"

// Config models agentline.yml.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Sessions struct {
		TTL Duration `yaml:"ttl"`
	} `yaml:"sessions"`
	Kick struct {
		CLIPath string   `yaml:"cli_path"`
		CLIArgs []string `yaml:"cli_args"`
	} `yaml:"kick"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Project        string   `yaml:"project"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	Enabled        *bool    `yaml:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// Active reports whether the hook should be dispatched.
func (w WebhookConfig) Active() bool {
	return (w.Enabled == nil || *w.Enabled) && strings.TrimSpace(w.URL) != ""
}

// Duration accepts Go duration strings such as "8h" or "90m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	if strings.TrimSpace(raw) == "" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

var validEventTypes = map[string]struct{}{
	"created": {}, "updated": {}, "deleted": {}, "status_changed": {},
	"assigned": {}, "unassigned": {}, "started": {}, "completed": {},
}

// Validate reports every structural problem at once.
func (c *Config) Validate() error {
	var result *multierror.Error
	if c.Server.Addr == "" {
		result = multierror.Append(result, errors.New("config.server.addr is required"))
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		result = multierror.Append(result, fmt.Errorf("config.server.base_path must start with '/': %q", c.Server.BasePath))
	}
	if c.Sessions.TTL < 0 {
		result = multierror.Append(result, errors.New("config.sessions.ttl must not be negative"))
	}
	if ttl := c.Sessions.TTL.Std(); ttl > 0 && ttl < 5*time.Minute {
		result = multierror.Append(result, fmt.Errorf("config.sessions.ttl %s is shorter than the pause grace period", ttl))
	}
	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		result = multierror.Append(result, fmt.Errorf("config.log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			result = multierror.Append(result, fmt.Errorf("webhooks[%d].url is required", i))
		} else if u, err := url.Parse(hook.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			result = multierror.Append(result, fmt.Errorf("webhooks[%d].url must be an http(s) URL: %q", i, hook.URL))
		}
		if hook.TimeoutSeconds < 0 {
			result = multierror.Append(result, fmt.Errorf("webhooks[%d].timeout_seconds must not be negative", i))
		}
		for _, evt := range hook.Events {
			if _, ok := validEventTypes[strings.TrimSpace(evt)]; !ok {
				result = multierror.Append(result, fmt.Errorf("webhooks[%d] has unknown event type %q", i, evt))
			}
		}
	}
	return result.ErrorOrNil()
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with agentline init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional falls back to Default when the config file does not exist.
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

// Default returns the parsed default template.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// FromYAML parses config over the defaults and validates it.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
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

const defaultTemplate = `server:
  addr: 127.0.0.1:8787
  base_path: /v0

sessions:
  ttl: 8h

kick:
  cli_path: claude
  cli_args: []

log:
  level: info

# webhooks:
#   - url: https://example.com/hooks/agentline
#     project: prj_...
#     events: [status_changed, assigned]
#     secret: change-me
`
