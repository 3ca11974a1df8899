package model

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/CZERTAINLY/genojob/internal/jobs"
)

// EnvPrefix is the prefix of environment variables overriding config keys,
// e.g. GENOJOB_JOBS_MAX_CONCURRENT for jobs.max_concurrent.
const EnvPrefix = "GENOJOB"

const (
	GinModeDebug   = "debug"
	GinModeRelease = "release"
	GinModeTest    = "test"
)

type Config struct {
	Service  Service            `mapstructure:"service" yaml:"service"`
	Server   Server             `mapstructure:"server" yaml:"server"`
	Jobs     Jobs               `mapstructure:"jobs" yaml:"jobs"`
	Commands map[string]Command `mapstructure:"commands" yaml:"commands,omitempty"`
}

type Service struct {
	Verbose bool `mapstructure:"verbose" yaml:"verbose"`
}

type Server struct {
	Addr    string `mapstructure:"addr" yaml:"addr"`
	GinMode string `mapstructure:"gin_mode" yaml:"gin_mode"`
}

type Jobs struct {
	MaxConcurrent int           `mapstructure:"max_concurrent"`
	GracePeriod   time.Duration `mapstructure:"grace_period"`
	Timeout       time.Duration `mapstructure:"timeout"`
	Retention     time.Duration `mapstructure:"retention"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	WorkDir       string        `mapstructure:"work_dir"`
}

// MarshalYAML writes durations in the "5s" form viper reads back.
func (j Jobs) MarshalYAML() (any, error) {
	return struct {
		MaxConcurrent int    `yaml:"max_concurrent"`
		GracePeriod   string `yaml:"grace_period"`
		Timeout       string `yaml:"timeout"`
		Retention     string `yaml:"retention"`
		SweepInterval string `yaml:"sweep_interval"`
		WorkDir       string `yaml:"work_dir"`
	}{
		MaxConcurrent: j.MaxConcurrent,
		GracePeriod:   j.GracePeriod.String(),
		Timeout:       j.Timeout.String(),
		Retention:     j.Retention.String(),
		SweepInterval: j.SweepInterval.String(),
		WorkDir:       j.WorkDir,
	}, nil
}

// Command overrides how a kind is executed. Path is an executable, Script an
// optional script passed to it as the first argument.
type Command struct {
	Path   string            `mapstructure:"path" yaml:"path"`
	Script string            `mapstructure:"script" yaml:"script,omitempty"`
	Args   []string          `mapstructure:"args" yaml:"args,omitempty"`
	Env    map[string]string `mapstructure:"env" yaml:"env,omitempty"`
}

// Environ returns the environment of the child: nil to inherit the current
// one, or the current one extended by Env. Values starting with $ are
// expanded, keys are upper cased.
func (c Command) Environ() []string {
	if len(c.Env) == 0 {
		return nil
	}
	env := os.Environ()
	keys := make([]string, 0, len(c.Env))
	for k := range c.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := c.Env[k]
		if strings.HasPrefix(v, "$") {
			v = os.ExpandEnv(v)
		}
		env = append(env, strings.ToUpper(k)+"="+v)
	}
	return env
}

// Target converts the command into a jobs.Target.
func (c Command) Target() jobs.Target {
	return jobs.Target{
		Path:   c.Path,
		Script: c.Script,
		Args:   c.Args,
		Env:    c.Environ(),
	}
}

func DefaultConfig() Config {
	return Config{
		Server: Server{
			Addr:    ":8080",
			GinMode: GinModeRelease,
		},
		Jobs: Jobs{
			MaxConcurrent: 4,
			GracePeriod:   jobs.DefaultGracePeriod,
			SweepInterval: jobs.DefaultSweepInterval,
		},
	}
}

// JobsConfig returns the settings of the job manager.
func (c Config) JobsConfig() jobs.Config {
	return jobs.Config{
		MaxConcurrent: c.Jobs.MaxConcurrent,
		GracePeriod:   c.Jobs.GracePeriod,
		Timeout:       c.Jobs.Timeout,
		Retention:     c.Jobs.Retention,
		SweepInterval: c.Jobs.SweepInterval,
		WorkDir:       c.Jobs.WorkDir,
	}
}

func (c Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr: must not be empty"))
	}
	switch c.Server.GinMode {
	case GinModeDebug, GinModeRelease, GinModeTest:
	default:
		errs = append(errs, fmt.Errorf("server.gin_mode: unknown mode %q", c.Server.GinMode))
	}
	if c.Jobs.MaxConcurrent < 0 {
		errs = append(errs, fmt.Errorf("jobs.max_concurrent: must not be negative, got %d", c.Jobs.MaxConcurrent))
	}
	for key, d := range map[string]time.Duration{
		"jobs.grace_period":   c.Jobs.GracePeriod,
		"jobs.timeout":        c.Jobs.Timeout,
		"jobs.retention":      c.Jobs.Retention,
		"jobs.sweep_interval": c.Jobs.SweepInterval,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s: must not be negative, got %s", key, d))
		}
	}
	for kind, cmd := range c.Commands {
		if cmd.Path == "" {
			errs = append(errs, fmt.Errorf("commands.%s.path: must not be empty", kind))
		}
	}
	return errors.Join(errs...)
}

// LoadConfig reads yaml config from r, nil r means defaults only. Any key can
// be overridden by a GENOJOB_ prefixed environment variable.
func LoadConfig(r io.Reader) (Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := DefaultConfig()
	v.SetDefault("service.verbose", def.Service.Verbose)
	v.SetDefault("server.addr", def.Server.Addr)
	v.SetDefault("server.gin_mode", def.Server.GinMode)
	v.SetDefault("jobs.max_concurrent", def.Jobs.MaxConcurrent)
	v.SetDefault("jobs.grace_period", def.Jobs.GracePeriod)
	v.SetDefault("jobs.timeout", def.Jobs.Timeout)
	v.SetDefault("jobs.retention", def.Jobs.Retention)
	v.SetDefault("jobs.sweep_interval", def.Jobs.SweepInterval)
	v.SetDefault("jobs.work_dir", def.Jobs.WorkDir)

	if r != nil {
		if err := v.ReadConfig(r); err != nil {
			return Config{}, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfigFile is LoadConfig of a file, defaults are used when path is empty.
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return LoadConfig(nil)
	}
	f, err := os.Open(path)
	if err != nil {
		return Config{}, err
	}
	defer f.Close()
	cfg, err := LoadConfig(f)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadEnvFiles loads variables from dotenv files into the process
// environment. Missing files are skipped, set variables are not overridden.
func LoadEnvFiles(paths ...string) error {
	for _, path := range paths {
		err := godotenv.Load(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return fmt.Errorf("loading %s: %w", path, err)
		}
	}
	return nil
}

// WriteConfig writes cfg as yaml.
func WriteConfig(w io.Writer, cfg Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return err
	}
	return enc.Close()
}
