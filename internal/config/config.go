// Package config loads sessiond settings from an optional TOML file,
// SESSIOND_* environment variables and built-in defaults, in that order of
// precedence (environment wins).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/salestroopz/sessiond/internal/env"
	"github.com/salestroopz/sessiond/internal/logger"
	"github.com/salestroopz/sessiond/internal/probe"
	"github.com/salestroopz/sessiond/internal/process"
)

// EnvPrefix is the prefix of environment overrides, e.g. SESSIOND_PORT.
const EnvPrefix = "SESSIOND"

// Profile selects how managed processes are located.
type Profile string

const (
	// ProfileDevelopment runs scripts through an interpreter from a source tree.
	ProfileDevelopment Profile = "development"
	// ProfilePackaged runs bundled executables from the install directory.
	ProfilePackaged Profile = "packaged"
)

type Config struct {
	Profile Profile `mapstructure:"profile"`
	// Port is the API port shared with every managed process via PortEnv.
	Port    int    `mapstructure:"port"`
	PortEnv string `mapstructure:"port_env"`
	// Session-wide overlay: OS env (when enabled), then env_files, then env.
	Env      []string `mapstructure:"env"`
	EnvFiles []string `mapstructure:"env_files"`
	UseOSEnv bool     `mapstructure:"use_os_env"`
	DataDir  string   `mapstructure:"data_dir"`

	Log         logger.Config     `mapstructure:"log"`
	ChildLog    logger.FileConfig `mapstructure:"child_log"`
	Readiness   Readiness         `mapstructure:"readiness"`
	Restart     Restart           `mapstructure:"restart"`
	Control     Control           `mapstructure:"control"`
	History     History           `mapstructure:"history"`
	Development Development       `mapstructure:"development"`
	Packaged    Packaged          `mapstructure:"packaged"`
	Processes   []ProcConfig      `mapstructure:"processes"`

	baseDir string // relative paths resolve against the config file's dir
}

type Readiness struct {
	Host      string        `mapstructure:"host"`
	Path      string        `mapstructure:"path"`
	Timeout   time.Duration `mapstructure:"timeout"`
	Interval  time.Duration `mapstructure:"interval"`
	ExtraURLs []string      `mapstructure:"extra_urls"`
}

// URL returns the primary health endpoint for port.
func (r Readiness) URL(port int) string {
	return "http://" + r.Host + ":" + strconv.Itoa(port) + r.Path
}

type Restart struct {
	Delay           time.Duration `mapstructure:"delay"`
	StopWait        time.Duration `mapstructure:"stop_wait"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Control is the local HTTP control surface. Empty Listen disables it.
type Control struct {
	Listen    string `mapstructure:"listen"`
	Metrics   bool   `mapstructure:"metrics"`
	Resources bool   `mapstructure:"resources"`
}

// History selects a lifecycle history sink by DSN; empty disables it.
type History struct {
	DSN string `mapstructure:"dsn"`
}

type Development struct {
	Interpreter string `mapstructure:"interpreter"`
	WorkDir     string `mapstructure:"work_dir"`
}

type Packaged struct {
	// InstallDir defaults to the directory holding the sessiond binary.
	InstallDir string `mapstructure:"install_dir"`
	BinDir     string `mapstructure:"bin_dir"`
}

// ProcConfig is one managed role. Script is used in development,
// Executable in packaged mode.
type ProcConfig struct {
	Name       string             `mapstructure:"name"`
	Script     string             `mapstructure:"script"`
	Executable string             `mapstructure:"executable"`
	Args       []string           `mapstructure:"args"`
	Env        []string           `mapstructure:"env"`
	PIDFile    string             `mapstructure:"pid_file"`
	Log        *logger.FileConfig `mapstructure:"log"`
}

// DefaultProcesses is the reference deployment: the API and the job runner.
func DefaultProcesses() []ProcConfig {
	return []ProcConfig{
		{Name: "api", Script: "api_main.py", Executable: "salestroopz-api"},
		{Name: "runner", Script: "worker_main.py", Executable: "salestroopz-runner", Env: []string{"SALESTROOPZ_RUNNER_POLL=0.5"}},
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("profile", string(ProfileDevelopment))
	v.SetDefault("port", 8715)
	v.SetDefault("port_env", "SALESTROOPZ_API_PORT")
	v.SetDefault("env", []string{"SALESTROOPZ_LOG_LEVEL=info"})
	v.SetDefault("env_files", []string{})
	v.SetDefault("use_os_env", true)
	v.SetDefault("data_dir", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", string(logger.FormatText))
	v.SetDefault("log.color", false)
	v.SetDefault("log.file", "")
	v.SetDefault("child_log.dir", "")

	v.SetDefault("readiness.host", "127.0.0.1")
	v.SetDefault("readiness.path", "/health")
	v.SetDefault("readiness.timeout", "30s")
	v.SetDefault("readiness.interval", probe.DefaultInterval.String())
	v.SetDefault("readiness.extra_urls", []string{})

	v.SetDefault("restart.delay", "1s")
	v.SetDefault("restart.stop_wait", "5s")
	v.SetDefault("restart.shutdown_timeout", "30s")

	v.SetDefault("control.listen", "127.0.0.1:8716")
	v.SetDefault("control.metrics", true)
	v.SetDefault("control.resources", true)

	v.SetDefault("history.dsn", "")

	interp := "python3"
	if runtime.GOOS == "windows" {
		interp = "python"
	}
	v.SetDefault("development.interpreter", interp)
	v.SetDefault("development.work_dir", "agent")
	v.SetDefault("packaged.install_dir", "")
	v.SetDefault("packaged.bin_dir", "bin")
}

// Load reads path (optional) and applies SESSIOND_* overrides and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	base, _ := os.Getwd()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if abs, err := filepath.Abs(path); err == nil {
			base = filepath.Dir(abs)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	c.baseDir = base
	if len(c.Processes) == 0 {
		c.Processes = DefaultProcesses()
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks the settings that would otherwise fail late.
func (c *Config) Validate() error {
	var errs []error
	switch c.Profile {
	case ProfileDevelopment, ProfilePackaged:
	default:
		errs = append(errs, fmt.Errorf("unknown profile %q", c.Profile))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if strings.TrimSpace(c.PortEnv) == "" {
		errs = append(errs, errors.New("port_env is required"))
	}
	if c.Readiness.Timeout <= 0 {
		errs = append(errs, errors.New("readiness.timeout must be positive"))
	}
	if c.Readiness.Interval <= 0 {
		errs = append(errs, errors.New("readiness.interval must be positive"))
	}
	if c.Restart.Delay <= 0 {
		errs = append(errs, errors.New("restart.delay must be positive"))
	}
	seen := make(map[string]bool, len(c.Processes))
	for _, p := range c.Processes {
		if p.Name == "" {
			errs = append(errs, errors.New("process requires name"))
			continue
		}
		if seen[p.Name] {
			errs = append(errs, fmt.Errorf("duplicate process %s", p.Name))
		}
		seen[p.Name] = true
		if c.Profile == ProfileDevelopment && p.Script == "" {
			errs = append(errs, fmt.Errorf("process %s: script is required in development profile", p.Name))
		}
		if c.Profile == ProfilePackaged && p.Executable == "" {
			errs = append(errs, fmt.Errorf("process %s: executable is required in packaged profile", p.Name))
		}
	}
	return errors.Join(errs...)
}

// SharedEnv returns the session-wide overlay: env_files, then env, then
// the shared port variable, later entries winning.
func (c *Config) SharedEnv() ([]string, error) {
	o := make(env.Overlay)
	for _, p := range c.EnvFiles {
		pairs, err := LoadEnvFile(c.resolve(p))
		if err != nil {
			return nil, fmt.Errorf("env file %s: %w", p, err)
		}
		for k, v := range env.ParseOverlay(pairs) {
			o[k] = v
		}
	}
	for k, v := range env.ParseOverlay(c.Env) {
		o[k] = v
	}
	o[c.PortEnv] = strconv.Itoa(c.Port)
	return o.Pairs(), nil
}

// NewEnv builds the launcher environment from SharedEnv and, when enabled,
// the caller's own environment.
func (c *Config) NewEnv() (*env.Env, error) {
	pairs, err := c.SharedEnv()
	if err != nil {
		return nil, err
	}
	e := env.New()
	if c.UseOSEnv {
		e.FromOS()
	}
	for k, v := range env.ParseOverlay(pairs) {
		e.Set(k, v)
	}
	return e, nil
}

// Specs resolves the configured processes for the active profile.
func (c *Config) Specs() ([]process.Spec, error) {
	out := make([]process.Spec, 0, len(c.Processes))
	for _, pc := range c.Processes {
		s := process.Spec{
			Name:    pc.Name,
			Env:     append([]string(nil), pc.Env...),
			PIDFile: pc.PIDFile,
			Log:     c.childLog(pc.Log),
		}
		switch c.Profile {
		case ProfilePackaged:
			dir, err := c.installDir()
			if err != nil {
				return nil, err
			}
			exe := pc.Executable
			if runtime.GOOS == "windows" && filepath.Ext(exe) == "" {
				exe += ".exe"
			}
			if !filepath.IsAbs(exe) {
				exe = filepath.Join(dir, c.Packaged.BinDir, exe)
			}
			s.Command = exe
			s.Args = append([]string(nil), pc.Args...)
			s.WorkDir = dir
		default:
			s.Command = c.Development.Interpreter
			s.Args = append([]string{pc.Script}, pc.Args...)
			s.WorkDir = c.resolve(c.Development.WorkDir)
		}
		if s.PIDFile == "" && c.DataDir != "" {
			s.PIDFile = filepath.Join(c.resolve(c.DataDir), "run", pc.Name+".pid")
		}
		out = append(out, s)
	}
	return out, nil
}

// PrimaryTarget is the readiness gate for the UI.
func (c *Config) PrimaryTarget() probe.Target {
	return probe.Target{Name: "api", URL: c.Readiness.URL(c.Port), Deadline: c.Readiness.Timeout}
}

// SecondaryTargets are optional extra endpoints awaited alongside the primary.
func (c *Config) SecondaryTargets() []probe.Target {
	out := make([]probe.Target, 0, len(c.Readiness.ExtraURLs))
	for _, u := range c.Readiness.ExtraURLs {
		out = append(out, probe.Target{URL: u, Deadline: c.Readiness.Timeout})
	}
	return out
}

// childLog merges the session-wide capture settings with a per-process override.
func (c *Config) childLog(over *logger.FileConfig) logger.FileConfig {
	lc := c.ChildLog
	if lc.Dir != "" {
		lc.Dir = c.resolve(lc.Dir)
	}
	if over == nil {
		return lc
	}
	if over.Dir != "" {
		lc.Dir = c.resolve(over.Dir)
	}
	if over.StdoutPath != "" {
		lc.StdoutPath = over.StdoutPath
	}
	if over.StderrPath != "" {
		lc.StderrPath = over.StderrPath
	}
	if over.MaxSizeMB != 0 {
		lc.MaxSizeMB = over.MaxSizeMB
	}
	if over.MaxBackups != 0 {
		lc.MaxBackups = over.MaxBackups
	}
	if over.MaxAgeDays != 0 {
		lc.MaxAgeDays = over.MaxAgeDays
	}
	if over.Compress {
		lc.Compress = true
	}
	return lc
}

func (c *Config) installDir() (string, error) {
	if c.Packaged.InstallDir != "" {
		return c.resolve(c.Packaged.InstallDir), nil
	}
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("locate install dir: %w", err)
	}
	return filepath.Dir(exe), nil
}

func (c *Config) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || c.baseDir == "" {
		return p
	}
	return filepath.Join(c.baseDir, p)
}

// LoadEnvFile parses a simple .env file and returns "KEY=VALUE" entries.
// Blank lines and lines starting with # are ignored.
func LoadEnvFile(path string) ([]string, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	var out []string
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if k, v, ok := strings.Cut(line, "="); ok {
			out = append(out, strings.TrimSpace(k)+"="+strings.TrimSpace(v))
		}
	}
	return out, nil
}
