// Package template generates starter sessiond configuration files.
package template

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/spf13/viper"
)

// TemplateType represents the type of template to generate
type TemplateType string

const (
	TypeDevelopment TemplateType = "development"
	TypeDev         TemplateType = "dev"
	TypePackaged    TemplateType = "packaged"
	TypeRelease     TemplateType = "release"
	TypeMinimal     TemplateType = "minimal"
)

// ProcessTemplate is one managed role in a generated config.
type ProcessTemplate struct {
	Name       string   `mapstructure:"name"`
	Script     string   `mapstructure:"script,omitempty"`
	Executable string   `mapstructure:"executable,omitempty"`
	Env        []string `mapstructure:"env,omitempty"`
}

// ConfigTemplate is a generated starter configuration.
type ConfigTemplate struct {
	Profile   string
	Port      int
	Settings  map[string]any // dotted keys, e.g. "readiness.timeout"
	Processes []ProcessTemplate
}

// Generator provides template generation functionality
type Generator struct{}

// NewGenerator creates a new template generator
func NewGenerator() *Generator {
	return &Generator{}
}

// Generate creates a config template of the given type.
func (g *Generator) Generate(templateType TemplateType) (*ConfigTemplate, error) {
	switch templateType {
	case TypeDevelopment, TypeDev:
		return g.developmentTemplate(), nil
	case TypePackaged, TypeRelease:
		return g.packagedTemplate(), nil
	case TypeMinimal:
		return g.minimalTemplate(), nil
	default:
		return nil, fmt.Errorf("unsupported template type: %s", templateType)
	}
}

// GetSupportedTypes returns the canonical template type names.
func (g *Generator) GetSupportedTypes() []string {
	out := []string{string(TypeDevelopment), string(TypePackaged), string(TypeMinimal)}
	sort.Strings(out)
	return out
}

// WriteTOML renders t to path. The file extension selects the format, so
// path should end in .toml.
func (g *Generator) WriteTOML(t *ConfigTemplate, path string) error {
	if filepath.Ext(path) != ".toml" {
		return fmt.Errorf("config path must end in .toml: %s", path)
	}
	v := viper.New()
	v.Set("profile", t.Profile)
	v.Set("port", t.Port)
	for k, val := range t.Settings {
		v.Set(k, val)
	}
	procs := make([]map[string]any, 0, len(t.Processes))
	for _, p := range t.Processes {
		m := map[string]any{"name": p.Name}
		if p.Script != "" {
			m["script"] = p.Script
		}
		if p.Executable != "" {
			m["executable"] = p.Executable
		}
		if len(p.Env) > 0 {
			m["env"] = p.Env
		}
		procs = append(procs, m)
	}
	v.Set("processes", procs)
	return v.WriteConfigAs(path)
}

func defaultProcesses() []ProcessTemplate {
	return []ProcessTemplate{
		{Name: "api", Script: "api_main.py", Executable: "salestroopz-api"},
		{Name: "runner", Script: "worker_main.py", Executable: "salestroopz-runner", Env: []string{"SALESTROOPZ_RUNNER_POLL=0.5"}},
	}
}

func (g *Generator) developmentTemplate() *ConfigTemplate {
	return &ConfigTemplate{
		Profile: string(TypeDevelopment),
		Port:    8715,
		Settings: map[string]any{
			"env":                     []string{"SALESTROOPZ_LOG_LEVEL=debug"},
			"log.level":               "debug",
			"log.color":               true,
			"development.interpreter": "python3",
			"development.work_dir":    "agent",
			"readiness.timeout":       "30s",
			"restart.delay":           "1s",
			"control.listen":          "127.0.0.1:8716",
		},
		Processes: defaultProcesses(),
	}
}

func (g *Generator) packagedTemplate() *ConfigTemplate {
	return &ConfigTemplate{
		Profile: string(TypePackaged),
		Port:    8715,
		Settings: map[string]any{
			"env":               []string{"SALESTROOPZ_LOG_LEVEL=info"},
			"data_dir":          "data",
			"log.level":         "info",
			"log.format":        "json",
			"log.file":          "data/logs/sessiond.log",
			"child_log.dir":     "data/logs",
			"history.dsn":       "sqlite://data/history.db",
			"packaged.bin_dir":  "bin",
			"readiness.timeout": "30s",
			"restart.delay":     "1s",
			"control.listen":    "127.0.0.1:8716",
		},
		Processes: defaultProcesses(),
	}
}

func (g *Generator) minimalTemplate() *ConfigTemplate {
	return &ConfigTemplate{
		Profile:   string(TypeDevelopment),
		Port:      8715,
		Settings:  map[string]any{},
		Processes: []ProcessTemplate{{Name: "api", Script: "api_main.py", Executable: "salestroopz-api"}},
	}
}
