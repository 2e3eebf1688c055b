package quickjs

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"
)

// Config is the file form of the runtime options.
//
//	[runtime]
//	evaluator = "goja"
//	execute-timeout = 5
//	memory-limit = 67108864
//
//	[modules]
//	import = true
//
//	[log]
//	level = "debug"
type Config struct {
	Runtime RuntimeConfig `toml:"runtime"`
	Modules ModulesConfig `toml:"modules"`
	Log     LogConfig     `toml:"log"`
}

// RuntimeConfig holds the engine limits.
type RuntimeConfig struct {
	Evaluator      string `toml:"evaluator"`
	ExecuteTimeout uint64 `toml:"execute-timeout"` // seconds
	MemoryLimit    uint64 `toml:"memory-limit"`    // bytes
	GCThreshold    int64  `toml:"gc-threshold"`
	MaxStackSize   uint64 `toml:"max-stack-size"`
	StripSource    bool   `toml:"strip-source"`
	StripDebug     bool   `toml:"strip-debug"`
}

// ModulesConfig configures module loading.
type ModulesConfig struct {
	Import bool `toml:"import"`
}

// LogConfig selects the diagnostics logger. An empty level keeps logging disabled.
type LogConfig struct {
	Level string `toml:"level"`
}

// ParseConfig parses a TOML configuration.
func ParseConfig(data []byte) (*Config, error) {
	var c Config
	if err := toml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("quickjs: parse config: %w", err)
	}
	return &c, nil
}

// LoadConfigFile reads and parses a TOML configuration file.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("quickjs: cannot read %s: %w", path, err)
	}
	c, err := ParseConfig(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Options converts the configuration into runtime options.
func (c *Config) Options() ([]Option, error) {
	var opts []Option
	rc := c.Runtime
	if rc.Evaluator != "" {
		name := EvaluatorName(rc.Evaluator)
		known := false
		for _, n := range Evaluators() {
			known = known || n == name
		}
		if !known {
			return nil, fmt.Errorf("quickjs: unknown evaluator %q", rc.Evaluator)
		}
		opts = append(opts, WithEvaluator(name))
	}
	if rc.ExecuteTimeout > 0 {
		opts = append(opts, WithExecuteTimeout(rc.ExecuteTimeout))
	}
	if rc.MemoryLimit > 0 {
		opts = append(opts, WithMemoryLimit(rc.MemoryLimit))
	}
	if rc.GCThreshold != 0 {
		opts = append(opts, WithGCThreshold(rc.GCThreshold))
	}
	if rc.MaxStackSize > 0 {
		opts = append(opts, WithMaxStackSize(rc.MaxStackSize))
	}
	strip := 0
	if rc.StripSource {
		strip |= StripSource
	}
	if rc.StripDebug {
		strip |= StripDebug
	}
	if strip != 0 {
		opts = append(opts, WithStripInfo(strip))
	}
	if c.Modules.Import {
		opts = append(opts, WithModuleImport(true))
	}
	if c.Log.Level != "" {
		level, err := zap.ParseAtomicLevel(c.Log.Level)
		if err != nil {
			return nil, fmt.Errorf("quickjs: log level: %w", err)
		}
		cfg := zap.NewProductionConfig()
		cfg.Level = level
		logger, err := cfg.Build()
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithLogger(logger))
	}
	return opts, nil
}
