package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/haukened/cmdblock/internal/cmdblock/common/log"
)

// ErrInvalidConfig wraps every failure to produce a usable configuration.
var ErrInvalidConfig = errors.New("invalid configuration")

// EnvPrefix is the prefix of environment overrides, e.g. CBU_RESOLVE_ALIASES.
const EnvPrefix = "CBU_"

// AppConfig holds the blocker settings. Keys mirror the YAML paths of the
// plugin configuration file.
type AppConfig struct {
	// TargetCommands are the command names to block, without leading slash.
	TargetCommands []string `koanf:"target-commands" validate:"dive,command_name"`

	// BypassPermission exempts a sender from blocking.
	BypassPermission string `koanf:"bypass-permission" validate:"required"`

	ShowErrorMessage    bool   `koanf:"show-error-message"`
	ShowTabErrorMessage bool   `koanf:"show-tab-error-message"`
	ErrorMessage        string `koanf:"error-message"`

	// PreventTab and TabRestrictiveMode are consumed by tab-completion
	// interception on the host side; matching ignores them.
	PreventTab         bool `koanf:"prevent-tab"`
	TabRestrictiveMode bool `koanf:"tab-restrictive-mode"`

	NotifyBypass    bool   `koanf:"notify-bypass"`
	BypassMessage   string `koanf:"bypass-message"`
	TabErrorMessage string `koanf:"tab-error-message"`

	// ResolveAliases blocks every known alias of a target, not just its literal name.
	ResolveAliases bool `koanf:"resolve-aliases"`

	// Env is the runtime environment, either "dev" or "prod".
	Env string `koanf:"env" validate:"required,oneof=dev prod"`

	// LogLevel controls log verbosity: "debug", "info", "warn", or "error".
	LogLevel string `koanf:"log-level" validate:"required,oneof=debug info warn error"`

	// AliasDir holds alias definition files. Empty disables the file source.
	AliasDir string `koanf:"alias-dir"`

	// StateDB is the bolt database persisting administrative edits.
	StateDB string `koanf:"state-db" validate:"required"`

	// RefreshInterval schedules periodic alias resolution; 0 disables it.
	RefreshInterval time.Duration `koanf:"refresh-interval" validate:"gte=0s"`

	AliasCacheSize int     `koanf:"alias-cache-size" validate:"gte=0"`
	BloomFPRate    float64 `koanf:"bloom-fp-rate" validate:"gt=0,lt=1"`

	// HTTPListen is the admin API address; empty disables the API.
	HTTPListen string `koanf:"http-listen" validate:"omitempty,hostname_port"`
}

// DEFAULT_APP_CONFIG matches the defaults the plugin ships with.
var DEFAULT_APP_CONFIG = AppConfig{
	TargetCommands:      []string{"help", "plugins", "version"},
	BypassPermission:    "cmdblock.bypass",
	ShowErrorMessage:    true,
	ShowTabErrorMessage: false,
	ErrorMessage:        "&cYou are not permitted to execute this command.",
	PreventTab:          true,
	TabRestrictiveMode:  false,
	NotifyBypass:        false,
	BypassMessage:       "&c[CBU] This command is blocked. Executing anyways since you have permission.",
	TabErrorMessage:     "&cI am sorry, but I cannot let you do this, Dave.",
	ResolveAliases:      true,
	Env:                 "prod",
	LogLevel:            "info",
	AliasDir:            "/etc/cmdblock/aliases.d/",
	StateDB:             "/var/lib/cmdblock/targets.db",
	RefreshInterval:     5 * time.Minute,
	AliasCacheSize:      512,
	BloomFPRate:         0.01,
	HTTPListen:          "127.0.0.1:8089",
}

// Defaults returns a copy of DEFAULT_APP_CONFIG.
func Defaults() *AppConfig {
	cfg := DEFAULT_APP_CONFIG
	cfg.TargetCommands = append([]string(nil), DEFAULT_APP_CONFIG.TargetCommands...)
	return &cfg
}

// listKeys are split on commas and spaces when read from the environment.
var listKeys = map[string]bool{
	"target-commands": true,
}

// validCommandName rejects empty names, whitespace and a leading slash.
func validCommandName(fl validator.FieldLevel) bool {
	name := fl.Field().String()
	if name == "" || strings.HasPrefix(name, "/") {
		return false
	}
	return strings.IndexFunc(name, unicode.IsSpace) < 0
}

// envLoader loads CBU_* variables, mapping CBU_TARGET_COMMANDS to
// "target-commands". It can be replaced in tests.
var envLoader = func(k *koanf.Koanf) error {
	return k.Load(env.Provider(".", env.Opt{
		Prefix: EnvPrefix,
		TransformFunc: func(key, value string) (string, any) {
			key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
			key = strings.ReplaceAll(key, "_", "-")
			value = strings.TrimSpace(value)

			if listKeys[key] {
				return key, strings.FieldsFunc(value, func(r rune) bool {
					return r == ' ' || r == ','
				})
			}
			return key, value
		},
	}), nil)
}

// defaultLoader loads DEFAULT_APP_CONFIG through the structs provider.
var defaultLoader = func(k *koanf.Koanf) error {
	return k.Load(structs.Provider(DEFAULT_APP_CONFIG, "koanf"), nil)
}

// fileLoader loads the YAML configuration file at path. A missing file is
// not an error: defaults and environment still apply.
var fileLoader = func(k *koanf.Koanf, path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return k.Load(file.Provider(path), yaml.Parser())
}

// registerValidation registers the custom "command_name" tag.
var registerValidation = func(v *validator.Validate) error {
	return v.RegisterValidation("command_name", validCommandName)
}

// Load layers defaults, the YAML file at path (optional) and CBU_*
// environment variables, then validates the result. Every failure wraps
// ErrInvalidConfig.
func Load(path string) (*AppConfig, error) {
	k := koanf.New(".")

	if err := defaultLoader(k); err != nil {
		return nil, fmt.Errorf("%w: error loading default config: %w", ErrInvalidConfig, err)
	}

	if err := fileLoader(k, path); err != nil {
		return nil, fmt.Errorf("%w: error loading %s: %w", ErrInvalidConfig, path, err)
	}

	if err := envLoader(k); err != nil {
		return nil, fmt.Errorf("%w: error loading env: %w", ErrInvalidConfig, err)
	}

	var cfg AppConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("%w: error unmarshalling config: %w", ErrInvalidConfig, err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := registerValidation(validate); err != nil {
		return nil, fmt.Errorf("%w: error registering validation: %w", ErrInvalidConfig, err)
	}
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("%w: validation failed: %w", ErrInvalidConfig, err)
	}

	return &cfg, nil
}

// TryLoad is Load for callers that must keep running on a broken file. On
// failure it logs remediation guidance and returns ok=false with the built-in
// defaults. Environment overrides still apply on top of the defaults unless
// they are the invalid part.
func TryLoad(path string, logger log.Logger) (cfg *AppConfig, ok bool) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, true
	}
	logger = log.OrNoop(logger)
	logger.Warn(map[string]any{"path": path, "error": err}, "Could not load configuration file")
	logger.Warn(map[string]any{"path": path}, "Please double-check the YAML syntax and the values listed in the error above")
	logger.Warn(nil, "Blocking will run with built-in defaults and will not match what you configured until the file is fixed")

	if path != "" {
		if cfg, err := Load(""); err == nil {
			return cfg, false
		}
	}
	return Defaults(), false
}
