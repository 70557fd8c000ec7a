// Package config loads gatesmith's YAML configuration.
//
// Values are layered: Default, then the YAML file, then GATESMITH_*
// environment variables. Command-line flags are applied by the caller on
// top of the result. Validate runs last.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"gatesmith/internal/evo"
	"gatesmith/internal/goal"
	"gatesmith/internal/storage"
)

// MaxGoalInputs bounds custom truth tables to 1024 rows.
const MaxGoalInputs = 10

var ErrInvalid = errors.New("invalid config")

type Config struct {
	Library LibraryConfig `yaml:"library"`
	Engine  EngineConfig  `yaml:"engine"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Goals   []GoalConfig  `yaml:"goals" validate:"unique=Name,dive"`
}

type LibraryConfig struct {
	Backend string `yaml:"backend" validate:"oneof=files memory badger sqlite"`
	Path    string `yaml:"path"`
}

type EngineConfig struct {
	Seed           int64  `yaml:"seed"`
	Parallel       bool   `yaml:"parallel"`
	Selection      string `yaml:"selection" validate:"selector"`
	RunScopedIDs   bool   `yaml:"run_scoped_ids"`
	ProgressEvery  int    `yaml:"progress_every" validate:"gte=0"`
	MaxGenerations int    `yaml:"max_generations" validate:"gte=0"`
}

type LoggingConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	JSON  bool   `yaml:"json"`
	Dir   string `yaml:"dir"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr" validate:"omitempty,listenaddr"`
}

// GoalConfig declares a truth-table goal. Outputs are listed in binary
// counting order of the inputs, input 0 most significant.
type GoalConfig struct {
	Name        string `yaml:"name" validate:"required"`
	Description string `yaml:"description"`
	Complexity  int    `yaml:"complexity" validate:"min=1,max=100"`
	Inputs      int    `yaml:"inputs" validate:"min=1,max=10"`
	Outputs     []int  `yaml:"outputs" validate:"required,dive,oneof=0 1"`
}

var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = validate.RegisterValidation("selector", validateSelector)
	_ = validate.RegisterValidation("listenaddr", validateListenAddr)
	validate.RegisterStructValidation(validateGoalRows, GoalConfig{})
}

func validateSelector(fl validator.FieldLevel) bool {
	_, err := evo.SelectorFromName(fl.Field().String())
	return err == nil
}

func validateListenAddr(fl validator.FieldLevel) bool {
	_, port, err := net.SplitHostPort(fl.Field().String())
	if err != nil {
		return false
	}
	n, err := strconv.Atoi(port)
	return err == nil && n >= 0 && n <= 65535
}

func validateGoalRows(sl validator.StructLevel) {
	g := sl.Current().Interface().(GoalConfig)
	if g.Inputs < 1 || g.Inputs > MaxGoalInputs || len(g.Outputs) == 0 {
		return
	}
	if len(g.Outputs) != 1<<g.Inputs {
		sl.ReportError(g.Outputs, "outputs", "Outputs", "rows", strconv.Itoa(1<<g.Inputs))
	}
}

func Default() Config {
	return Config{
		Library: LibraryConfig{
			Backend: storage.DefaultStoreKind(),
			Path:    "evolution_db",
		},
		Engine: EngineConfig{
			Selection:     evo.DefaultSelectorName,
			ProgressEvery: 100,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads path, layers it over Default and the environment, and
// validates the result. An empty path yields the defaults.
func Load(path string) (Config, error) {
	if path == "" {
		cfg := Default()
		ApplyEnv(&cfg)
		if err := cfg.Validate(); err != nil {
			return Config{}, err
		}
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	ApplyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes YAML over Default and validates it. Unknown keys are
// rejected.
func Parse(data []byte) (Config, error) {
	cfg, err := parse(data)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

// applyDefaults refills fields a file set to empty.
func (c *Config) applyDefaults() {
	def := Default()
	if strings.TrimSpace(c.Library.Backend) == "" {
		c.Library.Backend = def.Library.Backend
	}
	c.Library.Backend = strings.ToLower(strings.TrimSpace(c.Library.Backend))
	if c.Library.Path == "" && c.Library.Backend != storage.KindMemory {
		c.Library.Path = def.Library.Path
	}
	if strings.TrimSpace(c.Engine.Selection) == "" {
		c.Engine.Selection = def.Engine.Selection
	}
	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
}

// ApplyEnv overrides cfg from GATESMITH_* variables. Unparseable numbers
// are ignored.
func ApplyEnv(cfg *Config) {
	if v := os.Getenv("GATESMITH_LIBRARY_BACKEND"); v != "" {
		cfg.Library.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("GATESMITH_LIBRARY_PATH"); v != "" {
		cfg.Library.Path = v
	}
	if v := os.Getenv("GATESMITH_SEED"); v != "" {
		if seed, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Engine.Seed = seed
		}
	}
	if v := os.Getenv("GATESMITH_SELECTION"); v != "" {
		cfg.Engine.Selection = v
	}
	if v := os.Getenv("GATESMITH_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("GATESMITH_METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
}

func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		if c.Library.Backend != storage.KindMemory && strings.TrimSpace(c.Library.Path) == "" {
			return fmt.Errorf("%w: library.path is required for backend %s", ErrInvalid, c.Library.Backend)
		}
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describe(fe))
	}
	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
}

func describe(fe validator.FieldError) string {
	field := fe.Namespace()
	if _, rest, ok := strings.Cut(field, "."); ok {
		field = rest
	}
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %v", field, fe.Param(), fe.Value())
	case "selector":
		return fmt.Sprintf("%s: unknown selection %q (known: %s)", field, fe.Value(), strings.Join(evo.ListSelectors(), ", "))
	case "listenaddr":
		return fmt.Sprintf("%s: %q is not a host:port address", field, fe.Value())
	case "rows":
		return fmt.Sprintf("%s must have %s entries, got %d", field, fe.Param(), reflect.ValueOf(fe.Value()).Len())
	case "unique":
		return field + " contains duplicate goal names"
	default:
		return fmt.Sprintf("%s failed %s=%s", field, fe.Tag(), fe.Param())
	}
}

// RegisterGoals adds every configured goal to registry.
func (c Config) RegisterGoals(registry *goal.Registry) error {
	for _, gc := range c.Goals {
		g, err := gc.Build()
		if err != nil {
			return err
		}
		if err := registry.Register(g); err != nil {
			return fmt.Errorf("register goal %s: %w", gc.Name, err)
		}
	}
	return nil
}

func (gc GoalConfig) Build() (*goal.TruthTable, error) {
	outputs := make([]bool, len(gc.Outputs))
	for i, v := range gc.Outputs {
		outputs[i] = v == 1
	}
	return goal.FromOutputs(gc.Name, gc.Description, gc.Complexity, gc.Inputs, outputs)
}
