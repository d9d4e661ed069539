// Package instrument holds the tradable-symbol reference data: lot and
// tick constraints, quantity bounds and the commission model the sim
// venue charges. The registry hot-reloads its YAML file; a broken edit
// keeps the previous snapshot live.
package instrument

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"tradecore/internal/logger"
	"tradecore/internal/order"
)

// Instrument describes one tradable symbol.
type Instrument struct {
	Symbol      string     `yaml:"symbol" json:"symbol"`
	LotSize     float64    `yaml:"lot_size" json:"lot_size"`
	TickSize    float64    `yaml:"tick_size" json:"tick_size"`
	MinQuantity float64    `yaml:"min_quantity" json:"min_quantity"`
	MaxQuantity float64    `yaml:"max_quantity" json:"max_quantity"`
	Halted      bool       `yaml:"halted" json:"halted"`
	Commission  Commission `yaml:"commission" json:"commission"`
}

// Commission is the venue charge model: per-share rate with a floor.
type Commission struct {
	PerShare float64 `yaml:"per_share" json:"per_share"`
	Minimum  float64 `yaml:"minimum" json:"minimum"`
}

// For returns the charge for one execution of qty shares.
func (c Commission) For(qty float64) float64 {
	fee := decimal.NewFromFloat(qty).Mul(decimal.NewFromFloat(c.PerShare))
	if floor := decimal.NewFromFloat(c.Minimum); fee.Cmp(floor) < 0 {
		fee = floor
	}
	return fee.InexactFloat64()
}

// FileConfig maps the registry YAML document.
type FileConfig struct {
	Instruments []Instrument `yaml:"instruments"`
}

// Snapshot is an immutable view of the registry. Version increments on
// every successful reload.
type Snapshot struct {
	Version     int64
	LoadedAt    time.Time
	Instruments map[string]Instrument
}

// ChangeListener fires after a successful hot reload.
type ChangeListener func(Snapshot)

type Registry struct {
	path string
	v    *viper.Viper

	schema *jsonschema.Schema

	mu        sync.RWMutex
	snapshot  Snapshot
	listeners []ChangeListener
}

// NewRegistry loads the file and starts watching it for edits.
func NewRegistry(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("instrument registry requires path")
	}
	schema, err := compileSchema()
	if err != nil {
		return nil, fmt.Errorf("compile instrument schema: %w", err)
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read instrument config: %w", err)
	}
	r := &Registry{path: path, v: v, schema: schema}
	if err := r.reload(); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := r.reload(); err != nil {
			logger.Errorf("[instrument] reload failed, keeping previous snapshot: %v", err)
			return
		}
		r.notifyListeners()
	})
	v.WatchConfig()
	return r, nil
}

// Snapshot returns a copy of the current instrument set.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneSnapshot(r.snapshot)
}

// Instrument looks one symbol up, case-insensitive.
func (r *Registry) Instrument(symbol string) (Instrument, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ins, ok := r.snapshot.Instruments[strings.ToUpper(strings.TrimSpace(symbol))]
	return ins, ok
}

// OnChange registers a hot-reload listener.
func (r *Registry) OnChange(fn ChangeListener) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

// CheckOrder validates a submission against the symbol's constraints.
// The execution engine calls it before anything reaches a gateway.
func (r *Registry) CheckOrder(o order.Order) error {
	sym := strings.ToUpper(strings.TrimSpace(o.Symbol))
	ins, ok := r.Instrument(sym)
	if !ok {
		return fmt.Errorf("unknown instrument %s", sym)
	}
	if ins.Halted {
		return fmt.Errorf("instrument %s is halted", sym)
	}
	qty := decimal.NewFromFloat(o.Quantity)
	if ins.MinQuantity > 0 && qty.Cmp(decimal.NewFromFloat(ins.MinQuantity)) < 0 {
		return fmt.Errorf("quantity %v below minimum %v for %s", o.Quantity, ins.MinQuantity, sym)
	}
	if ins.MaxQuantity > 0 && qty.Cmp(decimal.NewFromFloat(ins.MaxQuantity)) > 0 {
		return fmt.Errorf("quantity %v above maximum %v for %s", o.Quantity, ins.MaxQuantity, sym)
	}
	if ins.LotSize > 0 && !qty.Mod(decimal.NewFromFloat(ins.LotSize)).IsZero() {
		return fmt.Errorf("quantity %v not a multiple of lot size %v for %s", o.Quantity, ins.LotSize, sym)
	}
	if o.Kind == order.KindLimit && ins.TickSize > 0 {
		price := decimal.NewFromFloat(o.LimitPrice)
		if !price.Mod(decimal.NewFromFloat(ins.TickSize)).IsZero() {
			return fmt.Errorf("limit price %v not a multiple of tick size %v for %s", o.LimitPrice, ins.TickSize, sym)
		}
	}
	return nil
}

func (r *Registry) reload() error {
	cfg, err := readInstrumentFile(r.path, r.schema)
	if err != nil {
		return err
	}
	instruments := make(map[string]Instrument, len(cfg.Instruments))
	for _, ins := range cfg.Instruments {
		sym := strings.ToUpper(strings.TrimSpace(ins.Symbol))
		if _, dup := instruments[sym]; dup {
			return fmt.Errorf("duplicate instrument %s", sym)
		}
		ins.Symbol = sym
		instruments[sym] = ins
	}
	r.mu.Lock()
	r.snapshot = Snapshot{
		Version:     r.snapshot.Version + 1,
		LoadedAt:    time.Now(),
		Instruments: instruments,
	}
	r.mu.Unlock()
	logger.Infof("[instrument] loaded %d instruments from %s", len(instruments), filepath.Base(r.path))
	return nil
}

func (r *Registry) notifyListeners() {
	r.mu.RLock()
	snap := cloneSnapshot(r.snapshot)
	listeners := append([]ChangeListener(nil), r.listeners...)
	r.mu.RUnlock()
	for _, fn := range listeners {
		go func(cb ChangeListener) {
			defer safeRecover("instrument listener")
			cb(snap)
		}(fn)
	}
}

func cloneSnapshot(src Snapshot) Snapshot {
	dst := Snapshot{
		Version:     src.Version,
		LoadedAt:    src.LoadedAt,
		Instruments: make(map[string]Instrument, len(src.Instruments)),
	}
	for sym, ins := range src.Instruments {
		dst.Instruments[sym] = ins
	}
	return dst
}

func safeRecover(tag string) {
	if r := recover(); r != nil {
		logger.Errorf("%s panic: %v", tag, r)
	}
}

// readInstrumentFile decodes strictly, then validates the document
// against the schema so a typoed field or negative lot size is rejected
// before it replaces a good snapshot.
func readInstrumentFile(path string, schema *jsonschema.Schema) (FileConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}, fmt.Errorf("read instrument config: %w", err)
	}
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return FileConfig{}, fmt.Errorf("parse instrument config: %w", err)
	}
	normalized, err := normalizeYAML(doc)
	if err != nil {
		return FileConfig{}, fmt.Errorf("normalize instrument config: %w", err)
	}
	if err := schema.Validate(normalized); err != nil {
		return FileConfig{}, fmt.Errorf("instrument config invalid: %w", err)
	}
	var cfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return FileConfig{}, fmt.Errorf("parse instrument config: %w", err)
	}
	return cfg, nil
}

// normalizeYAML funnels yaml-decoded values through json so the schema
// validator sees plain JSON types.
func normalizeYAML(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

const instrumentSchema = `{
	"type": "object",
	"required": ["instruments"],
	"additionalProperties": false,
	"properties": {
		"instruments": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["symbol", "lot_size", "tick_size"],
				"additionalProperties": false,
				"properties": {
					"symbol":       {"type": "string", "minLength": 1},
					"lot_size":     {"type": "number", "exclusiveMinimum": 0},
					"tick_size":    {"type": "number", "exclusiveMinimum": 0},
					"min_quantity": {"type": "number", "minimum": 0},
					"max_quantity": {"type": "number", "minimum": 0},
					"halted":       {"type": "boolean"},
					"commission": {
						"type": "object",
						"additionalProperties": false,
						"properties": {
							"per_share": {"type": "number", "minimum": 0},
							"minimum":   {"type": "number", "minimum": 0}
						}
					}
				}
			}
		}
	}
}`

func compileSchema() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("instruments.json", strings.NewReader(instrumentSchema)); err != nil {
		return nil, err
	}
	return compiler.Compile("instruments.json")
}
