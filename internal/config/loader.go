package config

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"sigs.k8s.io/yaml"
)

// Loader reads a Settings document off disk and keeps a Store in sync with
// it, watching for changes the way the teacher's cmd/mcp-broker-router/main.go
// wires viper.WatchConfig/viper.OnConfigChange.
type Loader struct {
	v      *viper.Viper
	store  *Store
	logger *slog.Logger
}

// NewLoader builds a Loader for the given config file path. The file is read
// as YAML/JSON/etc per viper's normal format sniffing, but the document shape
// is always the YAML-flavored Settings struct (spec §4.C1 persistence format,
// concretely realized per SPEC_FULL.md §2).
func NewLoader(path string, store *Store, logger *slog.Logger) *Loader {
	v := viper.New()
	v.SetConfigFile(path)
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{v: v, store: store, logger: logger.With("component", "config.Loader")}
}

// Load reads the file once and applies it to the Store via Mutate.
func (l *Loader) Load(ctx context.Context) error {
	if err := l.v.ReadInConfig(); err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	return l.apply(ctx)
}

// Watch starts watching the config file for changes and applies every change
// to the Store, logging and continuing on parse/validation failure (a bad
// on-disk edit must never take down a running hub).
func (l *Loader) Watch(ctx context.Context) {
	l.v.OnConfigChange(func(in fsnotify.Event) {
		l.logger.Info("config file changed, reloading", "file", in.Name)
		if err := l.apply(ctx); err != nil {
			l.logger.Error("reloading config failed, keeping previous settings", "error", err)
		}
	})
	l.v.WatchConfig()
}

func (l *Loader) apply(ctx context.Context) error {
	raw, err := yaml.Marshal(l.v.AllSettings())
	if err != nil {
		return fmt.Errorf("re-marshaling viper settings: %w", err)
	}
	var doc Settings
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("unmarshaling settings document: %w", err)
	}
	if doc.Flags == (Flags{}) {
		doc.Flags = DefaultFlags()
	}
	for _, g := range doc.Groups {
		if g.ID == "" {
			g.ID = NewGroupID()
		}
	}

	return l.store.Mutate(ctx, func(s *Settings) error {
		*s = doc
		return nil
	})
}
