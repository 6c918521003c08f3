package server

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/df-mc/chunkflow/server/block/cube"
	"github.com/df-mc/chunkflow/server/world"
	"github.com/df-mc/chunkflow/server/world/anvil"
	"github.com/df-mc/chunkflow/server/world/generator"
	"github.com/df-mc/chunkflow/server/world/generator/pmgen"
	"github.com/df-mc/chunkflow/server/world/mcdb"
	"github.com/df-mc/chunkflow/server/world/sqlitedb"
	"github.com/pelletier/go-toml"
	"gopkg.in/yaml.v3"
)

// UserConfig is the user configuration of a chunkflow world. It may be
// serialised as TOML or YAML and can be converted to a world.Config by calling
// UserConfig.Config().
type UserConfig struct {
	World struct {
		// Provider is the storage format of the world. Valid values are
		// "leveldb", "anvil", "sqlite", "memory" and "none".
		Provider string
		// Folder is the folder that the data of the world resides in.
		Folder string
		// ReadOnly specifies if chunks should never be written to the
		// provider.
		ReadOnly bool
		// Generator is the generator used for chunks that do not exist yet.
		// Valid values are "flat", "pmgen" and "void".
		Generator string
		// Seed is the seed passed to the generator.
		Seed int64
		// MinY and MaxY are the lowest and highest Y value of the world.
		MinY, MaxY int
	}
	Workers struct {
		// Read and Write are the amount of goroutines reading and writing
		// chunks. Generator is the amount of goroutines running generation
		// stages. Set any of them to 0 to use the default.
		Read, Write, Generator int
		// QueueSize limits how many tasks may wait for each pool of workers.
		// Set to 0 to use an automatically chosen size.
		QueueSize int
	}
	Chunks struct {
		// ViewDistance is the default view distance of loaders in chunks.
		ViewDistance int
		// SaveInterval is the interval at which all chunks are saved, such as
		// "5m". Set to "off" to disable autosaving.
		SaveInterval string
		// UnloadInterval is the interval at which chunks that are no longer
		// needed are unloaded, such as "2s". Unloading cannot be turned off.
		UnloadInterval string
	}
	Log struct {
		// Level is the minimum level of log messages: "debug", "info", "warn"
		// or "error".
		Level string
	}
}

// DefaultConfig returns a configuration with the default values filled out.
func DefaultConfig() UserConfig {
	c := UserConfig{}
	c.World.Provider = "leveldb"
	c.World.Folder = "world"
	c.World.Generator = "pmgen"
	c.World.MinY, c.World.MaxY = -64, 319
	c.Chunks.ViewDistance = 8
	c.Chunks.SaveInterval = "5m"
	c.Chunks.UnloadInterval = "2s"
	c.Log.Level = "info"
	return c
}

// LoadConfig reads a UserConfig from the file at path. Files ending in .yaml
// or .yml are decoded as YAML, all others as TOML. If the file does not
// exist, the DefaultConfig is written to it as TOML and returned.
func LoadConfig(path string) (UserConfig, error) {
	c := DefaultConfig()
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		encoded, err := toml.Marshal(c)
		if err != nil {
			return c, fmt.Errorf("encode default config: %w", err)
		}
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0777); err != nil {
				return c, fmt.Errorf("create config directory: %w", err)
			}
		}
		if err := os.WriteFile(path, encoded, 0644); err != nil {
			return c, fmt.Errorf("write default config: %w", err)
		}
		return c, nil
	} else if err != nil {
		return c, fmt.Errorf("read config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &c)
	default:
		err = toml.Unmarshal(data, &c)
	}
	if err != nil {
		return c, fmt.Errorf("decode config %v: %w", path, err)
	}
	return c, nil
}

// LogLevel returns the slog.Level set in the config, or slog.LevelInfo if it
// is empty.
func (uc UserConfig) LogLevel() (slog.Level, error) {
	var lvl slog.Level
	if uc.Log.Level == "" {
		return slog.LevelInfo, nil
	}
	if err := lvl.UnmarshalText([]byte(uc.Log.Level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("parse log level: %w", err)
	}
	return lvl, nil
}

// Config converts a UserConfig to a world.Config, so that it may be used for
// creating a World. The provider of the world is opened by Config and closed
// when the World is closed. An error is returned if the config holds invalid
// values or if opening the provider failed.
func (uc UserConfig) Config(log *slog.Logger) (world.Config, error) {
	if log == nil {
		log = slog.Default()
	}
	conf := world.Config{
		Log:              log,
		ReadOnly:         uc.World.ReadOnly,
		Seed:             uc.World.Seed,
		Air:              generator.Air,
		Properties:       generator.Properties{},
		ReadWorkers:      uc.Workers.Read,
		WriteWorkers:     uc.Workers.Write,
		GeneratorWorkers: uc.Workers.Generator,
		QueueSize:        uc.Workers.QueueSize,
		ViewDistance:     uc.Chunks.ViewDistance,
	}
	if uc.World.MinY != 0 || uc.World.MaxY != 0 {
		if uc.World.MaxY < uc.World.MinY || uc.World.MinY&15 != 0 || (uc.World.MaxY+1)&15 != 0 {
			return conf, fmt.Errorf("invalid world height range [%v, %v]", uc.World.MinY, uc.World.MaxY)
		}
		conf.Range = cube.Range{uc.World.MinY, uc.World.MaxY}
	}

	var err error
	if conf.SaveInterval, err = parseInterval(uc.Chunks.SaveInterval); err != nil {
		return conf, fmt.Errorf("parse save interval: %w", err)
	}
	if conf.UnloadInterval, err = parseInterval(uc.Chunks.UnloadInterval); err != nil {
		return conf, fmt.Errorf("parse unload interval: %w", err)
	}
	if conf.UnloadInterval < 0 {
		return conf, fmt.Errorf("unload interval %q: unloading cannot be disabled", uc.Chunks.UnloadInterval)
	}

	switch strings.ToLower(uc.World.Generator) {
	case "", "pmgen":
		conf.Generator = pmgen.New(uc.World.Seed)
	case "flat":
		conf.Generator = generator.NewFlat(conf.Biome)
	case "void":
		conf.Generator = generator.NopGenerator{}
	default:
		return conf, fmt.Errorf("unknown generator %q", uc.World.Generator)
	}

	conf.Provider, err = uc.openProvider(log)
	if err != nil {
		return conf, fmt.Errorf("create world provider: %w", err)
	}
	return conf, nil
}

// openProvider opens the world.Provider named in the config.
func (uc UserConfig) openProvider(log *slog.Logger) (world.Provider, error) {
	folder := uc.World.Folder
	switch strings.ToLower(uc.World.Provider) {
	case "", "leveldb", "mcdb":
		return mcdb.Config{Log: log, ReadOnly: uc.World.ReadOnly}.Open(folder)
	case "anvil", "region":
		return anvil.Config{Log: log, ReadOnly: uc.World.ReadOnly}.Open(filepath.Join(folder, "region"))
	case "sqlite":
		return sqlitedb.Config{ReadOnly: uc.World.ReadOnly}.Open(filepath.Join(folder, "chunks.db"))
	case "memory":
		return world.NewMemoryProvider(), nil
	case "none":
		return world.NopProvider{}, nil
	}
	return nil, fmt.Errorf("unknown provider %q", uc.World.Provider)
}

// parseInterval parses a duration such as "5m". An empty string results in
// the default interval and "off" disables the action.
func parseInterval(s string) (time.Duration, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return 0, nil
	case "off", "never", "disabled":
		return -1, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("interval %v must be positive", s)
	}
	return d, nil
}
