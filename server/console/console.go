// Package console implements a line based command source that controls a
// world.World from a terminal.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/df-mc/chunkflow/server/block/cube"
	"github.com/df-mc/chunkflow/server/world"
)

// Console reads commands from an io.Reader (defaulting to os.Stdin) and
// executes them on a World. Output is written to the Logger of the Console.
type Console struct {
	w      *world.World
	log    *slog.Logger
	reader io.Reader
}

// New returns a Console bound to the World passed. The console reads from
// os.Stdin and writes command output to the supplied logger.
func New(w *world.World, log *slog.Logger) *Console {
	if log == nil {
		log = slog.Default()
	}
	return &Console{w: w, log: log, reader: os.Stdin}
}

// WithReader sets a custom reader for the console input.
func (c *Console) WithReader(r io.Reader) *Console {
	if r != nil {
		c.reader = r
	}
	return c
}

// errUsage is returned by commands called with the wrong arguments.
var errUsage = errors.New("usage")

type command struct {
	usage string
	run   func(c *Console, ctx context.Context, args []string) error
}

var commands = map[string]command{
	"stats":    {"stats", (*Console).stats},
	"save":     {"save", (*Console).save},
	"unload":   {"unload", (*Console).unload},
	"tps":      {"tps", (*Console).tps},
	"load":     {"load <x> <z>", (*Console).load},
	"free":     {"free <x> <z>", (*Console).free},
	"level":    {"level <x> <z>", (*Console).level},
	"block":    {"block <x> <y> <z>", (*Console).block},
	"setblock": {"setblock <x> <y> <z> <id>", (*Console).setBlock},
}

// Run starts consuming commands from the console. It blocks until the context
// is cancelled, the reader reaches EOF or the "stop" command is entered.
func (c *Console) Run(ctx context.Context) {
	scanner := bufio.NewScanner(c.reader)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				c.log.Error("console input error", "err", err)
			}
			return
		}
		line := strings.TrimPrefix(strings.TrimSpace(scanner.Text()), "/")
		if line == "" {
			continue
		}
		if !c.ExecuteLine(ctx, line) {
			return
		}
	}
}

// ExecuteLine executes a single command line. It returns false if the line
// was the "stop" command.
func (c *Console) ExecuteLine(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	name, args := strings.ToLower(fields[0]), fields[1:]
	if name == "stop" {
		return false
	}
	cmd, ok := commands[name]
	if !ok {
		c.log.Error("Unknown command.", "command", name)
		return true
	}
	if err := cmd.run(c, ctx, args); err != nil {
		if errors.Is(err, errUsage) {
			c.log.Error("Usage: " + cmd.usage)
			return true
		}
		c.log.Error(name + ": " + err.Error())
	}
	return true
}

func (c *Console) stats(context.Context, []string) error {
	s := c.w.Stats()
	c.log.Info("World statistics.",
		"loaded", s.Loaded, "proto", s.Proto, "unloading", s.Unloading,
		"queued", s.Queued, "occupied", s.Occupied, "loaders", s.Loaders,
		"reads", s.Reads, "misses", s.Misses, "writes", s.Writes)
	return nil
}

func (c *Console) save(context.Context, []string) error {
	c.w.Save()
	c.log.Info("Saved all chunks.")
	return nil
}

func (c *Console) unload(context.Context, []string) error {
	c.w.Unload()
	c.log.Info("Unloaded unused chunks.")
	return nil
}

func (c *Console) tps(context.Context, []string) error {
	c.log.Info("Ticks per second.", "tps", c.w.TPS(), "tick", c.w.CurrentTick())
	return nil
}

func (c *Console) load(ctx context.Context, args []string) error {
	pos, err := chunkPos(args)
	if err != nil {
		return err
	}
	c.w.AddForceTicket(pos)
	h, err := c.w.Chunk(ctx, pos)
	if err != nil {
		return err
	}
	h.Release()
	c.log.Info("Chunk loaded.", "X", pos[0], "Z", pos[1])
	return nil
}

func (c *Console) free(_ context.Context, args []string) error {
	pos, err := chunkPos(args)
	if err != nil {
		return err
	}
	if !c.w.RemoveForceTicket(pos) {
		return fmt.Errorf("chunk %v is not force loaded", pos)
	}
	c.log.Info("Chunk no longer force loaded.", "X", pos[0], "Z", pos[1])
	return nil
}

func (c *Console) level(_ context.Context, args []string) error {
	pos, err := chunkPos(args)
	if err != nil {
		return err
	}
	c.log.Info("Chunk level.", "X", pos[0], "Z", pos[1], "level", c.w.Level(pos), "loaded", c.w.Loaded(pos))
	return nil
}

func (c *Console) block(_ context.Context, args []string) error {
	v, err := ints(args, 3)
	if err != nil {
		return err
	}
	pos := cube.Pos{v[0], v[1], v[2]}
	id, err := c.w.Block(pos)
	if err != nil {
		return err
	}
	c.log.Info("Block.", "pos", pos, "id", id)
	return nil
}

func (c *Console) setBlock(_ context.Context, args []string) error {
	v, err := ints(args, 4)
	if err != nil || v[3] < 0 {
		return errUsage
	}
	pos := cube.Pos{v[0], v[1], v[2]}
	prev, err := c.w.SetBlock(pos, uint32(v[3]))
	if err != nil {
		return err
	}
	c.log.Info("Block set.", "pos", pos, "id", v[3], "previous", prev)
	return nil
}

func chunkPos(args []string) (cube.ChunkPos, error) {
	v, err := ints(args, 2)
	if err != nil {
		return cube.ChunkPos{}, err
	}
	return cube.ChunkPos{int32(v[0]), int32(v[1])}, nil
}

func ints(args []string, n int) ([]int, error) {
	if len(args) != n {
		return nil, errUsage
	}
	v := make([]int, n)
	for i, a := range args {
		var err error
		if v[i], err = strconv.Atoi(a); err != nil {
			return nil, errUsage
		}
	}
	return v, nil
}
