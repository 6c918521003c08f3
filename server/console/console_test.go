package console

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/df-mc/chunkflow/server/block/cube"
	"github.com/df-mc/chunkflow/server/world"
)

func TestConsoleCommands(t *testing.T) {
	w := world.Config{
		Provider:         world.NewMemoryProvider(),
		Range:            cube.Range{0, 31},
		GeneratorWorkers: 2,
		TickInterval:     -1,
		SaveInterval:     -1,
	}.New()
	t.Cleanup(func() { _ = w.Close() })

	var out bytes.Buffer
	log := slog.New(slog.NewTextHandler(&out, nil))
	input := strings.Join([]string{
		"load 0 0",
		"/level 0 0",
		"block 1 2 3",
		"setblock 1 2 3 6",
		"setblock 1 2 3 7",
		"bogus",
		"load x",
		"free 0 0",
		"free 0 0",
		"stop",
		"stats",
	}, "\n")
	New(w, log).WithReader(strings.NewReader(input)).Run(context.Background())

	got := out.String()
	for _, want := range []string{
		"Chunk loaded.",
		"Chunk level.",
		"Block.",
		"Block set.",
		"id=7 previous=6",
		"Unknown command.",
		"Usage: load <x> <z>",
		"Chunk no longer force loaded.",
		"is not force loaded",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output does not contain %q:\n%v", want, got)
		}
	}
	if strings.Contains(got, "World statistics.") {
		t.Errorf("command after stop was executed")
	}
}

func TestConsoleStopsOnCancel(t *testing.T) {
	w := world.Config{Provider: world.NopProvider{}, TickInterval: -1, SaveInterval: -1}.New()
	t.Cleanup(func() { _ = w.Close() })

	var out bytes.Buffer
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	New(w, slog.New(slog.NewTextHandler(&out, nil))).WithReader(strings.NewReader("stats\n")).Run(ctx)
	if out.Len() != 0 {
		t.Fatalf("console ran commands after its context was cancelled: %v", out.String())
	}
}
