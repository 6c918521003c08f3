package cube

import "testing"

func TestChunkPosKeyRoundTrip(t *testing.T) {
	for _, p := range []ChunkPos{{0, 0}, {-1, 1}, {1, -1}, {-30000000 >> 4, 30000000 >> 4}, {2147483647, -2147483648}} {
		if got := ChunkPosFromKey(p.Key()); got != p {
			t.Errorf("ChunkPosFromKey(%v.Key()) = %v", p, got)
		}
	}
}

func TestChunkPosChebyshev(t *testing.T) {
	tests := []struct {
		a, b ChunkPos
		want int
	}{
		{ChunkPos{0, 0}, ChunkPos{0, 0}, 0},
		{ChunkPos{0, 0}, ChunkPos{3, 0}, 3},
		{ChunkPos{0, 0}, ChunkPos{-2, 5}, 5},
		{ChunkPos{10, 10}, ChunkPos{7, 12}, 3},
	}
	for _, tt := range tests {
		if got := tt.a.Chebyshev(tt.b); got != tt.want {
			t.Errorf("%v.Chebyshev(%v) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestPosChunkPosNegative(t *testing.T) {
	if got := (Pos{-1, 0, -17}).ChunkPos(); got != (ChunkPos{-1, -2}) {
		t.Fatalf("unexpected chunk pos %v", got)
	}
	if got := (Pos{15, 0, 16}).ChunkPos(); got != (ChunkPos{0, 1}) {
		t.Fatalf("unexpected chunk pos %v", got)
	}
}
