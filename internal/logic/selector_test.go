package logic

import (
	"math/rand"
	"testing"

	"herald/internal/store"
)

func TestPickRandomEmptyPool(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	if _, ok := PickRandom(rng, nil); ok {
		t.Fatalf("expected no pick from an empty pool")
	}
}

func TestPickRandomSingleElement(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	pool := []store.Post{{MessageID: 42}}
	post, ok := PickRandom(rng, pool)
	if !ok || post.MessageID != 42 {
		t.Fatalf("expected the only element, got %+v ok=%v", post, ok)
	}
}

func TestPickRandomIsUniform(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	pool := make([]store.Post, 5)
	for i := range pool {
		pool[i] = store.Post{MessageID: int64(i + 1)}
	}

	const draws = 5000
	counts := make(map[int64]int)
	for i := 0; i < draws; i++ {
		post, ok := PickRandom(rng, pool)
		if !ok {
			t.Fatalf("unexpected empty pick")
		}
		counts[post.MessageID]++
	}

	// Expect roughly draws/len(pool) per element; a 20% band is far wider
	// than the sampling noise at this size, so a biased selector fails.
	expected := draws / len(pool)
	for id, n := range counts {
		if n < expected*8/10 || n > expected*12/10 {
			t.Fatalf("element %d drawn %d times, expected around %d", id, n, expected)
		}
	}
	if len(counts) != len(pool) {
		t.Fatalf("expected every element drawn at least once, got %d of %d", len(counts), len(pool))
	}
}
