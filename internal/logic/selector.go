package logic

import (
	"math/rand"

	"herald/internal/store"
)

// PickRandom returns a uniformly random element of pool and reports whether
// the pool was non-empty. Selection history does not influence the draw:
// every unpublished post has the same chance on every trigger.
func PickRandom(rng *rand.Rand, pool []store.Post) (store.Post, bool) {
	if len(pool) == 0 {
		return store.Post{}, false
	}
	return pool[rng.Intn(len(pool))], true
}
