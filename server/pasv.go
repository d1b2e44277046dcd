package server

import (
	"math/rand/v2"
	"sync"
)

// Default passive-mode port range, used when WithPassivePortRange is not
// given. The range sits inside the IANA dynamic/private block.
const (
	defaultPasvMinPort = 48128
	defaultPasvMaxPort = 49151
)

// portAllocator hands out passive-mode listener ports from a fixed range.
//
// A cursor walks the range one port per allocation and wraps from max back
// to min. The cursor starts at zero and is seeded with a pseudo-random
// position inside the range on the first allocation, so restarts do not
// always hammer the same low ports.
type portAllocator struct {
	mu       sync.Mutex
	min, max int
	cursor   int
}

func newPortAllocator(min, max int) *portAllocator {
	return &portAllocator{min: min, max: max}
}

// Next returns the port at the cursor and advances it, wrapping after max.
func (a *portAllocator) Next() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cursor < a.min || a.cursor > a.max {
		a.cursor = a.min + rand.IntN(a.max-a.min+1)
	}

	port := a.cursor
	a.cursor++
	if a.cursor > a.max {
		a.cursor = a.min
	}
	return port
}

// size returns the number of ports in the range, which bounds how many
// listen attempts a passive open makes before giving up.
func (a *portAllocator) size() int {
	return a.max - a.min + 1
}
