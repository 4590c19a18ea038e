package lsm

import (
	"strconv"
	"sync"
	"time"
)

// idGenerator hands out microsecond-timestamp-based file name stems,
// guaranteeing uniqueness by bumping past any collision with a
// monotonically increasing counter.
type idGenerator struct {
	mu   sync.Mutex
	last int64
}

func (g *idGenerator) next() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	ts := time.Now().UnixMicro()
	if ts <= g.last {
		ts = g.last + 1
	}
	g.last = ts
	return strconv.FormatInt(ts, 10)
}

// observe records that id is already in use (seen during recovery), so a
// freshly minted id never collides with files left on disk.
func (g *idGenerator) observe(id int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if id > g.last {
		g.last = id
	}
}
