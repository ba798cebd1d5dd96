package config

import (
	"context"
	"os"
	"time"
)

type fileStamp struct {
	mod  time.Time
	size int64
}

func stamp(path string) (fileStamp, bool) {
	fi, err := os.Stat(path)
	if err != nil {
		return fileStamp{}, false
	}
	return fileStamp{mod: fi.ModTime(), size: fi.Size()}, true
}

func (a fileStamp) equal(b fileStamp) bool {
	return a.size == b.size && a.mod.Equal(b.mod)
}

// Watch polls path every interval and signals on the returned channel when
// its modification time or size changes. Signals coalesce while the receiver
// is busy. A file that is briefly missing (atomic replace) is not a change.
// The channel is closed when ctx is done.
func Watch(ctx context.Context, path string, interval time.Duration) <-chan struct{} {
	ch := make(chan struct{}, 1)
	last, _ := stamp(path)

	go func() {
		defer close(ch)
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}
			cur, ok := stamp(path)
			if !ok || cur.equal(last) {
				continue
			}
			last = cur
			select {
			case ch <- struct{}{}:
			default:
			}
		}
	}()
	return ch
}
