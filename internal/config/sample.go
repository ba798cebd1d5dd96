package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/natefinch/atomic"
)

// Sample is the starter config written by `edge --init`.
const Sample = `# edge server configuration
http:
  # Static files from ./public with a 10 MiB LRU cache.
  - listen: 8080
    root: ./public
    cache: 10240        # KiB, 0 disables caching
    cache_ttl: 5m
    cache_max_file: 1024 # KiB, larger files are streamed

  # Reverse proxy over two upstreams.
  - listen: 9090
    proxy:
      - 127.0.0.1:3001
      - 127.0.0.1:3002
    proxy_health: /health
    strategy: weighted_round_robin # round_robin | random | weighted_round_robin
    weights: [2, 1]
`

// WriteSample atomically writes Sample to path. An existing file is only
// replaced when force is set.
func WriteSample(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: %s", ErrConfigExists, path)
		}
	}
	if err := atomic.WriteFile(path, strings.NewReader(Sample)); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
