package helper

import (
	"fmt"
	"time"
)

// ThroughputMBps converts a byte count moved in d into MB/s. Very fast
// transfers clamp to a microsecond so the result stays finite.
func ThroughputMBps(bytes int64, d time.Duration) float64 {
	if d < time.Microsecond {
		d = time.Microsecond
	}
	return float64(bytes) / (1024 * 1024) / d.Seconds()
}

// TruncateOutput shortens a byte stream for log lines.
func TruncateOutput(bytestream []byte) string {
	if len(bytestream) <= 10 {
		return string(bytestream)
	}
	return fmt.Sprintf("%s... and %d more bytes", string(bytestream[:10]), len(bytestream)-10)
}
