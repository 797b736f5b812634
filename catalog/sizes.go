package catalog

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Binary multipliers for the catalog's human-readable size column.
const (
	B  int64 = 1
	KB int64 = 1 << 10
	MB int64 = 1 << 20
	GB int64 = 1 << 30
	TB int64 = 1 << 40
)

var sizeSuffixes = map[string]int64{
	"B":  B,
	"KB": KB,
	"MB": MB,
	"GB": GB,
	"TB": TB,
}

// descending order, for FormatSize.
var sizeOrder = []struct {
	suffix string
	mul    int64
}{
	{"TB", TB},
	{"GB", GB},
	{"MB", MB},
	{"KB", KB},
}

// ParseSize converts a human-readable file size like "2.34 GB" to bytes. The
// multiplier is applied to the leading numeric token.
func ParseSize(s string) (int64, error) {
	fields := strings.Fields(s)
	if len(fields) != 2 {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	n, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	mul, ok := sizeSuffixes[fields[1]]
	if !ok {
		return 0, fmt.Errorf("invalid size suffix %q", fields[1])
	}
	return int64(n * float64(mul)), nil
}

// FormatSize converts a number of bytes to a human-readable description like
// "2.34 GB", the inverse of ParseSize.
func FormatSize(b int64) string {
	if b < 0 {
		return fmt.Sprintf("%d B", b)
	}
	for _, s := range sizeOrder {
		if b >= s.mul {
			div := math.Round(float64(b)/float64(s.mul)*100) / 100
			return fmt.Sprintf("%s %s", strconv.FormatFloat(div, 'f', -1, 64), s.suffix)
		}
	}
	return fmt.Sprintf("%d B", b)
}
