// Package progress prints periodic transfer progress for long-running
// downloads to a terminal or log stream.
package progress

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// defaultInterval is the minimum time between progress lines for a task.
const defaultInterval = 5 * time.Second

// Printer writes progress lines for a set of concurrently running transfer
// tasks. Lines are serialized through a mutex so output from parallel
// workers does not interleave. A quiet Printer swallows all output.
type Printer struct {
	mu       sync.Mutex
	w        io.Writer
	total    int
	quiet    bool
	interval time.Duration
	started  int
}

// NewPrinter returns a Printer for total tasks writing to w. If quiet is
// true, nothing is ever written.
func NewPrinter(w io.Writer, total int, quiet bool) *Printer {
	return &Printer{
		w:        w,
		total:    total,
		quiet:    quiet,
		interval: defaultInterval,
	}
}

// StartTask registers a new task identified by name (typically a file name)
// with an expected size in bytes. Tasks are numbered in start order, starting
// at 1.
func (p *Printer) StartTask(name string, size int64) *Task {
	p.mu.Lock()
	p.started++
	index := p.started
	p.mu.Unlock()

	t := &Task{
		printer: p,
		name:    name,
		size:    size,
		index:   index,
	}
	t.printf("starting (%s)", humanBytes(size))
	return t
}

func (p *Printer) print(line string) {
	if p.quiet {
		return
	}
	fmt.Fprintln(p.w, line)
}

// Task tracks progress of a single transfer.
type Task struct {
	printer *Printer
	name    string
	size    int64
	index   int

	mu       sync.Mutex
	done     int64
	lastLine time.Time
}

// Add records n more transferred bytes and prints a progress line if enough
// time has passed since the last one.
func (t *Task) Add(n int64) {
	t.mu.Lock()
	t.done += n
	t.maybeReport()
	t.mu.Unlock()
}

// Set records the absolute number of transferred bytes, for transports that
// report totals rather than deltas.
func (t *Task) Set(done int64) {
	t.mu.Lock()
	t.done = done
	t.maybeReport()
	t.mu.Unlock()
}

// Finish prints a completion line for the task.
func (t *Task) Finish() {
	t.printf("done (%s)", humanBytes(t.size))
}

// maybeReport prints a throttled progress line. Callers hold t.mu.
func (t *Task) maybeReport() {
	now := time.Now()
	if now.Sub(t.lastLine) < t.printer.interval {
		return
	}
	t.lastLine = now
	if t.size > 0 {
		pct := float64(t.done) / float64(t.size) * 100
		t.printf("%s / %s (%.1f%%)", humanBytes(t.done), humanBytes(t.size), pct)
	} else {
		t.printf("%s", humanBytes(t.done))
	}
}

func (t *Task) printf(format string, args ...interface{}) {
	t.printer.mu.Lock()
	defer t.printer.mu.Unlock()
	prefix := fmt.Sprintf("[%d/%d] %s: ", t.index, t.printer.total, t.name)
	t.printer.print(prefix + fmt.Sprintf(format, args...))
}

// humanBytes formats a byte count with a binary unit suffix.
func humanBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
