package ingest

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
)

// Stream names one append-only log file; Name doubles as the parser category.
type Stream struct {
	Name string
	Path string
}

type tailedStream struct {
	name    string
	path    string
	file    *os.File
	reader  *bufio.Reader
	pending strings.Builder
}

// Tailer keeps a read cursor at the end of each opened stream.
type Tailer struct {
	mu      sync.Mutex
	order   []string
	streams map[string]*tailedStream
}

// OpenTailer opens every stream that exists and seeks it to its current end.
// Missing or unreadable streams are skipped with a warning and never retried.
func OpenTailer(streams []Stream) *Tailer {
	t := &Tailer{streams: make(map[string]*tailedStream, len(streams))}

	for _, s := range streams {
		if _, dup := t.streams[s.Name]; dup {
			log.Warn("Duplicate log stream ignored", "stream", s.Name, "path", s.Path)
			continue
		}

		file, err := os.Open(s.Path)
		if err != nil {
			log.Warn("Log file not found, stream disabled", "stream", s.Name, "path", s.Path, "error", err)
			continue
		}

		if _, err := file.Seek(0, io.SeekEnd); err != nil {
			_ = file.Close()
			log.Warn("Log file not seekable, stream disabled", "stream", s.Name, "path", s.Path, "error", err)
			continue
		}

		t.streams[s.Name] = &tailedStream{
			name:   s.Name,
			path:   s.Path,
			file:   file,
			reader: bufio.NewReader(file),
		}
		t.order = append(t.order, s.Name)
		log.Info("Tailing log stream", "stream", s.Name, "path", s.Path)
	}

	return t
}

// Streams returns the opened stream names in configuration order.
func (t *Tailer) Streams() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.order...)
}

// Next returns the next complete line of stream without blocking. A line
// whose newline has not been written yet is held back until it is complete.
func (t *Tailer) Next(stream string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.streams[stream]
	if !ok {
		return "", false
	}

	chunk, err := s.reader.ReadString('\n')
	if err != nil {
		if !errors.Is(err, io.EOF) {
			log.Error("Log stream read failed", "stream", s.name, "error", err)
		}
		s.pending.WriteString(chunk)
		return "", false
	}

	if s.pending.Len() > 0 {
		s.pending.WriteString(chunk)
		chunk = s.pending.String()
		s.pending.Reset()
	}

	return strings.TrimRight(chunk, "\r\n"), true
}

func (t *Tailer) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var errs []error
	for _, name := range t.order {
		if err := t.streams[name].file.Close(); err != nil {
			errs = append(errs, fmt.Errorf("ingest: close %s: %w", name, err))
		}
	}
	t.order = nil
	t.streams = map[string]*tailedStream{}
	return errors.Join(errs...)
}
