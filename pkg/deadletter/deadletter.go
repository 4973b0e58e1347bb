// Package deadletter keeps an append-only JSONL record of uploads that
// exhausted their retry budget, so operators can re-submit them later.
package deadletter

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/dronetm/upload-dispatcher/pkg/models"
)

// Sink receives exhausted jobs
type Sink interface {
	Record(letter models.DeadLetter) error
}

// Discard drops every record
type Discard struct{}

func (Discard) Record(models.DeadLetter) error { return nil }

// File appends one JSON line per dead letter
type File struct {
	mu   sync.Mutex
	file *os.File
}

// Open opens (or creates) path in append mode
func Open(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open dead-letter file: %w", err)
	}
	return &File{file: f}, nil
}

// Record writes letter as a single line
func (f *File) Record(letter models.DeadLetter) error {
	line, err := json.Marshal(letter)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter: %w", err)
	}
	line = append(line, '\n')

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.file.Write(line); err != nil {
		return fmt.Errorf("failed to append dead letter: %w", err)
	}
	return nil
}

// Close closes the underlying file
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.file.Close()
}

// ReadAll decodes every record from r, e.g. to re-submit a batch
func ReadAll(r io.Reader) ([]models.DeadLetter, error) {
	var letters []models.DeadLetter
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for line := 1; scanner.Scan(); line++ {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var letter models.DeadLetter
		if err := json.Unmarshal(scanner.Bytes(), &letter); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		letters = append(letters, letter)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return letters, nil
}
