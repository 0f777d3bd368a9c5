package feedback

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/google/uuid"
)

// Store persists feedback records.
// Implementations must be safe for concurrent use.
type Store interface {
	// Add inserts rec unconditionally and returns the new record id. Two
	// records for the same (interview, user) pair may coexist.
	Add(ctx context.Context, rec *Record) (string, error)

	// Latest returns the most recent record for the pair, or (nil, nil) if
	// none exists.
	Latest(ctx context.Context, interviewID, userID string) (*Record, error)
}

// FileStore persists feedback as JSON lines in a local file, suitable for a
// single-node deployment without a database.
type FileStore struct {
	mu   sync.Mutex
	path string
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates a FileStore that writes to the given path.
// The file is created on the first write.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Add appends rec to the file. A missing ID is filled with a fresh UUID.
func (s *FileStore) Add(_ context.Context, rec *Record) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("feedback: marshal: %w", err)
	}
	data = append(data, '\n')

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("feedback: open file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return "", fmt.Errorf("feedback: write: %w", err)
	}
	return rec.ID, nil
}

// Latest scans the file and returns the newest matching record. Ties on
// CreatedAt go to the record written last.
func (s *FileStore) Latest(_ context.Context, interviewID, userID string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("feedback: open file: %w", err)
	}
	defer f.Close()

	var latest *Record
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("feedback: decode line: %w", err)
		}
		if rec.InterviewID != interviewID || rec.UserID != userID {
			continue
		}
		if latest == nil || !rec.CreatedAt.Before(latest.CreatedAt) {
			latest = &rec
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("feedback: read file: %w", err)
	}
	return latest, nil
}
