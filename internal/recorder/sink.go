package recorder

import (
	"encoding/csv"
	"fmt"
	"os"
)

// csvSink is an append-only CSV file with one owning writer. Every Append
// flushes, so rows are visible to tailers immediately. A failed append is
// retried once against a re-opened handle before the error escalates.
type csvSink struct {
	path   string
	header []string
	file   *os.File
	w      *csv.Writer
}

func openSink(path string, header []string) (*csvSink, error) {
	s := &csvSink{path: path, header: header}
	if err := s.open(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *csvSink) open() error {
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", s.path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat %s: %w", s.path, err)
	}

	s.file = f
	s.w = csv.NewWriter(f)

	if info.Size() == 0 {
		if err := s.writeFlush(s.header); err != nil {
			f.Close()
			return fmt.Errorf("write header %s: %w", s.path, err)
		}
	}
	return nil
}

func (s *csvSink) writeFlush(record []string) error {
	if err := s.w.Write(record); err != nil {
		return err
	}
	s.w.Flush()
	return s.w.Error()
}

// Append writes one row, retrying once on failure.
func (s *csvSink) Append(record []string) error {
	err := s.writeFlush(record)
	if err == nil {
		return nil
	}

	s.file.Close()
	if reopenErr := s.open(); reopenErr != nil {
		return fmt.Errorf("append %s: %w (reopen failed: %v)", s.path, err, reopenErr)
	}
	if err := s.writeFlush(record); err != nil {
		return fmt.Errorf("append %s: %w", s.path, err)
	}
	return nil
}

func (s *csvSink) Close() error {
	if s.file == nil {
		return nil
	}
	s.w.Flush()
	flushErr := s.w.Error()
	closeErr := s.file.Close()
	s.file = nil
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}
