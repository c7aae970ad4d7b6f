package interpreter

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// spillPath is deterministic per paragraph so a rerun overwrites the previous file.
func spillPath(dir, noteID, paragraphID string) string {
	return filepath.Join(dir, filepath.Base(noteID+"_"+paragraphID))
}

// spillFile is the disk side of a result that outgrew the inline threshold.
type spillFile struct {
	path string
	f    *os.File
	w    *bufio.Writer
	rows int
}

// openSpill truncates path, writes the BOM and re-encodes everything buffered
// so far as CSV.
func openSpill(path, buffered string) (*spillFile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644) //nolint:gosec // path is built from the result dir
	if err != nil {
		return nil, err
	}
	s := &spillFile{path: path, f: f, w: bufio.NewWriter(f)}
	if _, err := s.w.Write(utf8BOM); err != nil {
		_ = s.Close()
		return nil, err
	}
	if _, err := s.w.WriteString(resultToCSV(buffered)); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// writeRow writes cells that were already normalized by cellString.
func (s *spillFile) writeRow(cells []string) error {
	for i, c := range cells {
		if i > 0 {
			if err := s.w.WriteByte(','); err != nil {
				return err
			}
		}
		if _, err := s.w.WriteString(`"` + c + `"`); err != nil {
			return err
		}
	}
	if err := s.w.WriteByte('\n'); err != nil {
		return err
	}
	s.rows++
	return nil
}

// Close flushes and closes the file. Safe to call more than once.
func (s *spillFile) Close() error {
	if s == nil || s.f == nil {
		return nil
	}
	flushErr := s.w.Flush()
	closeErr := s.f.Close()
	s.f = nil
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

// resultToCSV converts the tab-separated buffer to the spill CSV dialect:
// every field double-quoted, embedded double quotes turned into single quotes.
func resultToCSV(msg string) string {
	var b strings.Builder
	for _, line := range splitTrimTrailing(msg, "\n") {
		for i, tok := range splitTrimTrailing(line, "\t") {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteByte('"')
			b.WriteString(strings.ReplaceAll(tok, `"`, "'"))
			b.WriteByte('"')
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// splitTrimTrailing splits s on sep and drops trailing empty fields. A string
// without sep yields itself, including the empty string.
func splitTrimTrailing(s, sep string) []string {
	if !strings.Contains(s, sep) {
		return []string{s}
	}
	parts := strings.Split(s, sep)
	for len(parts) > 0 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	return parts
}
