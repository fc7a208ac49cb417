package sequence

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

var ErrNoReference = errors.New("no sync controller log found")

// Reference is the train of pulse durations (ms) the sync controller
// reports it emitted.
type Reference []float64

// ReadReference parses a controller log: headerLines lines of preamble, then
// one duration per line. Blank lines are ignored.
func ReadReference(r io.Reader, headerLines int) (Reference, error) {
	sc := bufio.NewScanner(r)
	var ref Reference
	line := 0
	for sc.Scan() {
		line++
		if line <= headerLines {
			continue
		}
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		v, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: parsing duration %q: %w", line, text, err)
		}
		ref = append(ref, v)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading controller log: %w", err)
	}
	return ref, nil
}

// LoadReference reads the first (lexically) file in dir matching pattern.
func LoadReference(dir, pattern string, headerLines int) (Reference, string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, "", fmt.Errorf("bad reference pattern %q: %w", pattern, err)
	}
	if len(matches) == 0 {
		return nil, "", fmt.Errorf("%w in %s", ErrNoReference, dir)
	}
	sort.Strings(matches)

	f, err := os.Open(matches[0])
	if err != nil {
		return nil, "", err
	}
	defer f.Close()

	ref, err := ReadReference(f, headerLines)
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", filepath.Base(matches[0]), err)
	}
	return ref, matches[0], nil
}
