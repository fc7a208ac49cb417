// Package ephys reads Neuropixels-style recordings: the .meta sidecar, the
// calibrated headstage sample rates and the sync channel of the binary.
package ephys

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Meta is the subset of the acquisition sidecar synchronization needs.
type Meta struct {
	Channels    int
	HeadstageSN string
	ProbeSN     string
	SampleRate  float64
	Raw         map[string]string
}

// readPairs collects the key=value lines of a sidecar. Lines without a
// separator are skipped.
func readPairs(r io.Reader) (map[string]string, error) {
	raw := make(map[string]string)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(sc.Text()), "=")
		if !ok {
			continue
		}
		raw[key] = value
	}
	return raw, sc.Err()
}

// ParseMeta reads key=value lines. The channel count is the sum of the first
// and last entries of acqApLfSy (AP channels plus sync channels).
func ParseMeta(r io.Reader) (Meta, error) {
	raw, err := readPairs(r)
	if err != nil {
		return Meta{}, err
	}
	m := Meta{
		Raw:         raw,
		HeadstageSN: raw["imDatHs_sn"],
		ProbeSN:     raw["imDatPrb_sn"],
	}
	m.SampleRate, _ = strconv.ParseFloat(raw["imSampRate"], 64)
	if value, ok := raw["acqApLfSy"]; ok {
		parts := strings.Split(value, ",")
		first, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
		last, err2 := strconv.Atoi(strings.TrimSpace(parts[len(parts)-1]))
		if err1 != nil || err2 != nil {
			return Meta{}, fmt.Errorf("bad acqApLfSy %q", value)
		}
		m.Channels = first + last
	}
	if m.Channels <= 0 {
		return Meta{}, fmt.Errorf("no channel count (acqApLfSy) in meta")
	}
	return m, nil
}

// LoadMeta reads the sidecar that belongs to a .bin recording.
func LoadMeta(binPath string) (Meta, error) {
	metaPath := strings.TrimSuffix(binPath, ".bin") + ".meta"
	f, err := os.Open(metaPath)
	if err != nil {
		return Meta{}, err
	}
	defer f.Close()

	m, err := ParseMeta(f)
	if err != nil {
		return Meta{}, fmt.Errorf("%s: %w", filepath.Base(metaPath), err)
	}
	return m, nil
}

// Recording names one probe binary inside a session.
type Recording struct {
	Path  string
	Key   string
	Probe string
}

// ParseRecording splits "<key>.<probe>.<type>.bin", e.g.
// 20240101_g0_t0.imec0.ap.bin → key "20240101_g0_t0.imec0", probe "imec0".
func ParseRecording(path string) (Recording, bool) {
	base := filepath.Base(path)
	parts := strings.Split(base, ".")
	if len(parts) < 4 || parts[len(parts)-1] != "bin" {
		return Recording{}, false
	}
	return Recording{
		Path:  path,
		Key:   strings.Join(parts[:len(parts)-2], "."),
		Probe: parts[len(parts)-3],
	}, true
}

// FindRecordings walks root for binaries of the given stream type ("ap", "lf").
func FindRecordings(root, fileType string) ([]Recording, error) {
	suffix := "." + fileType + ".bin"
	var out []Recording
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), suffix) {
			return nil
		}
		if rec, ok := ParseRecording(path); ok {
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}
