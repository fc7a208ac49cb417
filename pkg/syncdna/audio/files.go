package audio

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var channelFileRe = regexp.MustCompile(`^([A-Za-z0-9]+)_.*_ch(\d+)(?:` + CroppedSuffix + `)?\.wav$`)

// CroppedSuffix marks channel files trimmed to the video span.
const CroppedSuffix = "_cropped_to_video"

// CroppedName is the file name of path's trimmed copy.
func CroppedName(path string) string {
	return strings.TrimSuffix(filepath.Base(path), ".wav") + CroppedSuffix + ".wav"
}

// ChannelFile is one per-channel recording, e.g. m_240101120000_ch02.wav.
type ChannelFile struct {
	Path    string
	Device  string
	Channel int
}

// ParseChannelFile extracts device and channel from a file name.
func ParseChannelFile(path string) (ChannelFile, bool) {
	m := channelFileRe.FindStringSubmatch(filepath.Base(path))
	if m == nil {
		return ChannelFile{}, false
	}
	ch, err := strconv.Atoi(m[2])
	if err != nil {
		return ChannelFile{}, false
	}
	return ChannelFile{Path: path, Device: m[1], Channel: ch}, true
}

// ListChannelFiles returns the recordings in dir, ordered by device then
// channel. An empty device matches every device.
func ListChannelFiles(dir, device string) ([]ChannelFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []ChannelFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		cf, ok := ParseChannelFile(filepath.Join(dir, e.Name()))
		if !ok || (device != "" && cf.Device != device) {
			continue
		}
		out = append(out, cf)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Device != out[j].Device {
			return out[i].Device < out[j].Device
		}
		return out[i].Channel < out[j].Channel
	})
	return out, nil
}

// FindChannelFile returns the device's recording of one channel.
func FindChannelFile(dir, device string, channel int) (ChannelFile, error) {
	files, err := ListChannelFiles(dir, device)
	if err != nil {
		return ChannelFile{}, err
	}
	for _, f := range files {
		if f.Channel == channel {
			return f, nil
		}
	}
	return ChannelFile{}, fmt.Errorf("no %s channel %d recording in %s", device, channel, dir)
}
