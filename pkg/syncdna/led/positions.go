// Package led recovers the sync pulse train from LEDs visible in a camera's
// field of view.
package led

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// CurrentVersion names the era with no cut-off date.
const CurrentVersion = "current"

const versionDateLayout = "2006_01_02"

var ErrUnknownPosition = errors.New("no LED positions for camera")

// Region is the nominal (or calibrated) pixel of one LED.
type Region struct {
	Name string
	Row  int
	Col  int
}

// Era is the LED layout valid for sessions recorded before Until. The current
// era has a zero Until.
type Era struct {
	Version string
	Until   time.Time
	Cameras map[string][]Region
}

// PositionTable is an immutable, version-keyed table of LED positions.
// Rigs get moved, so positions are looked up per era.
type PositionTable struct {
	eras []Era
}

// ParseVersion turns an era key such as "<2024_09_20" into its cut-off date.
// The current version has no cut-off.
func ParseVersion(version string) (time.Time, error) {
	if version == CurrentVersion {
		return time.Time{}, nil
	}
	if len(version) < 2 || version[0] != '<' {
		return time.Time{}, fmt.Errorf("invalid LED era %q", version)
	}
	until, err := time.Parse(versionDateLayout, version[1:])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid LED era %q: %w", version, err)
	}
	return until, nil
}

// NewPositionTable deep-copies layout (version → camera → regions).
func NewPositionTable(layout map[string]map[string][]Region) (*PositionTable, error) {
	t := &PositionTable{}
	for version, cams := range layout {
		until, err := ParseVersion(version)
		if err != nil {
			return nil, err
		}
		era := Era{Version: version, Until: until, Cameras: make(map[string][]Region, len(cams))}
		for cam, regions := range cams {
			if len(regions) == 0 {
				return nil, fmt.Errorf("LED era %s camera %s: no regions", version, cam)
			}
			era.Cameras[cam] = append([]Region(nil), regions...)
		}
		t.eras = append(t.eras, era)
	}

	// dated eras ascending, current last
	sort.Slice(t.eras, func(i, j int) bool {
		a, b := t.eras[i].Until, t.eras[j].Until
		if a.IsZero() != b.IsZero() {
			return b.IsZero()
		}
		return a.Before(b)
	})
	return t, nil
}

// Versions lists era keys oldest first.
func (t *PositionTable) Versions() []string {
	out := make([]string, len(t.eras))
	for i, e := range t.eras {
		out[i] = e.Version
	}
	return out
}

// VersionFor returns the era a session recorded on date belongs to.
func (t *PositionTable) VersionFor(date time.Time) string {
	for _, e := range t.eras {
		if !e.Until.IsZero() && date.Before(e.Until) {
			return e.Version
		}
	}
	return CurrentVersion
}

// Lookup returns a copy of the camera's regions for the given era.
func (t *PositionTable) Lookup(version, camera string) ([]Region, error) {
	for _, e := range t.eras {
		if e.Version != version {
			continue
		}
		regions, ok := e.Cameras[camera]
		if !ok {
			break
		}
		return append([]Region(nil), regions...), nil
	}
	return nil, fmt.Errorf("%w %s in era %s", ErrUnknownPosition, camera, version)
}

func leds(top, middle, bottom [2]int) []Region {
	return []Region{
		{Name: "LED_top", Row: top[0], Col: top[1]},
		{Name: "LED_middle", Row: middle[0], Col: middle[1]},
		{Name: "LED_bottom", Row: bottom[0], Col: bottom[1]},
	}
}

// DefaultLayout is the position history of the acquisition rig.
func DefaultLayout() map[string]map[string][]Region {
	return map[string]map[string][]Region{
		"<2022_08_15": {
			"21241563": leds([2]int{276, 1248}, [2]int{348, 1260}, [2]int{377, 1227}),
			"21372315": leds([2]int{499, 1251}, [2]int{567, 1225}, [2]int{575, 1249}),
		},
		"<2022_12_09": {
			"21241563": leds([2]int{276, 1243}, [2]int{348, 1258}, [2]int{377, 1225}),
			"21372315": leds([2]int{518, 1262}, [2]int{587, 1237}, [2]int{593, 1260}),
			"21372316": leds([2]int{1000, 603}, [2]int{1003, 598}, [2]int{1004, 691}),
		},
		"<2023_01_19": {
			"21241563": leds([2]int{275, 1266}, [2]int{345, 1272}, [2]int{375, 1245}),
			"21372315": leds([2]int{520, 1260}, [2]int{590, 1230}, [2]int{595, 1260}),
			"21372316": leds([2]int{1000, 605}, [2]int{1004, 601}, [2]int{1005, 694}),
		},
		"<2023_08_01": {
			"21241563": leds([2]int{275, 1260}, [2]int{345, 1270}, [2]int{380, 1233}),
			"21372315": leds([2]int{520, 1255}, [2]int{590, 1230}, [2]int{595, 1257}),
		},
		"<2024_01_01": {
			"21372315": leds([2]int{514, 1255}, [2]int{575, 1235}, [2]int{590, 1261}),
		},
		"<2024_09_20": {
			"21241563": leds([2]int{315, 1250}, [2]int{355, 1255}, [2]int{400, 1264}),
			"21372315": leds([2]int{510, 1268}, [2]int{555, 1268}, [2]int{603, 1266}),
		},
		"<2025_05_08": {
			"21241563": leds([2]int{317, 1247}, [2]int{360, 1254}, [2]int{403, 1262}),
			"21372315": leds([2]int{507, 1267}, [2]int{554, 1267}, [2]int{601, 1266}),
		},
		"<2025_09_21": {
			"21241563": leds([2]int{310, 1245}, [2]int{358, 1248}, [2]int{402, 1255}),
			"21372315": leds([2]int{504, 1261}, [2]int{551, 1260}, [2]int{598, 1260}),
		},
		CurrentVersion: {
			"21241563": leds([2]int{296, 1234}, [2]int{339, 1244}, [2]int{383, 1252}),
			"21372315": leds([2]int{504, 1267}, [2]int{551, 1268}, [2]int{599, 1265}),
		},
	}
}

// DefaultPositionTable builds the table from DefaultLayout.
func DefaultPositionTable() *PositionTable {
	t, err := NewPositionTable(DefaultLayout())
	if err != nil {
		panic(err)
	}
	return t
}
