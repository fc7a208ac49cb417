package pulse

// Bounds is the recording window recovered from camera-trigger pulses.
// Found is false when too few pulses follow the dead time; LargestGap is
// filled in either way.
type Bounds struct {
	Start      int
	End        int
	LargestGap int
	GapIndex   int
	Found      bool
}

// Duration is the number of samples in [Start, End].
func (b Bounds) Duration() int {
	if !b.Found {
		return 0
	}
	return b.End - b.Start + 1
}

// FindBounds treats the largest gap between consecutive rising edges as the
// dead time before recording and counts totalFrames pulses from the edge that
// ends it. rising holds transition indices as returned by Transitions.
func FindBounds(rising []int, totalFrames int) Bounds {
	if len(rising) < 2 {
		return Bounds{}
	}

	gap, hop := 0, 0
	for i := 1; i < len(rising); i++ {
		if d := rising[i] - rising[i-1]; d > gap {
			gap, hop = d, i
		}
	}

	b := Bounds{LargestGap: gap, GapIndex: hop}
	if totalFrames <= 0 || len(rising)-hop-1 < totalFrames {
		return b
	}

	b.Start = rising[hop] + 1
	b.End = rising[hop+totalFrames] + 1
	b.Found = true
	return b
}

// FrameStarts returns, for each of the n frames, its trigger sample relative
// to Start.
func (b Bounds) FrameStarts(rising []int, n int) []int {
	if !b.Found {
		return nil
	}
	out := make([]int, 0, n)
	for fr := 0; fr < n && b.GapIndex+fr < len(rising); fr++ {
		out = append(out, rising[b.GapIndex+fr]+1-b.Start)
	}
	return out
}
