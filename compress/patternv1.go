package compress

import "github.com/VasilyKirillov/smbjclient/smb2"

// minPatternRun is the shortest run worth a PATTERN_V1 payload.
const minPatternRun = 64

// ScanForDataPatternsV1 scans the buffer for runs of one repeated byte at
// its start and at its end. A run shorter than minPatternRun is reported
// with zero repetitions; backward is nil when the whole buffer is one run.
func ScanForDataPatternsV1(buf []byte) (forward, backward *smb2.PatternV1) {
	if len(buf) == 0 {
		return
	}

	forward = &smb2.PatternV1{Pattern: buf[0], Repetitions: 1}
	for i := 1; i < len(buf) && buf[i] == forward.Pattern; i++ {
		forward.Repetitions++
	}

	if forward.Repetitions == uint32(len(buf)) {
		if forward.Repetitions < minPatternRun {
			forward.Repetitions = 0
		}
		return
	}

	if forward.Repetitions < minPatternRun {
		forward.Repetitions = 0
	}

	backward = &smb2.PatternV1{Pattern: buf[len(buf)-1], Repetitions: 1}
	for i := len(buf) - 2; i >= int(forward.Repetitions) && buf[i] == backward.Pattern; i-- {
		backward.Repetitions++
	}

	if backward.Repetitions < minPatternRun {
		backward.Repetitions = 0
	}

	return
}

// expand returns the run described by the pattern.
func expand(p smb2.PatternV1) []byte {
	b := make([]byte, p.Repetitions)
	for i := range b {
		b[i] = p.Pattern
	}
	return b
}
