package utils

import "time"

// Filetime counts 100-nanosecond intervals since January 1, 1601 (UTC).
const filetimeEpochDelta = 116444736000000000

// TimeToFiletime converts t to Filetime. The zero time maps to 0.
func TimeToFiletime(t time.Time) uint64 {
	if t.IsZero() {
		return 0
	}
	return uint64(t.UnixNano()/100 + filetimeEpochDelta)
}

// FiletimeToTime converts Filetime to time.Time. 0 maps to the zero time.
func FiletimeToTime(ft uint64) time.Time {
	if ft == 0 {
		return time.Time{}
	}
	ns := (int64(ft) - filetimeEpochDelta) * 100
	return time.Unix(0, ns).UTC()
}
