package ptpclock

import "time"

func nowWallClock() int64 { return time.Now().UnixNano() }

// softwareSource implements ModeSoftware: the system real-time clock,
// assumed kept in sync with PTP by an external daemon (e.g. ptp4l in
// software timestamping mode). No device handle is required.
type softwareSource struct{}

func newSoftwareSource() *softwareSource { return &softwareSource{} }

func (s *softwareSource) now() (int64, bool) { return time.Now().UnixNano(), true }
func (s *softwareSource) healthy() bool      { return true }
func (s *softwareSource) close() error       { return nil }
