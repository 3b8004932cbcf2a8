// Package archive implements the wall-clock-aligned rotation policy and
// path generation described in spec §4.6.
package archive

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/lestrrat-go/strftime"

	"aesarchive/internal/errs"
)

// Layout selects the archive path template (spec §4.6).
type Layout int

const (
	Flat Layout = iota
	Hierarchy
	Combo
	DailyDir
	Accurate
	Custom
)

func ParseLayout(s string) (Layout, error) {
	switch s {
	case "flat":
		return Flat, nil
	case "hierarchy":
		return Hierarchy, nil
	case "combo":
		return Combo, nil
	case "dailydir":
		return DailyDir, nil
	case "accurate":
		return Accurate, nil
	case "custom":
		return Custom, nil
	default:
		return 0, errs.New(errs.InvalidConfig, "archive: unknown layout "+s)
	}
}

// ClockSource selects the timezone/source used for filename timestamps.
type ClockSource int

const (
	ClockLocal ClockSource = iota
	ClockUTC
	ClockPTP
)

func ParseClockSource(s string) (ClockSource, error) {
	switch s {
	case "localtime":
		return ClockLocal, nil
	case "utc":
		return ClockUTC, nil
	case "ptp":
		return ClockPTP, nil
	default:
		return 0, errs.New(errs.InvalidConfig, "archive: unknown clock source "+s)
	}
}

// Config parameterizes a Policy.
type Config struct {
	Layout       Layout
	RootDir      string
	Suffix       string // extension without dot
	PeriodSec    int    // 0 disables rotation
	ClockSource  ClockSource
	CustomFormat string // required when Layout == Custom
	MkdirAll     bool   // create intermediate directories
}

// Policy computes rotation boundaries and archive paths. It is not safe for
// concurrent use; the worker owns it exclusively (spec §4.10).
type Policy struct {
	cfg Config

	initialized    bool
	currentPeriodNS int64
	nextBoundaryNS  int64
	rotations       uint64
}

// New validates cfg and builds a Policy.
func New(cfg Config) (*Policy, error) {
	if cfg.Layout == Custom && cfg.CustomFormat == "" {
		return nil, errs.New(errs.InvalidConfig, "archive: custom layout requires a format template")
	}
	if cfg.RootDir == "" {
		return nil, errs.New(errs.InvalidConfig, "archive: root directory required")
	}
	if cfg.Suffix == "" {
		return nil, errs.New(errs.InvalidConfig, "archive: suffix required")
	}
	return &Policy{cfg: cfg}, nil
}

// location resolves the configured clock source to a *time.Location for
// broken-down-time rendering. ClockPTP uses UTC for naming purposes — PTP
// gives nanoseconds since the TAI epoch, not a timezone.
func (p *Policy) location() *time.Location {
	switch p.cfg.ClockSource {
	case ClockUTC, ClockPTP:
		return time.UTC
	default:
		return time.Local
	}
}

// periodBounds computes [start,end) for the rotation period containing t,
// per spec §4.6: for period<=86400s the day is divided into floor(86400/period)
// equal slots from midnight in t's location (the configured clock's
// timezone); otherwise periods start at unix epoch modulo period.
func (p *Policy) periodBounds(t time.Time) (start, end time.Time) {
	period := p.cfg.PeriodSec
	if period <= 0 {
		return t, time.Time{}
	}
	loc := t.Location()

	if period <= 86400 {
		midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
		secSinceMidnight := int(t.Sub(midnight).Seconds())
		slot := secSinceMidnight / period
		start = midnight.Add(time.Duration(slot*period) * time.Second)
		end = start.Add(time.Duration(period) * time.Second)
		return
	}

	unixSec := t.Unix()
	startUnix := (unixSec / int64(period)) * int64(period)
	start = time.Unix(startUnix, 0).In(loc)
	end = start.Add(time.Duration(period) * time.Second)
	return
}

// ShouldRotate reports whether a new file must be opened: true the very
// first time it is called (initial file), and whenever nowNS has reached
// or passed the current boundary.
func (p *Policy) ShouldRotate(nowNS int64) bool {
	if !p.initialized {
		return true
	}
	if p.cfg.PeriodSec <= 0 {
		return false
	}
	return nowNS >= p.nextBoundaryNS
}

// NextPath computes the path for the period containing nowNS, creates
// intermediate directories if configured, and updates the policy's period
// bookkeeping (but does not commit the rotation — see Advance).
func (p *Policy) NextPath(nowNS int64) (string, error) {
	t := time.Unix(0, nowNS).In(p.location())
	start, end := p.periodBounds(t)

	p.currentPeriodNS = start.UnixNano()
	if p.cfg.PeriodSec <= 0 {
		p.nextBoundaryNS = math.MaxInt64
	} else {
		p.nextBoundaryNS = end.UnixNano()
	}

	refTime := start
	if p.cfg.Layout == Accurate {
		refTime = t // instantaneous time with centisecond precision
	}

	path, err := p.renderPath(refTime, t)
	if err != nil {
		return "", err
	}

	if p.cfg.MkdirAll {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", errs.Wrap(errs.IoError, "archive: mkdir "+filepath.Dir(path), err)
		}
	}
	return path, nil
}

// Advance commits the rotation computed by the most recent NextPath call.
func (p *Policy) Advance() {
	p.initialized = true
	p.rotations++
}

// Rotations returns the number of rotations committed so far.
func (p *Policy) Rotations() uint64 { return p.rotations }

// CurrentPeriodNS and NextBoundaryNS expose the policy's bookkeeping for
// tests: invariant is nextBoundaryNS - currentPeriodNS == periodSec*1e9
// whenever periodSec > 0.
func (p *Policy) CurrentPeriodNS() int64 { return p.currentPeriodNS }
func (p *Policy) NextBoundaryNS() int64  { return p.nextBoundaryNS }

func (p *Policy) renderPath(periodStart, instant time.Time) (string, error) {
	y, mo, d := periodStart.Date()
	h := periodStart.Hour()

	switch p.cfg.Layout {
	case Flat:
		name := fmt.Sprintf("%04d-%02d-%02d-%02d.%s", y, mo, d, h, p.cfg.Suffix)
		return filepath.Join(p.cfg.RootDir, name), nil

	case Hierarchy:
		return filepath.Join(p.cfg.RootDir,
			fmt.Sprintf("%04d", y), fmt.Sprintf("%02d", mo), fmt.Sprintf("%02d", d), fmt.Sprintf("%02d", h),
			"archive."+p.cfg.Suffix), nil

	case Combo:
		name := fmt.Sprintf("%04d-%02d-%02d-%02d.%s", y, mo, d, h, p.cfg.Suffix)
		return filepath.Join(p.cfg.RootDir,
			fmt.Sprintf("%04d", y), fmt.Sprintf("%02d", mo), fmt.Sprintf("%02d", d), fmt.Sprintf("%02d", h),
			name), nil

	case DailyDir:
		dayDir := fmt.Sprintf("%04d-%02d-%02d", y, mo, d)
		name := fmt.Sprintf("%04d-%02d-%02d-%02d.%s", y, mo, d, h, p.cfg.Suffix)
		return filepath.Join(p.cfg.RootDir, dayDir, name), nil

	case Accurate:
		dayDir := fmt.Sprintf("%04d-%02d-%02d", y, mo, d)
		cs := instant.Nanosecond() / 10_000_000 // centiseconds
		name := fmt.Sprintf("%04d-%02d-%02d-%02d-%02d-%02d-%02d.%s",
			y, mo, d, h, instant.Minute(), instant.Second(), cs, p.cfg.Suffix)
		return filepath.Join(p.cfg.RootDir, dayDir, name), nil

	case Custom:
		rendered, err := strftime.Format(p.cfg.CustomFormat, periodStart)
		if err != nil {
			return "", errs.Wrap(errs.InvalidConfig, "archive: render custom format", err)
		}
		return filepath.Join(p.cfg.RootDir, rendered+"."+p.cfg.Suffix), nil

	default:
		return "", errs.New(errs.InvalidConfig, "archive: unknown layout")
	}
}
