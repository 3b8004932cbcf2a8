// Package config parses and validates the command-line surface described in
// spec §6.1, in the teacher's stdlib flag.* idiom, with an optional YAML
// file of startup defaults layered underneath the flags.
package config

import (
	"flag"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"aesarchive/internal/archive"
	"aesarchive/internal/errs"
	"aesarchive/internal/ptpclock"
	"aesarchive/internal/rtpinput"
	"aesarchive/internal/vox"
)

// Config is the fully parsed and validated process configuration.
type Config struct {
	// Archive / output
	ArchiveRoot   string
	SingleFile    string
	ArchiveLayout archive.Layout
	ArchiveFormat string
	ArchivePeriod int
	ArchiveClock  archive.ClockSource
	ArchiveSuffix string
	EnableFsync   bool

	// RTP input
	MulticastIP     string
	Port            int
	PayloadType     int
	SamplesPerPkt   int
	Interface       string
	SampleRate      int
	Channels        int
	StreamChannels  int
	ChannelOffset   int
	Codec           rtpinput.Codec

	// Local capture fallback
	LocalCapture bool
	InputDevice  string

	// Opus encoding
	Bitrate    int
	VBR        bool
	Complexity int

	// Queue/pool sizing
	QueueCapacity   int
	PoolSize        int
	SamplesPerFrame int

	// PTP
	PTPDevice    string
	PTPInterface string
	PTPSoftware  bool

	// VOX
	VOXEnabled    bool
	VOXThreshold  float64
	VOXRelease    float64
	VOXDetection  int
	VOXHangover   int
	VOXPreroll    int
	VOXLevelMode  vox.LevelMode
	VOXStereoMode vox.StereoMode

	// Levels, verbosity
	LevelsEnabled bool
	Verbose       int
	Quiet         int

	// defaultsFile, if non-empty, supplies startup defaults read before
	// flags are applied (spec §6.1 distinguishes this from the excluded
	// "persistent configuration storage": it is read once at start, never
	// written back to).
	defaultsFile string
}

// fileDefaults mirrors the subset of Config a YAML defaults file may set.
// Zero values mean "not specified"; flags always take precedence.
type fileDefaults struct {
	ArchiveRoot   string `yaml:"archive_root"`
	ArchiveLayout string `yaml:"archive_layout"`
	ArchiveSuffix string `yaml:"archive_suffix"`
	ArchivePeriod int    `yaml:"archive_period"`
	SampleRate    int    `yaml:"sample_rate"`
	Channels      int    `yaml:"channels"`
	Bitrate       int    `yaml:"bitrate"`
}

// Parse builds a Config from args, applying any --defaults-file YAML
// overlay before flag values, then validating the result.
func Parse(args []string) (*Config, error) {
	fs := flag.NewFlagSet("aesarchive", flag.ContinueOnError)

	defaultsPath := fs.String("defaults-file", "", "optional YAML file of startup defaults")

	archiveRoot := fs.String("archive-root", "", "archive root directory; enables rotation")
	singleFile := fs.String("o", "", "single-file output path (mutually exclusive with --archive-root)")
	archiveLayout := fs.String("archive-layout", "dailydir", "flat|hierarchy|combo|dailydir|accurate|custom")
	archiveFormat := fs.String("archive-format", "", "strftime template, required with --archive-layout custom")
	archivePeriod := fs.Int("archive-period", 3600, "rotation period in seconds (0 disables)")
	archiveClock := fs.String("archive-clock", "utc", "localtime|utc|ptp")
	archiveSuffix := fs.String("archive-suffix", "", "file extension without dot (defaults to wav or opus)")
	enableFsync := fs.Bool("fsync", false, "flush+sync after every sink write and on close")

	multicastIP := fs.String("m", "239.1.1.1", "RTP multicast group address")
	port := fs.Int("p", 5004, "RTP port")
	payloadType := fs.Int("pt", 96, "RTP payload type")
	samplesPerPkt := fs.Int("spp", 48, "samples per RTP packet")
	iface := fs.String("interface", "", "socket bind interface")
	sampleRate := fs.Int("r", 48000, "sample rate (Hz)")
	channels := fs.Int("c", 2, "channel count")
	streamChannels := fs.Int("stream-channels", 0, "total interleaved channels in the wire payload (defaults to -c)")
	channelOffset := fs.Int("channel-offset", 0, "first channel of the output subrange")
	codec := fs.String("codec", "l24", "l16|l24")

	localCapture := fs.Bool("local-capture", false, "use the local audio-server input instead of RTP")
	inputDevice := fs.String("input-device", "", "named local input device (local-capture only)")

	bitrate := fs.Int("bitrate", 64000, "Opus bitrate (bits/sec)")
	vbr := fs.Bool("vbr", true, "variable bitrate (--cbr disables)")
	cbr := fs.Bool("cbr", false, "constant bitrate")
	complexity := fs.Int("complexity", 10, "Opus encoder complexity (0-10)")

	queueCap := fs.Int("Q", 256, "SPSC queue capacity")
	poolSize := fs.Int("P", 512, "frame pool size")
	samplesPerFrame := fs.Int("F", 960, "samples per output frame")

	ptpDevice := fs.String("ptp-device", "", "PTP hardware clock device, e.g. /dev/ptp0")
	ptpInterface := fs.String("ptp-interface", "", "network interface whose PHC is resolved via ethtool")
	ptpSoftware := fs.Bool("ptp-software", false, "use the system clock, assumed synchronized by an external PTP daemon")

	voxEnabled := fs.Bool("vox", false, "enable voice-activity gating")
	voxThreshold := fs.Float64("vox-threshold", -30, "VOX open threshold (dB)")
	voxRelease := fs.Float64("vox-release", 0, "VOX release threshold (dB); 0 = auto (threshold-5)")
	voxDetection := fs.Int("vox-detection", 100, "VOX detection window (ms)")
	voxHangover := fs.Int("vox-hangover", 500, "VOX hangover window (ms)")
	voxPreroll := fs.Int("vox-preroll", 500, "VOX pre-roll buffer (ms)")
	voxLevel := fs.String("vox-level", "rms", "rms|peak")
	voxStereo := fs.String("vox-stereo", "avg", "avg|any")

	levelsEnabled := fs.Bool("levels", false, "enable periodic level emission on stdout")
	verbose := fs.Int("v", 0, "increase log verbosity (repeatable count via value)")
	quiet := fs.Int("q", 0, "decrease log verbosity (repeatable count via value)")

	if err := fs.Parse(args); err != nil {
		return nil, errs.Wrap(errs.InvalidConfig, "config: parse flags", err)
	}

	if *defaultsPath != "" {
		if err := applyFileDefaults(*defaultsPath, archiveRoot, archiveLayout, archiveSuffix, archivePeriod, sampleRate, channels, bitrate, fs); err != nil {
			return nil, err
		}
	}

	layout, err := archive.ParseLayout(*archiveLayout)
	if err != nil {
		return nil, err
	}
	clockSrc, err := archive.ParseClockSource(*archiveClock)
	if err != nil {
		return nil, err
	}
	codecVal, err := parseCodec(*codec)
	if err != nil {
		return nil, err
	}
	levelMode, err := parseLevelMode(*voxLevel)
	if err != nil {
		return nil, err
	}
	stereoMode, err := parseStereoMode(*voxStereo)
	if err != nil {
		return nil, err
	}

	if *archiveRoot != "" && *singleFile != "" {
		return nil, errs.New(errs.InvalidConfig, "config: --archive-root and -o are mutually exclusive")
	}
	if layout == archive.Custom && *archiveFormat == "" {
		return nil, errs.New(errs.InvalidConfig, "config: --archive-layout custom requires --archive-format")
	}

	suffix := *archiveSuffix
	if suffix == "" {
		suffix = "wav"
		if *bitrate > 0 && *complexity >= 0 {
			suffix = "opus" // default to the higher-quality container when encoding is configured at all
		}
	}

	streamCh := *streamChannels
	if streamCh == 0 {
		streamCh = *channels
	}

	cfg := &Config{
		ArchiveRoot:     *archiveRoot,
		SingleFile:      *singleFile,
		ArchiveLayout:   layout,
		ArchiveFormat:   *archiveFormat,
		ArchivePeriod:   *archivePeriod,
		ArchiveClock:    clockSrc,
		ArchiveSuffix:   suffix,
		EnableFsync:     *enableFsync,
		MulticastIP:     *multicastIP,
		Port:            *port,
		PayloadType:     *payloadType,
		SamplesPerPkt:   *samplesPerPkt,
		Interface:       *iface,
		SampleRate:      *sampleRate,
		Channels:        *channels,
		StreamChannels:  streamCh,
		ChannelOffset:   *channelOffset,
		Codec:           codecVal,
		LocalCapture:    *localCapture,
		InputDevice:     *inputDevice,
		Bitrate:         *bitrate,
		VBR:             *vbr && !*cbr,
		Complexity:      *complexity,
		QueueCapacity:   *queueCap,
		PoolSize:        *poolSize,
		SamplesPerFrame: *samplesPerFrame,
		PTPDevice:       *ptpDevice,
		PTPInterface:    *ptpInterface,
		PTPSoftware:     *ptpSoftware,
		VOXEnabled:      *voxEnabled,
		VOXThreshold:    *voxThreshold,
		VOXRelease:      *voxRelease,
		VOXDetection:    *voxDetection,
		VOXHangover:     *voxHangover,
		VOXPreroll:      *voxPreroll,
		VOXLevelMode:    levelMode,
		VOXStereoMode:   stereoMode,
		LevelsEnabled:   *levelsEnabled,
		Verbose:         *verbose,
		Quiet:           *quiet,
		defaultsFile:    *defaultsPath,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// PTPMode resolves the three PTP flags into a single ptpclock.Mode.
func (c *Config) PTPMode() ptpclock.Mode {
	switch {
	case c.PTPDevice != "" || c.PTPInterface != "":
		return ptpclock.ModeHardware
	case c.PTPSoftware:
		return ptpclock.ModeSoftware
	default:
		return ptpclock.ModeNone
	}
}

// Validate checks cross-field constraints not expressible as simple flag
// defaults.
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return errs.New(errs.InvalidConfig, "config: sample rate must be positive")
	}
	if c.Channels <= 0 {
		return errs.New(errs.InvalidConfig, "config: channel count must be positive")
	}
	if c.ChannelOffset < 0 || c.ChannelOffset+c.Channels > c.StreamChannels {
		return errs.New(errs.InvalidConfig, "config: channel-offset/stream-channels do not fit output channel count")
	}
	if c.QueueCapacity < 2 {
		return errs.New(errs.InvalidConfig, "config: queue capacity must be at least 2")
	}
	if c.PoolSize < 1 {
		return errs.New(errs.InvalidConfig, "config: pool size must be positive")
	}
	if c.SamplesPerFrame <= 0 {
		return errs.New(errs.InvalidConfig, "config: samples-per-frame must be positive")
	}
	if c.Complexity < 0 || c.Complexity > 10 {
		return errs.New(errs.InvalidConfig, "config: opus complexity must be in [0,10]")
	}
	return nil
}

func parseCodec(s string) (rtpinput.Codec, error) {
	switch s {
	case "l16":
		return rtpinput.L16, nil
	case "l24":
		return rtpinput.L24, nil
	default:
		return 0, errs.New(errs.InvalidConfig, "config: unknown codec "+s)
	}
}

func parseLevelMode(s string) (vox.LevelMode, error) {
	switch s {
	case "rms":
		return vox.LevelRMS, nil
	case "peak":
		return vox.LevelPeak, nil
	default:
		return 0, errs.New(errs.InvalidConfig, "config: unknown vox-level "+s)
	}
}

func parseStereoMode(s string) (vox.StereoMode, error) {
	switch s {
	case "avg":
		return vox.StereoAverage, nil
	case "any":
		return vox.StereoAny, nil
	default:
		return 0, errs.New(errs.InvalidConfig, "config: unknown vox-stereo "+s)
	}
}

// applyFileDefaults reads a YAML defaults file and, for every field left at
// its flag.Parse-assigned zero/default value, overwrites it — but only for
// flags the caller did not explicitly set on the command line.
func applyFileDefaults(path string, archiveRoot, archiveLayout, archiveSuffix *string, archivePeriod, sampleRate, channels, bitrate *int, fs *flag.FlagSet) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errs.Wrap(errs.IoError, "config: read defaults file "+path, err)
	}
	var fd fileDefaults
	if err := yaml.Unmarshal(data, &fd); err != nil {
		return errs.Wrap(errs.InvalidConfig, "config: parse defaults file "+path, err)
	}

	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if fd.ArchiveRoot != "" && !set["archive-root"] {
		*archiveRoot = fd.ArchiveRoot
	}
	if fd.ArchiveLayout != "" && !set["archive-layout"] {
		*archiveLayout = fd.ArchiveLayout
	}
	if fd.ArchiveSuffix != "" && !set["archive-suffix"] {
		*archiveSuffix = fd.ArchiveSuffix
	}
	if fd.ArchivePeriod != 0 && !set["archive-period"] {
		*archivePeriod = fd.ArchivePeriod
	}
	if fd.SampleRate != 0 && !set["r"] {
		*sampleRate = fd.SampleRate
	}
	if fd.Channels != 0 && !set["c"] {
		*channels = fd.Channels
	}
	if fd.Bitrate != 0 && !set["bitrate"] {
		*bitrate = fd.Bitrate
	}
	return nil
}

// String renders a one-line summary for startup logging.
func (c *Config) String() string {
	mode := "rtp"
	if c.LocalCapture {
		mode = "local"
	}
	return fmt.Sprintf("input=%s rate=%d channels=%d layout=%v suffix=%s vox=%v levels=%v",
		mode, c.SampleRate, c.Channels, c.ArchiveLayout, c.ArchiveSuffix, c.VOXEnabled, c.LevelsEnabled)
}
