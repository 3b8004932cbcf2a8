//go:build linux

package ptpclock

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	"aesarchive/internal/errs"
)

// clockfdConst is CLOCKFD from linux/posix-timers.h: the low 3 bits of a
// dynamic clockid_t that route clock_gettime() through a file descriptor.
const clockfdConst = 3

// fdToClockID implements the kernel's FD_TO_CLOCKID(fd) macro: a PTP
// character device's open file descriptor doubles as a dynamic clock id.
func fdToClockID(fd uintptr) int32 {
	return int32((^int64(fd) << 3) | clockfdConst)
}

type hardwareSource struct {
	f       *os.File
	clockID int32
}

// newHardwareSource opens a PTP hardware clock. If devicePath is empty and
// ifaceName is set, the PHC device is resolved from the network interface
// via an ETHTOOL_GET_TS_INFO ioctl (the same mechanism `ethtool -T` uses).
func newHardwareSource(devicePath, ifaceName string) (*hardwareSource, error) {
	path := devicePath
	if path == "" && ifaceName != "" {
		resolved, err := resolvePHCPath(ifaceName)
		if err != nil {
			return nil, errs.Wrap(errs.InvalidConfig, "ptpclock: resolve PHC for interface "+ifaceName, err)
		}
		path = resolved
	}
	if path == "" {
		return nil, errs.New(errs.InvalidConfig, "ptpclock: hardware mode requires --ptp-device or --ptp-interface")
	}

	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidConfig, "ptpclock: open "+path, err)
	}

	return &hardwareSource{f: f, clockID: fdToClockID(f.Fd())}, nil
}

func (h *hardwareSource) now() (int64, bool) {
	var ts unix.Timespec
	if err := unix.ClockGettime(h.clockID, &ts); err != nil {
		return 0, false
	}
	return ts.Nano(), true
}

func (h *hardwareSource) healthy() bool {
	_, ok := h.now()
	return ok
}

func (h *hardwareSource) close() error {
	if h.f == nil {
		return nil
	}
	return h.f.Close()
}

// ethtoolTSInfo mirrors struct ethtool_ts_info from linux/ethtool.h, used
// with ETHTOOL_GET_TS_INFO to discover which PHC device backs an interface.
type ethtoolTSInfo struct {
	cmd            uint32
	soTimestamping uint32
	phcIndex       int32
	txTypes        uint32
	txReserved     [3]uint32
	rxFilters      uint32
	rxReserved     [3]uint32
}

const (
	sizeIfreq          = 40 // IFNAMSIZ(16) + union data slot, matches unix.Ifreq layout
	ethtoolGetTSInfo    = 0x41
	siocETHTOOL         = 0x8946
)

// resolvePHCPath issues SIOCETHTOOL/ETHTOOL_GET_TS_INFO against ifaceName
// and returns the corresponding /dev/ptpN path.
func resolvePHCPath(ifaceName string) (string, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	if err != nil {
		return "", err
	}
	defer unix.Close(fd)

	info := ethtoolTSInfo{cmd: ethtoolGetTSInfo}

	var ifr struct {
		name [unix.IFNAMSIZ]byte
		data unsafe.Pointer
	}
	copy(ifr.name[:], ifaceName)
	ifr.data = unsafe.Pointer(&info)

	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(siocETHTOOL), uintptr(unsafe.Pointer(&ifr))); errno != 0 {
		return "", errno
	}

	if info.phcIndex < 0 {
		return "", fmt.Errorf("interface %s has no associated PTP hardware clock", ifaceName)
	}
	return fmt.Sprintf("/dev/ptp%d", info.phcIndex), nil
}
