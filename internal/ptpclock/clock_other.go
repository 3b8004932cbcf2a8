//go:build !linux

package ptpclock

import "aesarchive/internal/errs"

// newHardwareSource is unsupported outside Linux; PTP character devices and
// the ethtool PHC-resolution ioctl are Linux-specific.
func newHardwareSource(devicePath, ifaceName string) (source, error) {
	return nil, errs.New(errs.InvalidConfig, "ptpclock: hardware PTP mode requires Linux")
}
