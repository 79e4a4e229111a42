package disk

import (
	"encoding/json"
	"errors"
	"fmt"
)

// StampFile is the name of the stamp at the root of every swift disk
const StampFile = "fingerprint"

// ErrNoStamp is returned for disks that carry no readable stamp
var ErrNoStamp = errors.New("disk has no stamp")

// Stamp records which generation a disk was initialized for. The version
// and fingerprint keys are read by every release and must not change.
type Stamp struct {
	Version     int64  `json:"version"`
	Fingerprint string `json:"fingerprint"`
	Hostname    string `json:"hostname"`
	DevicePrx   string `json:"devicePrx"`
	DeviceNum   int    `json:"deviceNum"`
	DeviceCnt   int    `json:"deviceCnt"`
}

// DeviceName returns the swift device the disk is mounted as ("sdb2")
func (s Stamp) DeviceName() string {
	return fmt.Sprintf("%s%d", s.DevicePrx, s.DeviceNum)
}

// Encode renders the stamp as stored on disk
func (s Stamp) Encode() ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// DecodeStamp parses a stamp file
func DecodeStamp(data []byte) (Stamp, error) {
	var s Stamp
	if err := json.Unmarshal(data, &s); err != nil {
		return Stamp{}, fmt.Errorf("%w: %v", ErrNoStamp, err)
	}
	if s.Version <= 0 {
		return Stamp{}, fmt.Errorf("%w: version missing", ErrNoStamp)
	}
	return s, nil
}
