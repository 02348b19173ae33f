package state

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"
)

// deviceNamespace scopes every name-based UUID derived from a device seed.
var deviceNamespace = uuid.MustParse("5b0cbb3c-6d3e-4f8e-9a55-1d1e3c6f0a7b")

// Device is the synthetic handset identity presented to the server.
type Device struct {
	DeviceID     string `json:"deviceId"`
	UUID         string `json:"uuid"`
	PhoneID      string `json:"phoneId"`
	AdID         string `json:"adid"`
	DeviceString string `json:"deviceString"`
	Build        string `json:"build"`
}

// GenerateDevice derives a device identity from seed. The same seed always
// yields the same identity.
func GenerateDevice(seed string) Device {
	sum := sha256.Sum256([]byte(seed))
	return Device{
		DeviceID:     "android-" + hex.EncodeToString(sum[:8]),
		UUID:         seededUUID(seed, "uuid"),
		PhoneID:      seededUUID(seed, "phone_id"),
		AdID:         seededUUID(seed, "adid"),
		DeviceString: DefaultDeviceString,
		Build:        DefaultBuild,
	}
}

func seededUUID(seed, label string) string {
	return uuid.NewSHA1(deviceNamespace, []byte(label+":"+seed)).String()
}
