package syncer

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/memovault/internal/client/models"
	"github.com/dmitrijs2005/memovault/internal/common"
)

// Remote layout:
//
//	changes/<deviceID>/<stamp:013d>-<changeID>.json   immutable record snapshot
//	blobs/<sha256>                                     attachment bytes
//
// A stamp is the publish order of the device, not the record time.
const (
	ChangesPrefix = "changes/"
	BlobsPrefix   = "blobs/"

	// ObjectFormat is the version of the change object encoding.
	ObjectFormat = 1
)

// ChangeObject is the JSON document stored under a change key.
type ChangeObject struct {
	Format    int             `json:"format"`
	DeviceID  string          `json:"deviceId"`
	ChangeID  string          `json:"changeId"`
	Operation models.ChangeOp `json:"operation"`
	Timestamp int64           `json:"timestamp"`
	Record    models.Record   `json:"record"`
}

// ChangeKey names the object for one change of a device.
func ChangeKey(deviceID string, ts int64, changeID string) string {
	return fmt.Sprintf("%s%s/%013d-%s.json", ChangesPrefix, deviceID, ts, changeID)
}

// BlobKey names the remote copy of an attachment.
func BlobKey(hash string) string { return BlobsPrefix + hash }

// ChangeKeyInfo is a parsed change key.
type ChangeKeyInfo struct {
	DeviceID  string
	Timestamp int64
	ChangeID  string
}

// ParseChangeKey splits a change key. It reports false for foreign keys.
func ParseChangeKey(key string) (ChangeKeyInfo, bool) {
	rest, ok := strings.CutPrefix(key, ChangesPrefix)
	if !ok {
		return ChangeKeyInfo{}, false
	}
	device, name, ok := strings.Cut(rest, "/")
	if !ok || device == "" || strings.Contains(name, "/") {
		return ChangeKeyInfo{}, false
	}
	name, ok = strings.CutSuffix(name, ".json")
	if !ok {
		return ChangeKeyInfo{}, false
	}
	tsPart, changeID, ok := strings.Cut(name, "-")
	if !ok || len(tsPart) != 13 || changeID == "" {
		return ChangeKeyInfo{}, false
	}
	ts, err := strconv.ParseInt(tsPart, 10, 64)
	if err != nil {
		return ChangeKeyInfo{}, false
	}
	return ChangeKeyInfo{DeviceID: device, Timestamp: ts, ChangeID: changeID}, true
}

func encodeObject(o ChangeObject) ([]byte, error) {
	return json.Marshal(o)
}

func decodeObject(data []byte) (ChangeObject, error) {
	var o ChangeObject
	if err := json.Unmarshal(data, &o); err != nil {
		return o, fmt.Errorf("%w: malformed change object: %v", common.ErrValidation, err)
	}
	if o.Format != ObjectFormat {
		return o, fmt.Errorf("%w: change object format %d", common.ErrSchemaVersion, o.Format)
	}
	if o.Record.ID == "" {
		return o, fmt.Errorf("%w: change object without record", common.ErrValidation)
	}
	return o, nil
}
