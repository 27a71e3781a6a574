package syncer

import (
	"testing"

	"github.com/dmitrijs2005/memovault/internal/client/models"
	"github.com/dmitrijs2005/memovault/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChangeKey_RoundTrip(t *testing.T) {
	key := ChangeKey("dev-1", 1700000000123, "0190a1b2-c3d4")
	assert.Equal(t, "changes/dev-1/1700000000123-0190a1b2-c3d4.json", key)

	info, ok := ParseChangeKey(key)
	require.True(t, ok)
	assert.Equal(t, ChangeKeyInfo{DeviceID: "dev-1", Timestamp: 1700000000123, ChangeID: "0190a1b2-c3d4"}, info)
}

func TestChangeKey_SortsByTimestamp(t *testing.T) {
	assert.Less(t, ChangeKey("d", 99, "z"), ChangeKey("d", 100, "a"))
}

func TestParseChangeKey_Rejects(t *testing.T) {
	for _, k := range []string{
		"blobs/abc",
		"changes/dev.json",
		"changes//0000000000001-a.json",
		"changes/dev/1-a.json",
		"changes/dev/0000000000001-a.txt",
		"changes/dev/x/0000000000001-a.json",
		"changes/dev/000000000000x-a.json",
	} {
		_, ok := ParseChangeKey(k)
		assert.False(t, ok, k)
	}
}

func TestDecodeObject(t *testing.T) {
	data, err := encodeObject(ChangeObject{Format: ObjectFormat, DeviceID: "d", Record: models.Record{ID: "r"}})
	require.NoError(t, err)
	o, err := decodeObject(data)
	require.NoError(t, err)
	assert.Equal(t, "r", o.Record.ID)

	_, err = decodeObject([]byte("{"))
	assert.ErrorIs(t, err, common.ErrValidation)

	data, _ = encodeObject(ChangeObject{Format: 99, Record: models.Record{ID: "r"}})
	_, err = decodeObject(data)
	assert.ErrorIs(t, err, common.ErrSchemaVersion)
}
