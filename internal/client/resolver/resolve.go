// Package resolver decides concurrent edits of the same record with
// last-write-wins and keeps the conflict audit trail.
package resolver

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"strconv"

	"github.com/dmitrijs2005/memovault/internal/client/models"
)

// Resolution is the outcome of one resolution. WinnerOrigin is OriginLocal
// or the origin of the incoming record.
type Resolution struct {
	Winner       models.Record
	WinnerOrigin models.Origin
	Conflict     models.ConflictRecord
}

// LocalWon reports whether the local record was kept.
func (r Resolution) LocalWon() bool { return r.WinnerOrigin == models.OriginLocal }

// Resolve picks the winner of local against remote.
//
// The record with the strictly greater UpdatedAt wins whole. On equal
// timestamps the higher Version wins, then the greater canonical digest.
// The ordering is total, so Resolve(a, b) and Resolve(b, a) agree.
// The returned conflict has no ID; the caller assigns one on persist.
func Resolve(local, remote models.Record, detectedAt int64) Resolution {
	remoteWins := compare(remote, local) > 0

	res := Resolution{
		Winner:       local.Clone(),
		WinnerOrigin: models.OriginLocal,
		Conflict: models.ConflictRecord{
			ItemID:          local.ID,
			LocalTimestamp:  local.UpdatedAt,
			RemoteTimestamp: remote.UpdatedAt,
			Resolution:      models.ResolutionLastWriteWins,
			Winner:          models.OriginLocal.String(),
			DetectedAt:      detectedAt,
		},
	}
	if remoteWins {
		res.Winner = remote.Clone()
		res.WinnerOrigin = models.OriginRemote
		res.Conflict.Winner = models.OriginRemote.String()
	}
	return res
}

// compare orders records by (UpdatedAt, Version, digest).
func compare(a, b models.Record) int {
	switch {
	case a.UpdatedAt > b.UpdatedAt:
		return 1
	case a.UpdatedAt < b.UpdatedAt:
		return -1
	case a.Version > b.Version:
		return 1
	case a.Version < b.Version:
		return -1
	}
	da, db := Digest(a), Digest(b)
	return bytes.Compare(da[:], db[:])
}

// Digest is a SHA-256 over every field of r in a fixed, length-prefixed layout.
func Digest(r models.Record) [32]byte {
	h := sha256.New()
	var lenBuf [8]byte
	write := func(s string) {
		binary.BigEndian.PutUint64(lenBuf[:], uint64(len(s)))
		h.Write(lenBuf[:])
		h.Write([]byte(s))
	}
	write(r.ID)
	write(strconv.FormatInt(r.Version, 10))
	write(strconv.FormatInt(r.CreatedAt, 10))
	write(strconv.FormatInt(r.UpdatedAt, 10))
	write(strconv.FormatBool(r.IsDeleted))
	write(r.ContentHash)
	write(r.Title)
	write(strconv.Itoa(len(r.Tags)))
	for _, t := range r.Tags {
		write(t)
	}
	write(r.Summary)
	write(r.SourceURL)
	write(string(r.MediaType))
	write(r.BlobKey)

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
