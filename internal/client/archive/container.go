package archive

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/dmitrijs2005/memovault/internal/client/blobstore"
	"github.com/dmitrijs2005/memovault/internal/client/models"
	"github.com/dmitrijs2005/memovault/internal/common"
	"github.com/klauspost/compress/zip"
)

const (
	ManifestVersion = 1

	manifestName = "manifest.json"
	recordsName  = "records.json"
	blobsDir     = "blobs/"
)

// Manifest describes the container contents.
type Manifest struct {
	Version          int    `json:"version"`
	CreatedAt        int64  `json:"createdAt"`
	ItemCount        int    `json:"itemCount"`
	IncludesBinaries bool   `json:"includesBinaries"`
	DeviceID         string `json:"deviceId,omitempty"`
}

type contents struct {
	manifest Manifest
	records  []models.Record
	blobs    map[string][]byte
}

func writeContainer(c contents) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	add := func(name string, data []byte) error {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
		if err != nil {
			return fmt.Errorf("failed to add %s: %w", name, err)
		}
		if _, err := w.Write(data); err != nil {
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
		return nil
	}

	manifest, err := json.Marshal(c.manifest)
	if err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := add(manifestName, manifest); err != nil {
		return nil, err
	}

	records := c.records
	if records == nil {
		records = []models.Record{}
	}
	data, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("failed to encode records: %w", err)
	}
	if err := add(recordsName, data); err != nil {
		return nil, err
	}

	hashes := make([]string, 0, len(c.blobs))
	for h := range c.blobs {
		hashes = append(hashes, h)
	}
	sort.Strings(hashes)
	for _, h := range hashes {
		if err := add(blobsDir+h, c.blobs[h]); err != nil {
			return nil, err
		}
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish container: %w", err)
	}
	return buf.Bytes(), nil
}

func readContainer(data []byte) (contents, error) {
	var c contents
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return c, fmt.Errorf("%w: container: %v", common.ErrCorruptedArchive, err)
	}

	var haveManifest, haveRecords bool
	c.blobs = make(map[string][]byte)
	for _, f := range zr.File {
		raw, err := readEntry(f)
		if err != nil {
			return c, err
		}
		switch {
		case f.Name == manifestName:
			if err := json.Unmarshal(raw, &c.manifest); err != nil {
				return c, fmt.Errorf("%w: manifest: %v", common.ErrCorruptedArchive, err)
			}
			haveManifest = true
		case f.Name == recordsName:
			if err := json.Unmarshal(raw, &c.records); err != nil {
				return c, fmt.Errorf("%w: records: %v", common.ErrCorruptedArchive, err)
			}
			haveRecords = true
		case strings.HasPrefix(f.Name, blobsDir):
			hash := strings.TrimPrefix(f.Name, blobsDir)
			if !blobstore.ValidHash(hash) {
				return c, fmt.Errorf("%w: bad blob entry %q", common.ErrCorruptedArchive, f.Name)
			}
			c.blobs[hash] = raw
		}
	}

	if !haveManifest || !haveRecords {
		return c, fmt.Errorf("%w: container is missing %s or %s", common.ErrCorruptedArchive, manifestName, recordsName)
	}
	if c.manifest.Version != ManifestVersion {
		return c, fmt.Errorf("%w: manifest version %d, supported %d", common.ErrSchemaVersion, c.manifest.Version, ManifestVersion)
	}
	return c, nil
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", common.ErrCorruptedArchive, f.Name, err)
	}
	defer rc.Close()
	raw, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", common.ErrCorruptedArchive, f.Name, err)
	}
	return raw, nil
}
