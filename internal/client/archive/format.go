package archive

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/dmitrijs2005/memovault/internal/common"
	"github.com/dmitrijs2005/memovault/internal/cryptox"
)

// File layout:
//
//	magic "MVAR" | version uint16 BE | salt[16] | nonce[12] | ciphertext | sha256[32]
//
// The header is bound to the ciphertext as additional data and the trailer
// covers everything before it.
const (
	Magic         = "MVAR"
	FormatVersion = uint16(1)

	headerSize  = len(Magic) + 2 + cryptox.SaltSize + cryptox.NonceSize
	trailerSize = sha256.Size
)

// seal encrypts payload under a key derived from password and frames it.
func seal(payload, password []byte) ([]byte, error) {
	salt := cryptox.NewSalt()
	nonce := cryptox.NewNonce()

	header := make([]byte, 0, headerSize)
	header = append(header, Magic...)
	header = binary.BigEndian.AppendUint16(header, FormatVersion)
	header = append(header, salt...)
	header = append(header, nonce...)

	key := cryptox.DeriveMasterKey(password, salt)
	ct, err := cryptox.Seal(key, nonce, payload, header)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(header)+len(ct)+trailerSize)
	out = append(out, header...)
	out = append(out, ct...)
	sum := sha256.Sum256(out)
	return append(out, sum[:]...), nil
}

// open verifies and decrypts a framed archive. The checksum is checked
// before the version, and the version before decryption.
func open(data, password []byte) ([]byte, error) {
	if len(data) < headerSize+trailerSize {
		return nil, fmt.Errorf("%w: file too short", common.ErrCorruptedArchive)
	}
	body, trailer := data[:len(data)-trailerSize], data[len(data)-trailerSize:]
	sum := sha256.Sum256(body)
	if !bytes.Equal(sum[:], trailer) {
		return nil, fmt.Errorf("%w: checksum mismatch", common.ErrCorruptedArchive)
	}
	if string(body[:len(Magic)]) != Magic {
		return nil, fmt.Errorf("%w: not an archive", common.ErrCorruptedArchive)
	}
	if v := binary.BigEndian.Uint16(body[len(Magic):]); v != FormatVersion {
		return nil, fmt.Errorf("%w: archive format %d, supported %d", common.ErrSchemaVersion, v, FormatVersion)
	}

	header := body[:headerSize]
	saltAt := len(Magic) + 2
	salt := header[saltAt : saltAt+cryptox.SaltSize]
	nonce := header[saltAt+cryptox.SaltSize:]

	key := cryptox.DeriveMasterKey(password, salt)
	return cryptox.Open(key, nonce, body[headerSize:], header)
}

// checksum returns the hex digest stored in the trailer.
func checksum(data []byte) string {
	if len(data) < trailerSize {
		return ""
	}
	return fmt.Sprintf("%x", data[len(data)-trailerSize:])
}
