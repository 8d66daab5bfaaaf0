package vm

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/fxamacker/cbor/v2"
)

// unitMagic opens every serialized unit: "RNUT"
var unitMagic = [4]byte{'R', 'N', 'U', 'T'}

// unitFormatVersion is bumped whenever the instruction set or a table changes shape
const unitFormatVersion byte = 0x02

var unitEncMode cbor.EncMode

func init() {
	// Canonical mode keeps the encoding deterministic: the same unit always
	// serializes to the same bytes.
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("vm: failed to create CBOR enc mode: %v", err))
	}
	unitEncMode = em
}

// Serialize converts a Unit to binary format.
// Format:
// - Magic number (4 bytes): "RNUT"
// - Version (1 byte)
// - CBOR-encoded Unit
func (u *Unit) Serialize() ([]byte, error) {
	body, err := unitEncMode.Marshal(u)
	if err != nil {
		return nil, fmt.Errorf("unit cbor encoding failed: %w", err)
	}
	buf := new(bytes.Buffer)
	buf.Write(unitMagic[:])
	buf.WriteByte(unitFormatVersion)
	buf.Write(body)
	return buf.Bytes(), nil
}

// DeserializeUnit reads a unit produced by Serialize and validates it.
func DeserializeUnit(data []byte) (*Unit, error) {
	if len(data) < 5 || !bytes.Equal(data[:4], unitMagic[:]) {
		return nil, fmt.Errorf("%w: missing RNUT header", ErrInvalidUnit)
	}
	if data[4] != unitFormatVersion {
		return nil, fmt.Errorf("%w: unsupported format version %d (want %d)", ErrInvalidUnit, data[4], unitFormatVersion)
	}
	var u Unit
	if err := cbor.Unmarshal(data[5:], &u); err != nil {
		return nil, fmt.Errorf("unit cbor decoding failed: %w", err)
	}
	u.reindex()
	if err := u.Validate(); err != nil {
		return nil, err
	}
	return &u, nil
}

// WriteUnit serializes u to w.
func WriteUnit(w io.Writer, u *Unit) error {
	data, err := u.Serialize()
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// ReadUnit reads a whole serialized unit from r.
func ReadUnit(r io.Reader) (*Unit, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading unit: %w", err)
	}
	return DeserializeUnit(data)
}

// SaveUnitFile writes u to path.
func SaveUnitFile(path string, u *Unit) error {
	data, err := u.Serialize()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing unit %s: %w", path, err)
	}
	return nil
}

// LoadUnitFile reads and validates the unit stored at path.
func LoadUnitFile(path string) (*Unit, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading unit %s: %w", path, err)
	}
	u, err := DeserializeUnit(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return u, nil
}
