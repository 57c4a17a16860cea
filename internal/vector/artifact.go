package vector

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

// Artifact file layout (little endian):
//
//	magic [6]byte "SHIDX\x00" | version uint16 | generation [16]byte
//	dim uint32 | count uint32 | count*dim float32
//	count * (idLen uint32 | id bytes)
//	checksum uint64  xxhash64 of every preceding byte
const (
	ArtifactVersion uint16 = 1

	headerSize   = 6 + 2 + 16 + 4 + 4
	checksumSize = 8
	maxIDLen     = 1 << 16
	maxDim       = 1 << 16
)

var artifactMagic = [6]byte{'S', 'H', 'I', 'D', 'X', 0}

// ErrArtifactCorrupt wraps every failure to decode a persisted index artifact.
var ErrArtifactCorrupt = errors.New("index artifact corrupt")

// Artifact is the persisted form of an index: vectors and their identifiers, aligned by slot.
type Artifact struct {
	Version    uint16
	Generation uuid.UUID
	Dimensions int
	Vectors    [][]float32
	IDs        []string
	ModTime    time.Time // set by ReadArtifact / WriteArtifact
}

// Validate checks that vectors and identifiers are aligned and dimensioned consistently.
func (a *Artifact) Validate() error {
	if a.Dimensions <= 0 || a.Dimensions > maxDim {
		return fmt.Errorf("dimensions must be in 1..%d, got %d", maxDim, a.Dimensions)
	}
	if len(a.Vectors) != len(a.IDs) {
		return fmt.Errorf("vector count %d does not match id count %d", len(a.Vectors), len(a.IDs))
	}
	for i, v := range a.Vectors {
		if len(v) != a.Dimensions {
			return fmt.Errorf("slot %d: %w: got %d, expected %d", i, ErrDimensionMismatch, len(v), a.Dimensions)
		}
	}
	for i, id := range a.IDs {
		if len(id) > maxIDLen {
			return fmt.Errorf("slot %d: id too long (%d bytes)", i, len(id))
		}
	}
	return nil
}

// EncodeArtifact writes a to w in the artifact format.
func EncodeArtifact(w io.Writer, a *Artifact) error {
	if err := a.Validate(); err != nil {
		return err
	}
	digest := xxhash.New()
	bw := bufio.NewWriter(io.MultiWriter(w, digest))

	var hdr [headerSize]byte
	copy(hdr[0:6], artifactMagic[:])
	binary.LittleEndian.PutUint16(hdr[6:8], ArtifactVersion)
	copy(hdr[8:24], a.Generation[:])
	binary.LittleEndian.PutUint32(hdr[24:28], uint32(a.Dimensions))
	binary.LittleEndian.PutUint32(hdr[28:32], uint32(len(a.Vectors)))
	if _, err := bw.Write(hdr[:]); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	buf := make([]byte, a.Dimensions*4)
	for i, v := range a.Vectors {
		for j, x := range v {
			binary.LittleEndian.PutUint32(buf[j*4:], math.Float32bits(x))
		}
		if _, err := bw.Write(buf); err != nil {
			return fmt.Errorf("write vector %d: %w", i, err)
		}
	}

	var lenBuf [4]byte
	for i, id := range a.IDs {
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(id)))
		if _, err := bw.Write(lenBuf[:]); err != nil {
			return fmt.Errorf("write id len %d: %w", i, err)
		}
		if _, err := bw.WriteString(id); err != nil {
			return fmt.Errorf("write id %d: %w", i, err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}

	var sum [checksumSize]byte
	binary.LittleEndian.PutUint64(sum[:], digest.Sum64())
	if _, err := w.Write(sum[:]); err != nil {
		return fmt.Errorf("write checksum: %w", err)
	}
	return nil
}

// DecodeArtifact parses an artifact from data. All failures wrap ErrArtifactCorrupt.
func DecodeArtifact(data []byte) (*Artifact, error) {
	corrupt := func(format string, args ...interface{}) error {
		return fmt.Errorf("%w: %s", ErrArtifactCorrupt, fmt.Sprintf(format, args...))
	}
	if len(data) < headerSize+checksumSize {
		return nil, corrupt("file too short (%d bytes)", len(data))
	}
	if !bytes.Equal(data[0:6], artifactMagic[:]) {
		return nil, corrupt("bad magic")
	}
	body := data[:len(data)-checksumSize]
	want := binary.LittleEndian.Uint64(data[len(data)-checksumSize:])
	if got := xxhash.Sum64(body); got != want {
		return nil, corrupt("checksum mismatch")
	}

	a := &Artifact{Version: binary.LittleEndian.Uint16(data[6:8])}
	if a.Version != ArtifactVersion {
		return nil, corrupt("unsupported version %d", a.Version)
	}
	copy(a.Generation[:], data[8:24])
	dim := int(binary.LittleEndian.Uint32(data[24:28]))
	count := int(binary.LittleEndian.Uint32(data[28:32]))
	if dim <= 0 || dim > maxDim {
		return nil, corrupt("invalid dimension %d", dim)
	}
	a.Dimensions = dim

	rest := body[headerSize:]
	// Each slot needs its vector plus an id length, so count is bounded by the body size
	// before anything is allocated.
	if uint64(count) > uint64(len(rest))/(uint64(dim)*4+4) {
		return nil, corrupt("truncated vectors: %d slots of dimension %d in %d bytes", count, dim, len(rest))
	}
	a.Vectors = make([][]float32, count)
	for i := 0; i < count; i++ {
		v := make([]float32, dim)
		for j := range v {
			v[j] = math.Float32frombits(binary.LittleEndian.Uint32(rest[j*4:]))
		}
		a.Vectors[i] = v
		rest = rest[dim*4:]
	}

	a.IDs = make([]string, count)
	for i := 0; i < count; i++ {
		if len(rest) < 4 {
			return nil, corrupt("truncated id length at slot %d", i)
		}
		n := int(binary.LittleEndian.Uint32(rest[:4]))
		rest = rest[4:]
		if n > maxIDLen || n > len(rest) {
			return nil, corrupt("truncated id at slot %d", i)
		}
		a.IDs[i] = string(rest[:n])
		rest = rest[n:]
	}
	if len(rest) != 0 {
		return nil, corrupt("%d trailing bytes", len(rest))
	}
	return a, nil
}

// WriteArtifact writes a to path atomically: the data goes to a temp file in the same
// directory which is synced and then renamed over path. Readers see the old or the new
// artifact, never a mix. On success a.ModTime is set from the written file.
func WriteArtifact(path string, a *Artifact) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}
	if err := EncodeArtifact(tmp, a); err != nil {
		cleanup()
		return fmt.Errorf("encode artifact: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename artifact: %w", err)
	}
	syncDir(dir)
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat artifact: %w", err)
	}
	a.ModTime = info.ModTime()
	return nil
}

// ReadArtifact reads and decodes the artifact at path. A missing file returns an error
// satisfying errors.Is(err, fs.ErrNotExist); decode failures wrap ErrArtifactCorrupt.
func ReadArtifact(path string) (*Artifact, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat artifact: %w", err)
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	a, err := DecodeArtifact(data)
	if err != nil {
		return nil, err
	}
	a.ModTime = info.ModTime()
	return a, nil
}

// ArtifactModTime returns the modification time of the artifact at path.
func ArtifactModTime(path string) (time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

// syncDir flushes the directory entry after a rename. Not every platform supports it.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
