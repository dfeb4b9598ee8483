package persist

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"docchat/internal/domain"
)

const (
	schemaVersion = 2
	vectorSize    = 4 // float32 is 4 bytes

	// Vectors file header (v2):
	//   0..7   magic "DCVEC001"
	//   8..11  schema version (uint32)
	//   12..15 reserved
	//   16..23 dim (uint64)
	//   24..31 count (uint64)
	//   32..47 generation (uuid)
	//   48..79 SHA-256 of the metadata file
	HeaderSize = 80

	// maxDimension bounds the header dim so a damaged header cannot size
	// an allocation.
	maxDimension = math.MaxInt32 / vectorSize
)

var (
	fileMagic = [8]byte{'D', 'C', 'V', 'E', 'C', '0', '0', '1'}

	bucketMeta   = []byte("meta")
	bucketChunks = []byte("chunks")

	keyVersion    = []byte("version")
	keyGeneration = []byte("generation")
	keyCount      = []byte("count")
	keyDimension  = []byte("dimension")
)

// Snapshot is the full persisted state of an index: vectors[i] belongs to
// chunks[i].
type Snapshot struct {
	Dimension int
	Vectors   [][]float32
	Chunks    []domain.Chunk
}

// Store writes and reads the two index artifacts. Both carry the same
// generation id so that a vectors file is never paired with metadata from
// another save.
type Store struct {
	vectorsPath  string
	metadataPath string
}

func New(dir, vectorsFile, metadataFile string) *Store {
	return &Store{
		vectorsPath:  filepath.Join(dir, vectorsFile),
		metadataPath: filepath.Join(dir, metadataFile),
	}
}

// Save replaces both artifacts with snap. The metadata file is written
// first; the vectors file, written last, records its checksum.
func (s *Store) Save(snap Snapshot) error {
	if len(snap.Vectors) != len(snap.Chunks) {
		return fmt.Errorf("snapshot has %d vectors and %d chunks", len(snap.Vectors), len(snap.Chunks))
	}
	if snap.Dimension <= 0 || snap.Dimension > maxDimension {
		return fmt.Errorf("snapshot dimension %d out of range", snap.Dimension)
	}
	if err := os.MkdirAll(filepath.Dir(s.vectorsPath), 0o755); err != nil {
		return err
	}
	gen := uuid.New()
	sum, err := s.writeMetadata(snap, gen)
	if err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	if err := s.writeVectors(snap, gen, sum); err != nil {
		return fmt.Errorf("write vectors: %w", err)
	}
	return nil
}

// Load reads both artifacts. Any missing, unreadable or mismatched
// artifact yields an error wrapping domain.ErrIndexCorruption.
func (s *Store) Load() (Snapshot, error) {
	for _, p := range []string{s.vectorsPath, s.metadataPath} {
		if _, err := os.Stat(p); err != nil {
			return Snapshot{}, fmt.Errorf("%w: %v", domain.ErrIndexCorruption, err)
		}
	}
	snap, vecGen, metaSum, err := s.readVectors()
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: vectors: %v", domain.ErrIndexCorruption, err)
	}
	// bbolt trusts its pages, so the file is verified before it is opened.
	sum, err := fileChecksum(s.metadataPath)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: metadata: %v", domain.ErrIndexCorruption, err)
	}
	if sum != metaSum {
		return Snapshot{}, fmt.Errorf("%w: metadata checksum does not match vectors header", domain.ErrIndexCorruption)
	}
	chunks, meta, err := s.readMetadata()
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: metadata: %v", domain.ErrIndexCorruption, err)
	}
	switch {
	case meta.generation != vecGen:
		return Snapshot{}, fmt.Errorf("%w: generation %s does not match vectors generation %s", domain.ErrIndexCorruption, meta.generation, vecGen)
	case meta.count != len(snap.Vectors) || len(chunks) != len(snap.Vectors):
		return Snapshot{}, fmt.Errorf("%w: %d vectors but %d metadata entries", domain.ErrIndexCorruption, len(snap.Vectors), len(chunks))
	case meta.dimension != snap.Dimension:
		return Snapshot{}, fmt.Errorf("%w: metadata dimension %d, vectors dimension %d", domain.ErrIndexCorruption, meta.dimension, snap.Dimension)
	}
	snap.Chunks = chunks
	return snap, nil
}

func (s *Store) writeVectors(snap Snapshot, gen uuid.UUID, metaSum [sha256.Size]byte) error {
	tmp := s.vectorsPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)

	var header [HeaderSize]byte
	copy(header[:8], fileMagic[:])
	binary.LittleEndian.PutUint32(header[8:12], schemaVersion)
	binary.LittleEndian.PutUint64(header[16:24], uint64(snap.Dimension))
	binary.LittleEndian.PutUint64(header[24:32], uint64(len(snap.Vectors)))
	copy(header[32:48], gen[:])
	copy(header[48:80], metaSum[:])
	if _, err := w.Write(header[:]); err != nil {
		_ = f.Close()
		return err
	}

	buf := make([]byte, snap.Dimension*vectorSize)
	for i, vec := range snap.Vectors {
		if len(vec) != snap.Dimension {
			_ = f.Close()
			return fmt.Errorf("vector %d: dimension mismatch: expected %d, got %d", i, snap.Dimension, len(vec))
		}
		for j, v := range vec {
			binary.LittleEndian.PutUint32(buf[j*vectorSize:], math.Float32bits(v))
		}
		if _, err := w.Write(buf); err != nil {
			_ = f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.vectorsPath)
}

func (s *Store) readVectors() (Snapshot, uuid.UUID, [sha256.Size]byte, error) {
	var metaSum [sha256.Size]byte
	f, err := os.Open(s.vectorsPath)
	if err != nil {
		return Snapshot{}, uuid.Nil, metaSum, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return Snapshot{}, uuid.Nil, metaSum, err
	}

	var header [HeaderSize]byte
	if _, err := io.ReadFull(f, header[:]); err != nil {
		return Snapshot{}, uuid.Nil, metaSum, fmt.Errorf("vectors file too small for header: %w", err)
	}
	if !bytes.Equal(header[:8], fileMagic[:]) {
		return Snapshot{}, uuid.Nil, metaSum, errors.New("invalid vectors file header (magic mismatch)")
	}
	if v := binary.LittleEndian.Uint32(header[8:12]); v != schemaVersion {
		return Snapshot{}, uuid.Nil, metaSum, fmt.Errorf("unsupported vectors schema version %d", v)
	}
	dim := binary.LittleEndian.Uint64(header[16:24])
	count := binary.LittleEndian.Uint64(header[24:32])
	if dim == 0 || dim > maxDimension {
		return Snapshot{}, uuid.Nil, metaSum, fmt.Errorf("invalid vectors file header (dim=%d)", dim)
	}
	rowSize := dim * vectorSize
	if count > uint64(math.MaxInt64-HeaderSize)/rowSize {
		return Snapshot{}, uuid.Nil, metaSum, fmt.Errorf("invalid vectors file header (count=%d)", count)
	}
	gen, err := uuid.FromBytes(header[32:48])
	if err != nil {
		return Snapshot{}, uuid.Nil, metaSum, err
	}
	copy(metaSum[:], header[48:80])
	want := int64(HeaderSize) + int64(count*rowSize)
	if info.Size() != want {
		return Snapshot{}, uuid.Nil, metaSum, fmt.Errorf("vectors file size %d, header implies %d", info.Size(), want)
	}

	r := bufio.NewReader(f)
	buf := make([]byte, rowSize)
	vectors := make([][]float32, count)
	for i := range vectors {
		if _, err := io.ReadFull(r, buf); err != nil {
			return Snapshot{}, uuid.Nil, metaSum, err
		}
		vec := make([]float32, dim)
		for j := range vec {
			vec[j] = math.Float32frombits(binary.LittleEndian.Uint32(buf[j*vectorSize:]))
		}
		vectors[i] = vec
	}
	return Snapshot{Dimension: int(dim), Vectors: vectors}, gen, metaSum, nil
}

type metaRecord struct {
	generation uuid.UUID
	count      int
	dimension  int
}

// writeMetadata builds a fresh bbolt file beside the target, renames it
// into place and returns its checksum.
func (s *Store) writeMetadata(snap Snapshot, gen uuid.UUID) ([sha256.Size]byte, error) {
	var sum [sha256.Size]byte
	tmp := s.metadataPath + ".tmp"
	if err := os.Remove(tmp); err != nil && !errors.Is(err, os.ErrNotExist) {
		return sum, err
	}
	db, err := bbolt.Open(tmp, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return sum, err
	}
	if err := fillMetadata(db, snap, gen); err != nil {
		_ = db.Close()
		_ = os.Remove(tmp)
		return sum, err
	}
	if err := db.Close(); err != nil {
		_ = os.Remove(tmp)
		return sum, err
	}
	if sum, err = fileChecksum(tmp); err != nil {
		return sum, err
	}
	return sum, os.Rename(tmp, s.metadataPath)
}

func fillMetadata(db *bbolt.DB, snap Snapshot, gen uuid.UUID) error {
	return db.Update(func(tx *bbolt.Tx) error {
		meta, err := tx.CreateBucket(bucketMeta)
		if err != nil {
			return err
		}
		chunks, err := tx.CreateBucket(bucketChunks)
		if err != nil {
			return err
		}
		if err := meta.Put(keyVersion, u64(schemaVersion)); err != nil {
			return err
		}
		if err := meta.Put(keyGeneration, gen[:]); err != nil {
			return err
		}
		if err := meta.Put(keyCount, u64(uint64(len(snap.Chunks)))); err != nil {
			return err
		}
		if err := meta.Put(keyDimension, u64(uint64(snap.Dimension))); err != nil {
			return err
		}
		for i, ch := range snap.Chunks {
			data, err := json.Marshal(ch)
			if err != nil {
				return err
			}
			if err := chunks.Put(u64(uint64(i)), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) readMetadata() ([]domain.Chunk, metaRecord, error) {
	db, err := bbolt.Open(s.metadataPath, 0o600, &bbolt.Options{Timeout: 5 * time.Second, ReadOnly: true})
	if err != nil {
		return nil, metaRecord{}, err
	}
	defer db.Close()

	var chunks []domain.Chunk
	var rec metaRecord
	err = db.View(func(tx *bbolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		b := tx.Bucket(bucketChunks)
		if meta == nil || b == nil {
			return errors.New("missing buckets")
		}
		if v := meta.Get(keyVersion); len(v) != 8 || binary.BigEndian.Uint64(v) != schemaVersion {
			return errors.New("unsupported metadata schema version")
		}
		gen, err := uuid.FromBytes(meta.Get(keyGeneration))
		if err != nil {
			return fmt.Errorf("generation: %w", err)
		}
		count, dim := meta.Get(keyCount), meta.Get(keyDimension)
		if len(count) != 8 || len(dim) != 8 {
			return errors.New("malformed count or dimension")
		}
		rec = metaRecord{
			generation: gen,
			count:      int(binary.BigEndian.Uint64(count)),
			dimension:  int(binary.BigEndian.Uint64(dim)),
		}

		c := b.Cursor()
		i := 0
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if len(k) != 8 || binary.BigEndian.Uint64(k) != uint64(i) {
				return fmt.Errorf("chunk key %x out of sequence at %d", k, i)
			}
			var ch domain.Chunk
			if err := json.Unmarshal(v, &ch); err != nil {
				return fmt.Errorf("chunk %d: %w", i, err)
			}
			if ch.VectorID != i {
				return fmt.Errorf("chunk %d has vector_id %d", i, ch.VectorID)
			}
			chunks = append(chunks, ch)
			i++
		}
		return nil
	})
	return chunks, rec, err
}

func fileChecksum(path string) ([sha256.Size]byte, error) {
	var sum [sha256.Size]byte
	f, err := os.Open(path)
	if err != nil {
		return sum, err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return sum, err
	}
	copy(sum[:], h.Sum(nil))
	return sum, nil
}

func u64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
