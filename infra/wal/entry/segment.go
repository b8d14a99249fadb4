package entry

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
)

const segmentPattern = "segment-*.wal"

func segmentPath(dir string, index int) string {
	return filepath.Join(dir, fmt.Sprintf("segment-%06d.wal", index))
}

// listSegments returns the segment indexes present in dir, ascending.
func listSegments(dir string) ([]int, error) {
	files, err := filepath.Glob(filepath.Join(dir, segmentPattern))
	if err != nil {
		return nil, err
	}
	out := make([]int, 0, len(files))
	for _, path := range files {
		var idx int
		if _, err := fmt.Sscanf(filepath.Base(path), "segment-%06d.wal", &idx); err != nil {
			continue
		}
		out = append(out, idx)
	}
	sort.Ints(out)
	return out, nil
}

// segmentFile is the part of *os.File a segment writes through.
type segmentFile interface {
	io.Writer
	Sync() error
	Close() error
	Truncate(size int64) error
}

type segment struct {
	index  int
	file   segmentFile
	offset int64
}

func openSegment(dir string, index int) (*segment, error) {
	f, err := os.OpenFile(segmentPath(dir, index), os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &segment{index: index, file: f, offset: st.Size()}, nil
}

func (s *segment) append(b []byte) error {
	n, err := s.file.Write(b)
	s.offset += int64(n)
	return err
}

// rollback cuts the file back to offset, dropping a frame that was
// written but not made durable.
func (s *segment) rollback(offset int64) error {
	if err := s.file.Truncate(offset); err != nil {
		return err
	}
	s.offset = offset
	return nil
}

func (s *segment) sync() error {
	return s.file.Sync()
}

func (s *segment) close() error {
	return s.file.Close()
}

// segmentReader decodes frames sequentially and remembers the end of the
// last frame that decoded cleanly.
type segmentReader struct {
	f          *os.File
	br         *bufio.Reader
	maxPayload int
	lastGood   int64
}

func openSegmentReader(path string, maxPayload int) (*segmentReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayload
	}
	return &segmentReader{
		f:          f,
		br:         bufio.NewReaderSize(f, 64<<10),
		maxPayload: maxPayload,
	}, nil
}

// next returns io.EOF at a clean end of segment and ErrTornTail when the
// segment ends inside a frame.
func (r *segmentReader) next() (*Record, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r.br, hdr[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrTornTail
		}
		return nil, err
	}

	n := binary.BigEndian.Uint32(hdr[17:21])
	if int(n) > r.maxPayload {
		return nil, errors.Wrapf(ErrPayloadTooLarge, "%d bytes at offset %d", n, r.lastGood)
	}

	body := make([]byte, int(n)+trailerSize)
	if _, err := io.ReadFull(r.br, body); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrTornTail
		}
		return nil, err
	}

	payload := body[:n]
	sum := binary.BigEndian.Uint32(body[n:])
	frame := make([]byte, 0, headerSize+int(n))
	frame = append(append(frame, hdr[:]...), payload...)
	if checksum(frame) != sum {
		return nil, errors.Wrapf(ErrChecksum, "frame at offset %d", r.lastGood)
	}

	r.lastGood += int64(headerSize) + int64(n) + trailerSize
	return &Record{
		Type: RecordType(hdr[0]),
		Seq:  binary.BigEndian.Uint64(hdr[1:9]),
		Time: int64(binary.BigEndian.Uint64(hdr[9:17])),
		Data: payload,
	}, nil
}

func (r *segmentReader) close() error {
	return r.f.Close()
}

// scanSegment reads every frame of a segment. It returns the highest
// sequence seen and the offset after the last good frame.
func scanSegment(path string, maxPayload int, fn func(*Record) error) (maxSeq uint64, lastGood int64, err error) {
	r, err := openSegmentReader(path, maxPayload)
	if err != nil {
		return 0, 0, err
	}
	defer r.close()

	for {
		rec, err := r.next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return maxSeq, r.lastGood, nil
			}
			return maxSeq, r.lastGood, err
		}
		if rec.Seq > maxSeq {
			maxSeq = rec.Seq
		}
		if fn != nil {
			if err := fn(rec); err != nil {
				return maxSeq, r.lastGood, err
			}
		}
	}
}
