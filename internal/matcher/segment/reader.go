// Package segment persists built position indexes as .ssqx files so stored
// references can be reloaded without re-scanning them.
package segment

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/subseq-matcher/internal/matcher"
)

type Reader struct {
	file      *os.File
	filePath  string
	header    SegmentHeader
	reference string
	dict      []DictEntry
}

func OpenReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening segment file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat segment file: %w", err)
	}
	if info.Size() < int64(HeaderSize+FooterSize) {
		f.Close()
		return nil, fmt.Errorf("invalid segment file: %d bytes is too short", info.Size())
	}
	headerBytes := make([]byte, HeaderSize)
	if _, err := f.ReadAt(headerBytes, 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("reading segment header: %w", err)
	}
	header := decodeHeader(headerBytes)
	if header.Magic != MagicBytes {
		f.Close()
		return nil, fmt.Errorf("invalid segment file: bad magic bytes %x", header.Magic)
	}
	if header.Version != FormatVersion {
		f.Close()
		return nil, fmt.Errorf("unsupported segment version %d", header.Version)
	}
	if err := checkLayout(header, info.Size()); err != nil {
		f.Close()
		return nil, err
	}

	footer := make([]byte, FooterSize)
	if _, err := f.ReadAt(footer, info.Size()-int64(FooterSize)); err != nil {
		f.Close()
		return nil, fmt.Errorf("reading segment footer: %w", err)
	}
	refBytes := make([]byte, header.RefSize)
	if _, err := f.ReadAt(refBytes, int64(HeaderSize)); err != nil {
		f.Close()
		return nil, fmt.Errorf("reading reference: %w", err)
	}
	if crc32.ChecksumIEEE(refBytes) != binary.LittleEndian.Uint32(footer[4:8]) {
		f.Close()
		return nil, fmt.Errorf("invalid segment file: reference checksum mismatch")
	}
	dictBytes := make([]byte, header.DictSize)
	if _, err := f.ReadAt(dictBytes, header.DictOffset); err != nil {
		f.Close()
		return nil, fmt.Errorf("reading dictionary: %w", err)
	}
	if crc32.ChecksumIEEE(dictBytes) != binary.LittleEndian.Uint32(footer[0:4]) {
		f.Close()
		return nil, fmt.Errorf("invalid segment file: dictionary checksum mismatch")
	}
	var dict []DictEntry
	if err := json.Unmarshal(dictBytes, &dict); err != nil {
		f.Close()
		return nil, fmt.Errorf("parsing dictionary: %w", err)
	}
	return &Reader{
		file:      f,
		filePath:  path,
		header:    header,
		reference: string(refBytes),
		dict:      dict,
	}, nil
}

// Positions returns the stored offsets of r, or nil when r is not indexed.
func (r *Reader) Positions(symbol rune) ([]int, error) {
	idx := sort.Search(len(r.dict), func(i int) bool {
		return r.dict[i].Symbol >= symbol
	})
	if idx >= len(r.dict) || r.dict[idx].Symbol != symbol {
		return nil, nil
	}
	return r.readPositions(r.dict[idx])
}

// Load restores the full matcher. The position lists are validated against
// the stored reference.
func (r *Reader) Load() (*matcher.Matcher, error) {
	positions := make(map[rune][]int, len(r.dict))
	for _, entry := range r.dict {
		list, err := r.readPositions(entry)
		if err != nil {
			return nil, err
		}
		positions[entry.Symbol] = list
	}
	m, err := matcher.Restore(r.reference, positions)
	if err != nil {
		return nil, fmt.Errorf("restoring %s: %w", r.filePath, err)
	}
	return m, nil
}

// checkLayout bounds every header region to the file body. The header is not
// covered by a checksum, so sizes are checked before anything is allocated.
func checkLayout(h SegmentHeader, fileSize int64) error {
	bodyEnd := fileSize - int64(FooterSize)
	regions := []struct {
		name         string
		offset, size int64
	}{
		{"reference", int64(HeaderSize), h.RefSize},
		{"postings", h.PostOffset, h.PostSize},
		{"dictionary", h.DictOffset, h.DictSize},
	}
	for _, rg := range regions {
		if rg.offset < int64(HeaderSize) || rg.size < 0 || rg.offset > bodyEnd || rg.size > bodyEnd-rg.offset {
			return fmt.Errorf("invalid segment file: %s region [%d, +%d) outside body of %d bytes", rg.name, rg.offset, rg.size, bodyEnd)
		}
	}
	return nil
}

func (r *Reader) readPositions(entry DictEntry) ([]int, error) {
	postSize := r.header.PostSize
	if entry.PostOffset < 0 || entry.PostLen < 0 || entry.PostOffset > postSize || int64(entry.PostLen) > postSize-entry.PostOffset {
		return nil, fmt.Errorf("invalid segment file: positions of %q outside postings block", entry.Symbol)
	}
	data := make([]byte, entry.PostLen)
	if _, err := r.file.ReadAt(data, r.header.PostOffset+entry.PostOffset); err != nil {
		return nil, fmt.Errorf("reading positions: %w", err)
	}
	var list []int
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parsing positions: %w", err)
	}
	return list, nil
}

// ReferenceID is the id the segment was written for, taken from its file name.
func (r *Reader) ReferenceID() string {
	return strings.TrimSuffix(filepath.Base(r.filePath), Extension)
}

func (r *Reader) Reference() string {
	return r.reference
}

func (r *Reader) Symbols() int {
	return len(r.dict)
}

func (r *Reader) RefLength() uint32 {
	return r.header.RefLength
}

func (r *Reader) CreatedAt() time.Time {
	return time.Unix(r.header.CreatedAt, 0).UTC()
}

func (r *Reader) Close() error {
	return r.file.Close()
}
