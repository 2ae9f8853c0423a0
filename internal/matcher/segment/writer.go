package segment

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"time"

	"github.com/Adithya-Monish-Kumar-K/subseq-matcher/internal/matcher"
)

// MagicBytes identifies a valid .ssqx segment file.
const (
	MagicBytes    uint32 = 0x53535158
	FormatVersion uint32 = 1
	HeaderSize    int    = 64
	FooterSize    int    = 32
	Extension            = ".ssqx"
)

// SegmentHeader is the 64-byte header written at the start of every segment.
// The reference text follows the header directly, then the postings block,
// then the dictionary.
type SegmentHeader struct {
	Magic       uint32
	Version     uint32
	SymbolCount uint32
	RefLength   uint32
	CreatedAt   int64
	RefSize     int64
	DictOffset  int64
	DictSize    int64
	PostOffset  int64
	PostSize    int64
}

// DictEntry maps a symbol to its position list offset and length in the
// postings block.
type DictEntry struct {
	Symbol     rune  `json:"s"`
	PostOffset int64 `json:"o"`
	PostLen    int   `json:"l"`
	Count      int   `json:"c"`
}

// Writer serialises built matchers into .ssqx segment files, one per reference.
type Writer struct {
	dataDir string
}

func NewWriter(dataDir string) *Writer {
	return &Writer{dataDir: dataDir}
}

// FileName returns the segment file name for a reference id.
func FileName(referenceID string) string {
	return referenceID + Extension
}

// Write atomically creates the segment for referenceID. It writes to a .tmp
// file first and renames on success, replacing any previous segment.
func (w *Writer) Write(referenceID string, m *matcher.Matcher) (string, error) {
	segmentName := FileName(referenceID)
	finalPath := filepath.Join(w.dataDir, segmentName)
	tmpPath := finalPath + ".tmp"

	if err := os.MkdirAll(w.dataDir, 0755); err != nil {
		return "", fmt.Errorf("creating segment directory: %w", err)
	}
	f, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("creating temp segment file: %w", err)
	}
	defer f.Close()

	symbols := m.Symbols()
	refData := []byte(m.Reference())
	header := SegmentHeader{
		Magic:       MagicBytes,
		Version:     FormatVersion,
		SymbolCount: uint32(len(symbols)),
		RefLength:   uint32(m.Len()),
		CreatedAt:   time.Now().Unix(),
		RefSize:     int64(len(refData)),
	}
	if _, err := f.Write(make([]byte, HeaderSize)); err != nil {
		return "", fmt.Errorf("writing header placeholder: %w", err)
	}
	if _, err := f.Write(refData); err != nil {
		return "", fmt.Errorf("writing reference: %w", err)
	}

	postingsStart := int64(HeaderSize) + header.RefSize
	offset := int64(0)
	dict := make([]DictEntry, 0, len(symbols))
	for _, r := range symbols {
		positions := m.Positions(r)
		data, err := json.Marshal(positions)
		if err != nil {
			return "", fmt.Errorf("marshaling positions for symbol %q: %w", r, err)
		}
		if _, err := f.Write(data); err != nil {
			return "", fmt.Errorf("writing positions for symbol %q: %w", r, err)
		}
		dict = append(dict, DictEntry{
			Symbol:     r,
			PostOffset: offset,
			PostLen:    len(data),
			Count:      len(positions),
		})
		offset += int64(len(data))
	}
	header.PostOffset = postingsStart
	header.PostSize = offset

	dictData, err := json.Marshal(dict)
	if err != nil {
		return "", fmt.Errorf("marshaling dictionary: %w", err)
	}
	if _, err := f.Write(dictData); err != nil {
		return "", fmt.Errorf("writing dictionary: %w", err)
	}
	header.DictOffset = postingsStart + header.PostSize
	header.DictSize = int64(len(dictData))

	footer := make([]byte, FooterSize)
	binary.LittleEndian.PutUint32(footer[0:4], crc32.ChecksumIEEE(dictData))
	binary.LittleEndian.PutUint32(footer[4:8], crc32.ChecksumIEEE(refData))
	binary.LittleEndian.PutUint64(footer[8:16], uint64(header.DictOffset))
	binary.LittleEndian.PutUint64(footer[16:24], uint64(header.DictSize))
	binary.LittleEndian.PutUint64(footer[24:32], uint64(header.PostSize))
	if _, err := f.Write(footer); err != nil {
		return "", fmt.Errorf("writing footer: %w", err)
	}

	if _, err := f.WriteAt(encodeHeader(header), 0); err != nil {
		return "", fmt.Errorf("updating header: %w", err)
	}
	if err := f.Sync(); err != nil {
		return "", fmt.Errorf("syncing segment file: %w", err)
	}
	f.Close()
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return "", fmt.Errorf("renaming segment file: %w", err)
	}
	return segmentName, nil
}

// Remove deletes the segment for referenceID. A missing file is not an error.
func (w *Writer) Remove(referenceID string) error {
	err := os.Remove(filepath.Join(w.dataDir, FileName(referenceID)))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing segment: %w", err)
	}
	return nil
}

func encodeHeader(h SegmentHeader) []byte {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	binary.LittleEndian.PutUint32(buf[4:8], h.Version)
	binary.LittleEndian.PutUint32(buf[8:12], h.SymbolCount)
	binary.LittleEndian.PutUint32(buf[12:16], h.RefLength)
	binary.LittleEndian.PutUint64(buf[16:24], uint64(h.CreatedAt))
	binary.LittleEndian.PutUint64(buf[24:32], uint64(h.RefSize))
	binary.LittleEndian.PutUint64(buf[32:40], uint64(h.DictOffset))
	binary.LittleEndian.PutUint64(buf[40:48], uint64(h.DictSize))
	binary.LittleEndian.PutUint64(buf[48:56], uint64(h.PostOffset))
	binary.LittleEndian.PutUint64(buf[56:64], uint64(h.PostSize))
	return buf
}

func decodeHeader(buf []byte) SegmentHeader {
	return SegmentHeader{
		Magic:       binary.LittleEndian.Uint32(buf[0:4]),
		Version:     binary.LittleEndian.Uint32(buf[4:8]),
		SymbolCount: binary.LittleEndian.Uint32(buf[8:12]),
		RefLength:   binary.LittleEndian.Uint32(buf[12:16]),
		CreatedAt:   int64(binary.LittleEndian.Uint64(buf[16:24])),
		RefSize:     int64(binary.LittleEndian.Uint64(buf[24:32])),
		DictOffset:  int64(binary.LittleEndian.Uint64(buf[32:40])),
		DictSize:    int64(binary.LittleEndian.Uint64(buf[40:48])),
		PostOffset:  int64(binary.LittleEndian.Uint64(buf[48:56])),
		PostSize:    int64(binary.LittleEndian.Uint64(buf[56:64])),
	}
}
