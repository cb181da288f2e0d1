package profilecache

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/wllclngn/pandemonium/internal/task"
)

// fileMagic/fileVersion identify the persisted procdb format.
const (
	fileMagic   = uint32(0x50414e44) // "PAND"
	fileVersion = uint32(1)
)

// Persist writes only confident entries to path via temp-file-plus-rename.
func Persist(path string, entries []Entry) error {
	confident := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.Confident {
			confident = append(confident, e)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir procdb dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".procdb-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp procdb: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	w := bufio.NewWriter(tmp)
	if err := writeHeader(w, uint32(len(confident))); err != nil {
		tmp.Close()
		return err
	}
	for _, e := range confident {
		if err := writeEntry(w, e); err != nil {
			tmp.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("flush procdb: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp procdb: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename procdb into place: %w", err)
	}
	return nil
}

func writeHeader(w *bufio.Writer, count uint32) error {
	var buf [12]byte
	binary.LittleEndian.PutUint32(buf[0:4], fileMagic)
	binary.LittleEndian.PutUint32(buf[4:8], fileVersion)
	binary.LittleEndian.PutUint32(buf[8:12], count)
	_, err := w.Write(buf[:])
	return err
}

// recordSize is short_name(16) + tier(1) + pad(3) + avg_runtime_ns(8) +
// observation_count(4) + last_seen_unix_ns(8) + stability_ns(8) = 48 bytes.
const recordSize = 48

func writeEntry(w *bufio.Writer, e Entry) error {
	var buf [recordSize]byte
	name := [16]byte{}
	copy(name[:], e.ShortName)
	copy(buf[0:16], name[:])
	buf[16] = byte(e.Tier)
	binary.LittleEndian.PutUint64(buf[20:28], uint64(e.AvgRuntimeEWMA))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(e.ObservationCount))
	binary.LittleEndian.PutUint64(buf[32:40], uint64(e.LastSeen.UnixNano()))
	binary.LittleEndian.PutUint64(buf[40:48], uint64(e.StabilityEWMA))
	_, err := w.Write(buf[:])
	return err
}

// Load reads a persisted procdb file, returning (nil, nil) if it does
// not exist yet (first run).
func Load(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open procdb: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var hdr [12]byte
	if _, err := readFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("read procdb header: %w", err)
	}
	magic := binary.LittleEndian.Uint32(hdr[0:4])
	version := binary.LittleEndian.Uint32(hdr[4:8])
	count := binary.LittleEndian.Uint32(hdr[8:12])
	if magic != fileMagic {
		return nil, fmt.Errorf("procdb: bad magic %x", magic)
	}
	if version != fileVersion {
		return nil, fmt.Errorf("procdb: unsupported version %d", version)
	}

	entries := make([]Entry, 0, count)
	for i := uint32(0); i < count; i++ {
		var buf [recordSize]byte
		if _, err := readFull(r, buf[:]); err != nil {
			return nil, fmt.Errorf("read procdb record %d: %w", i, err)
		}
		name := trimNulls(buf[0:16])
		entries = append(entries, Entry{
			ShortName:        name,
			Tier:             task.Tier(buf[16]),
			AvgRuntimeEWMA:   timeDurationFromNS(binary.LittleEndian.Uint64(buf[20:28])),
			ObservationCount: int(binary.LittleEndian.Uint32(buf[28:32])),
			LastSeen:         time.Unix(0, int64(binary.LittleEndian.Uint64(buf[32:40]))),
			StabilityEWMA:    float64(binary.LittleEndian.Uint64(buf[40:48])),
			Confident:        true, // only confident entries are ever persisted
		})
	}
	return entries, nil
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

func trimNulls(b []byte) string {
	n := len(b)
	for n > 0 && b[n-1] == 0 {
		n--
	}
	return string(b[:n])
}

func timeDurationFromNS(ns uint64) time.Duration { return time.Duration(ns) }
