package filelock

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// Magic opens every lock file so a foreign file is never taken for ours.
const Magic = "xmlstore"

// recordSize is the magic followed by a big-endian millisecond timestamp.
const recordSize = len(Magic) + 8

var errBadMagic = errors.New("lock file has an invalid magic signature")

func encodeRecord(at time.Time) []byte {
	buf := make([]byte, recordSize)
	copy(buf, Magic)
	binary.BigEndian.PutUint64(buf[len(Magic):], uint64(at.UnixMilli()))
	return buf
}

func decodeRecord(buf []byte) (time.Time, error) {
	if len(buf) < recordSize {
		return time.Time{}, fmt.Errorf("lock file too short: %d bytes", len(buf))
	}
	if !bytes.Equal(buf[:len(Magic)], []byte(Magic)) {
		return time.Time{}, errBadMagic
	}
	ms := binary.BigEndian.Uint64(buf[len(Magic):recordSize])
	return time.UnixMilli(int64(ms)), nil
}

// readRecord returns the heartbeat stored in the file at path. A missing
// file is reported with an error matching fs.ErrNotExist.
func readRecord(path string) (time.Time, error) {
	f, err := os.Open(path)
	if err != nil {
		return time.Time{}, err
	}
	defer f.Close()

	buf := make([]byte, recordSize)
	if _, err := io.ReadFull(f, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return time.Time{}, fmt.Errorf("lock file too short: %w", err)
		}
		return time.Time{}, err
	}
	return decodeRecord(buf)
}
