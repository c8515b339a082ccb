package history

import (
	"errors"
	"fmt"
	"hash/crc32"
	"strconv"
	"strings"
)

var (
	// ErrCorrupted a line could not be parsed
	ErrCorrupted = errors.New("history: file is corrupted")
	// ErrChecksumMismatch an event does not match its checksum
	ErrChecksumMismatch = errors.New("history: checksum mismatch")
	// ErrClosed the journal was closed
	ErrClosed = errors.New("history: already closed")
	// ErrSyncFailed fsync failed after an append
	ErrSyncFailed = errors.New("history: sync to disk failed")
)

// Checksum is the CRC32-IEEE of the event's identifying fields. The
// checksum field itself is excluded.
func Checksum(ev Event) uint32 {
	var b strings.Builder
	b.WriteString(strconv.FormatUint(ev.Seq, 10))
	b.WriteByte('|')
	b.WriteString(ev.JobID)
	b.WriteByte('|')
	b.WriteString(string(ev.Status))
	b.WriteByte('|')
	b.WriteString(ev.Error)
	b.WriteByte('|')
	b.WriteString(strconv.FormatInt(ev.Timestamp, 10))
	return crc32.ChecksumIEEE([]byte(b.String()))
}

// ChecksumError reports the event that failed verification.
type ChecksumError struct {
	Seq      uint64
	Expected uint32
	Actual   uint32
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("history: checksum mismatch at seq=%d (expected=0x%08x, got=0x%08x)", e.Seq, e.Expected, e.Actual)
}

func (e *ChecksumError) Unwrap() error {
	return ErrChecksumMismatch
}

// CorruptionError reports where parsing failed.
type CorruptionError struct {
	Offset int64
	Cause  error
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("history: corrupted at offset %d: %v", e.Offset, e.Cause)
}

func (e *CorruptionError) Is(target error) bool {
	return target == ErrCorrupted
}

func (e *CorruptionError) Unwrap() error {
	return e.Cause
}
