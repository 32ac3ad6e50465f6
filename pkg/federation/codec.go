package federation

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// State file wire format, big-endian throughout:
//
//	u16 version | i64 savedAt | u32 count | count records
//
// A version 2 record is {str name, str host, u16 port, str fedName,
// u32 fedID}; version 1 records carried no federation name. Strings are
// u32 length followed by the bytes.
const (
	stateVersion    uint16 = 2
	minStateVersion uint16 = 1
)

// ErrStateVersion marks a state file outside the supported version
// range. The file is unrecoverable; nothing in memory is touched.
var ErrStateVersion = errors.New("incompatible state file version")

const maxStateString = 1 << 20

// encodeState serializes the roster, self-entry included, at the current
// format version.
func encodeState(savedAt time.Time, siblings []*ClusterRecord) []byte {
	buf := make([]byte, 0, 64+64*len(siblings))
	buf = binary.BigEndian.AppendUint16(buf, stateVersion)
	buf = binary.BigEndian.AppendUint64(buf, uint64(savedAt.Unix()))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(siblings)))
	for _, rec := range siblings {
		buf = appendString(buf, rec.Name)
		buf = appendString(buf, rec.Host)
		buf = binary.BigEndian.AppendUint16(buf, uint16(rec.Port))
		buf = appendString(buf, rec.FedName)
		buf = binary.BigEndian.AppendUint32(buf, rec.FedID)
	}
	return buf
}

// decodeState parses a state file produced by any supported version.
func decodeState(data []byte) (time.Time, []*ClusterRecord, error) {
	r := &stateReader{buf: data}

	ver := r.u16()
	if r.err != nil {
		return time.Time{}, nil, r.err
	}
	if ver > stateVersion || ver < minStateVersion {
		return time.Time{}, nil, fmt.Errorf("%w: got %d, supported %d through %d",
			ErrStateVersion, ver, minStateVersion, stateVersion)
	}

	savedAt := time.Unix(int64(r.u64()), 0)
	count := r.u32()
	if r.err != nil {
		return time.Time{}, nil, r.err
	}

	// The count comes from an untrusted file; a record needs at least
	// minRecord bytes, so anything beyond the remaining payload is a
	// corrupt header, not a huge allocation.
	minRecord := uint32(18)
	if ver < 2 {
		minRecord = 14
	}
	if remaining := uint32(len(r.buf) - r.off); count > remaining/minRecord {
		return time.Time{}, nil, fmt.Errorf(
			"corrupt state file: %d records claimed in %d payload bytes",
			count, remaining)
	}

	recs := make([]*ClusterRecord, 0, count)
	for i := uint32(0); i < count; i++ {
		rec := &ClusterRecord{}
		rec.Name = r.str()
		rec.Host = r.str()
		rec.Port = int(r.u16())
		if ver >= 2 {
			rec.FedName = r.str()
		}
		rec.FedID = r.u32()
		if r.err != nil {
			return time.Time{}, nil, fmt.Errorf("sibling record %d: %w", i, r.err)
		}
		recs = append(recs, rec)
	}
	return savedAt, recs, nil
}

// Snapshot is a decoded state file, for offline inspection.
type Snapshot struct {
	SavedAt  time.Time
	Clusters []ClusterInfo
}

// DecodeSnapshot parses raw state file contents without installing
// anything.
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	savedAt, recs, err := decodeState(data)
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{SavedAt: savedAt, Clusters: make([]ClusterInfo, 0, len(recs))}
	for _, rec := range recs {
		snap.Clusters = append(snap.Clusters, rec.Info())
	}
	return snap, nil
}

func appendString(buf []byte, s string) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(s)))
	return append(buf, s...)
}

// stateReader is a cursor over the raw file; the first decode error
// sticks and poisons all later reads.
type stateReader struct {
	buf []byte
	off int
	err error
}

func (r *stateReader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.off+n > len(r.buf) {
		r.err = fmt.Errorf("truncated state file at offset %d", r.off)
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *stateReader) u16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (r *stateReader) u32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (r *stateReader) u64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func (r *stateReader) str() string {
	n := r.u32()
	if r.err == nil && n > maxStateString {
		r.err = fmt.Errorf("string length %d exceeds limit", n)
	}
	b := r.take(int(n))
	if b == nil {
		return ""
	}
	return string(b)
}
