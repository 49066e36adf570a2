package ledger

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/aegiskernel/aegis/pkg/log"
	"github.com/aegiskernel/aegis/pkg/metrics"
)

const (
	// SegmentMaxBytes triggers rotation when the active segment reaches it
	SegmentMaxBytes = 64 << 20

	segmentSuffix = ".jsonl"
	activeSuffix  = ".active"
	segmentDay    = "20060102"
)

var (
	// ErrStorageFull is returned when an append cannot be made durable
	ErrStorageFull = errors.New("ledger: storage full")

	// ErrCorruptTail is reported when a partial trailing record is found
	ErrCorruptTail = errors.New("ledger: corrupt trailing record")

	// ErrClosed is returned on operations against a closed ledger
	ErrClosed = errors.New("ledger: closed")
)

// Event kinds recorded by the core. The set is closed: the projector and
// replay tooling reject kinds outside it.
const (
	KindDoctrineLoaded      = "DoctrineLoaded"
	KindConfigChanged       = "ConfigChanged"
	KindMissionCreated      = "MissionCreated"
	KindMissionDecomposed   = "MissionDecomposed"
	KindMissionStateChanged = "MissionStateChanged"
	KindTaskCreated         = "TaskCreated"
	KindTaskCommitDecided   = "TaskCommitDecided"
	KindTaskDispatched      = "TaskDispatched"
	KindTaskCompleted       = "TaskCompleted"
	KindTaskAborted         = "TaskAborted"
	KindArtifactCreated     = "ArtifactCreated"
	KindArtifactReviewed    = "ArtifactReviewed"
	KindApprovalRequested   = "ApprovalRequested"
	KindApprovalGranted     = "ApprovalGranted"
	KindApprovalRejected    = "ApprovalRejected"
	KindCommitExpired       = "CommitExpired"
	KindCapabilityUnlocked  = "CapabilityUnlocked"
	KindMissionSnapshot     = "MissionSnapshot"
	KindCapacityExhausted   = "CapacityExhausted"
)

var knownKinds = map[string]bool{
	KindDoctrineLoaded:      true,
	KindConfigChanged:       true,
	KindMissionCreated:      true,
	KindMissionDecomposed:   true,
	KindMissionStateChanged: true,
	KindTaskCreated:         true,
	KindTaskCommitDecided:   true,
	KindTaskDispatched:      true,
	KindTaskCompleted:       true,
	KindTaskAborted:         true,
	KindArtifactCreated:     true,
	KindArtifactReviewed:    true,
	KindApprovalRequested:   true,
	KindApprovalGranted:     true,
	KindApprovalRejected:    true,
	KindCommitExpired:       true,
	KindCapabilityUnlocked:  true,
	KindMissionSnapshot:     true,
	KindCapacityExhausted:   true,
}

// KnownKind reports whether kind belongs to the closed event set
func KnownKind(kind string) bool {
	return knownKinds[kind]
}

// Entry is one append-only ledger record. Lines are newline-delimited JSON;
// existing bytes are never rewritten.
type Entry struct {
	TS      time.Time       `json:"ts"`
	Seq     uint64          `json:"seq"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
	Digest  string          `json:"digest,omitempty"`
}

// Filter bounds a Read scan over segment files
type Filter struct {
	Kinds     []string
	MissionID string
	FromSeq   uint64
	Since     time.Time
	Until     time.Time
	Limit     int
}

// Ledger is a segmented append-only JSONL event log. A single writer lock
// serializes appends; readers only ever observe fully-written lines.
type Ledger struct {
	mu   sync.Mutex
	dir  string
	name string

	file       *os.File
	segPath    string
	segDay     string
	segIndex   int
	segBytes   int64
	seq        uint64
	lastTS     time.Time
	prevDigest string
	closed     bool

	onAppend func(*Entry)
}

// Open opens (or creates) the ledger under dir with the given segment name
// prefix. Any partial trailing record in the newest segment is truncated,
// matching the crash recovery contract: earlier records remain valid.
func Open(dir, name string) (*Ledger, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}

	l := &Ledger{dir: dir, name: name}

	segs, err := l.Segments()
	if err != nil {
		return nil, err
	}

	if len(segs) > 0 {
		last := segs[len(segs)-1]
		if err := l.recoverSegment(last); err != nil {
			return nil, err
		}
		// A newest segment with no complete record (crash right after a
		// rotation, or mid-first-write) carries no continuity state. Walk
		// back through the sealed segments until one restores seq /
		// timestamp / digest, so the next append never reissues Seq 1.
		for i := len(segs) - 2; l.seq == 0 && i >= 0; i-- {
			if err := l.recoverContinuity(segs[i]); err != nil {
				return nil, err
			}
		}
	}

	if err := l.openActive(); err != nil {
		return nil, err
	}
	return l, nil
}

// Segments returns the segment file paths in append order
func (l *Ledger) Segments() ([]string, error) {
	pattern := filepath.Join(l.dir, l.name+"-*"+segmentSuffix)
	segs, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}
	sort.Strings(segs)
	return segs, nil
}

// recoverSegment scans the newest segment, truncates a partial trailing
// record, and restores seq / timestamp / digest continuity.
func (l *Ledger) recoverSegment(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read segment: %w", err)
	}

	validEnd := 0
	for off := 0; off < len(data); {
		nl := bytes.IndexByte(data[off:], '\n')
		if nl < 0 {
			break
		}
		line := data[off : off+nl]
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			break
		}
		l.seq = e.Seq
		l.lastTS = e.TS
		l.prevDigest = e.Digest
		off += nl + 1
		validEnd = off
	}

	if validEnd < len(data) {
		logger := log.WithComponent("ledger")
		logger.Warn().
			Str("segment", filepath.Base(path)).
			Int("discarded_bytes", len(data)-validEnd).
			Msg("truncating corrupt trailing record")
		if err := os.Truncate(path, int64(validEnd)); err != nil {
			return fmt.Errorf("truncate corrupt tail: %w", err)
		}
	}

	day, idx, err := parseSegmentName(filepath.Base(path), l.name)
	if err != nil {
		return err
	}
	l.segDay = day
	l.segIndex = idx
	l.segBytes = int64(validEnd)
	l.segPath = path
	return nil
}

// recoverContinuity restores seq / timestamp / digest state from a sealed
// segment. Sealed segments are never rewritten, so no truncation here.
func (l *Ledger) recoverContinuity(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read segment: %w", err)
	}
	for off := 0; off < len(data); {
		nl := bytes.IndexByte(data[off:], '\n')
		if nl < 0 {
			break
		}
		var e Entry
		if err := json.Unmarshal(data[off:off+nl], &e); err != nil {
			break
		}
		l.seq = e.Seq
		l.lastTS = e.TS
		l.prevDigest = e.Digest
		off += nl + 1
	}
	return nil
}

// openActive opens the active segment for appending, rotating first if the
// recovered segment is from a previous day or already at the size limit.
func (l *Ledger) openActive() error {
	today := time.Now().UTC().Format(segmentDay)
	if l.segPath == "" || l.segDay != today || l.segBytes >= SegmentMaxBytes {
		next := 0
		if l.segDay == today {
			next = l.segIndex + 1
		}
		l.segDay = today
		l.segIndex = next
		l.segPath = filepath.Join(l.dir, fmt.Sprintf("%s-%s-%03d%s", l.name, today, next, segmentSuffix))
		l.segBytes = 0
	}

	f, err := os.OpenFile(l.segPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open segment: %w", err)
	}
	l.file = f

	if err := l.markActive(); err != nil {
		f.Close()
		return err
	}
	return nil
}

// markActive moves the sidecar .active marker onto the current segment
func (l *Ledger) markActive() error {
	markers, _ := filepath.Glob(filepath.Join(l.dir, "*"+activeSuffix))
	for _, m := range markers {
		os.Remove(m)
	}
	marker, err := os.Create(l.segPath + activeSuffix)
	if err != nil {
		return fmt.Errorf("create active marker: %w", err)
	}
	return marker.Close()
}

// Append durably appends one entry and returns it. The call blocks until
// the active segment is fsynced. On ENOSPC the entry is not recorded and
// ErrStorageFull is returned; callers must not drop the event silently.
func (l *Ledger) Append(kind string, payload any) (*Entry, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.LedgerAppendDuration)

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil, ErrClosed
	}

	ts := time.Now().UTC()
	if !ts.After(l.lastTS) {
		// Keep ts monotonic per-process even under clock jitter
		ts = l.lastTS.Add(time.Nanosecond)
	}

	entry := &Entry{
		TS:      ts,
		Seq:     l.seq + 1,
		Kind:    kind,
		Payload: raw,
	}
	entry.Digest = chainDigest(l.prevDigest, entry)

	line, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("marshal entry: %w", err)
	}
	line = append(line, '\n')

	if err := l.maybeRotate(ts, int64(len(line))); err != nil {
		return nil, err
	}

	if _, err := l.file.Write(line); err != nil {
		if errors.Is(err, syscall.ENOSPC) {
			return nil, fmt.Errorf("append %s: %w", kind, ErrStorageFull)
		}
		return nil, fmt.Errorf("append %s: %w", kind, err)
	}
	if err := l.file.Sync(); err != nil {
		if errors.Is(err, syscall.ENOSPC) {
			return nil, fmt.Errorf("fsync %s: %w", kind, ErrStorageFull)
		}
		return nil, fmt.Errorf("fsync %s: %w", kind, err)
	}

	l.seq = entry.Seq
	l.lastTS = ts
	l.prevDigest = entry.Digest
	l.segBytes += int64(len(line))
	metrics.LedgerAppends.Inc()

	// Invoked under the writer lock so observers see entries in seq order
	if l.onAppend != nil {
		l.onAppend(entry)
	}
	return entry, nil
}

// SetOnAppend installs an observer invoked once per durable entry. The
// event broker uses it for live tailing; the hook must not append.
func (l *Ledger) SetOnAppend(fn func(*Entry)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onAppend = fn
}

// maybeRotate seals the active segment and opens a new one when the size
// limit or a day boundary is reached. Sealed segments are never rewritten.
func (l *Ledger) maybeRotate(ts time.Time, incoming int64) error {
	day := ts.Format(segmentDay)
	if day == l.segDay && l.segBytes+incoming < SegmentMaxBytes {
		return nil
	}

	if err := l.file.Close(); err != nil {
		return fmt.Errorf("seal segment: %w", err)
	}
	os.Remove(l.segPath + activeSuffix)

	next := 0
	if day == l.segDay {
		next = l.segIndex + 1
	}
	l.segDay = day
	l.segIndex = next
	l.segPath = filepath.Join(l.dir, fmt.Sprintf("%s-%s-%03d%s", l.name, day, next, segmentSuffix))
	l.segBytes = 0

	f, err := os.OpenFile(l.segPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open segment: %w", err)
	}
	l.file = f
	return l.markActive()
}

// Seq returns the sequence number of the last appended entry
func (l *Ledger) Seq() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seq
}

// Read performs a bounded scan over segment files. A corrupt trailing
// record in the newest segment is skipped; earlier records remain valid.
func (l *Ledger) Read(filter Filter) ([]*Entry, error) {
	var out []*Entry
	err := l.scan(func(e *Entry) bool {
		if !filter.match(e) {
			return true
		}
		out = append(out, e)
		return filter.Limit <= 0 || len(out) < filter.Limit
	})
	return out, err
}

// Tail returns all entries with seq > fromSeq in append order. Live
// follow-mode is layered on top by the event broker; Tail only covers
// what is already durable.
func (l *Ledger) Tail(fromSeq uint64) ([]*Entry, error) {
	return l.Read(Filter{FromSeq: fromSeq})
}

// scan walks every segment in order, invoking fn until it returns false.
// Decode failures mid-file stop the scan of that segment: for sealed
// segments that is a corruption report, for the active segment it is the
// expected partial tail.
func (l *Ledger) scan(fn func(*Entry) bool) error {
	segs, err := l.Segments()
	if err != nil {
		return err
	}

	for i, seg := range segs {
		f, err := os.Open(seg)
		if err != nil {
			return fmt.Errorf("open segment: %w", err)
		}

		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 1<<20), 16<<20)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			var e Entry
			if err := json.Unmarshal(line, &e); err != nil {
				if i < len(segs)-1 {
					logger := log.WithComponent("ledger")
					logger.Warn().
						Str("segment", filepath.Base(seg)).
						Msg("corrupt record in sealed segment, advancing to next segment")
				}
				break
			}
			if !fn(&e) {
				f.Close()
				return nil
			}
		}
		f.Close()
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("scan segment: %w", err)
		}
	}
	return nil
}

func (f Filter) match(e *Entry) bool {
	if e.Seq <= f.FromSeq {
		return false
	}
	if !f.Since.IsZero() && e.TS.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && e.TS.After(f.Until) {
		return false
	}
	if len(f.Kinds) > 0 {
		ok := false
		for _, k := range f.Kinds {
			if e.Kind == k {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.MissionID != "" {
		var probe struct {
			MissionID string `json:"mission_id"`
		}
		if err := json.Unmarshal(e.Payload, &probe); err != nil || probe.MissionID != f.MissionID {
			return false
		}
	}
	return true
}

// Close seals the ledger for this process. The active marker is left in
// place so the next process resumes the same segment.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// chainDigest computes the hash chain value for an entry: each digest
// covers the previous digest plus the entry's own identifying fields, so
// any rewrite of history breaks every later digest.
func chainDigest(prev string, e *Entry) string {
	h := sha256.New()
	h.Write([]byte(prev))
	h.Write([]byte(e.TS.Format(time.RFC3339Nano)))
	fmt.Fprintf(h, "|%d|%s|", e.Seq, e.Kind)
	h.Write(e.Payload)
	return hex.EncodeToString(h.Sum(nil))
}

// parseSegmentName extracts the day and index from "<name>-YYYYMMDD-NNN.jsonl"
func parseSegmentName(base, name string) (string, int, error) {
	trimmed := strings.TrimSuffix(base, segmentSuffix)
	rest := strings.TrimPrefix(trimmed, name+"-")
	parts := strings.Split(rest, "-")
	if len(parts) != 2 {
		return "", 0, fmt.Errorf("malformed segment name: %s", base)
	}
	var idx int
	if _, err := fmt.Sscanf(parts[1], "%03d", &idx); err != nil {
		return "", 0, fmt.Errorf("malformed segment index: %s", base)
	}
	return parts[0], idx, nil
}
