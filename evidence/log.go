package evidence

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
)

// idxEntrySize is the fixed width of one .idx sidecar record: sequence
// (8 bytes), byte offset into the data file (8 bytes), record length
// (4 bytes). Fixed width lets Query seek directly to entry N without
// scanning the sidecar.
const idxEntrySize = 8 + 8 + 4

// appendRequest is one pending write, queued to the single writer
// goroutine so concurrent callers never interleave partial writes.
type appendRequest struct {
	eventType   string
	round       uint64
	workerID    string
	timestampMs int64
	payload     json.RawMessage
	resp        chan appendResult
}

type appendResult struct {
	event Event
	err   error
}

// Log is an append-only, hash-chained event log backed by a
// newline-delimited JSON data file and a fixed-width .idx sidecar.
type Log struct {
	dataFile *os.File
	idxFile  *os.File

	reqCh chan appendRequest
	done  chan struct{}
	wg    sync.WaitGroup

	mu            sync.Mutex
	nextSeq       uint64
	prevChainHash [32]byte
	nextOffset    int64
}

// Open opens (creating if necessary) the data file at dataPath and its
// .idx sidecar at idxPath, scans any existing data file to recover the
// chain's tip from its last event, and starts the single writer
// goroutine.
func Open(dataPath, idxPath string) (*Log, error) {
	dataFile, err := os.OpenFile(dataPath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("evidence: open data file: %w", err)
	}
	idxFile, err := os.OpenFile(idxPath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		dataFile.Close()
		return nil, fmt.Errorf("evidence: open idx file: %w", err)
	}

	l := &Log{
		dataFile: dataFile,
		idxFile:  idxFile,
		reqCh:    make(chan appendRequest, 64),
		done:     make(chan struct{}),
	}

	if err := l.recoverTip(); err != nil {
		dataFile.Close()
		idxFile.Close()
		return nil, err
	}

	l.wg.Add(1)
	go l.run()
	return l, nil
}

// recoverTip restores nextSeq, prevChainHash, and nextOffset from the
// last line of the data file, so reopening a log after a restart
// continues the chain rather than silently starting a new genesis.
func (l *Log) recoverTip() error {
	stat, err := l.dataFile.Stat()
	if err != nil {
		return fmt.Errorf("evidence: stat data file: %w", err)
	}
	if stat.Size() == 0 {
		l.prevChainHash = genesisHash
		return nil
	}

	if _, err := l.dataFile.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("evidence: seek data file: %w", err)
	}
	scanner := bufio.NewScanner(l.dataFile)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	var last Event
	var offset int64
	found := false
	for scanner.Scan() {
		line := scanner.Bytes()
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			return fmt.Errorf("evidence: corrupt data file at offset %d: %w", offset, err)
		}
		last = ev
		offset += int64(len(line)) + 1
		found = true
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("evidence: scan data file: %w", err)
	}
	if _, err := l.dataFile.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("evidence: seek data file to end: %w", err)
	}

	if found {
		l.nextSeq = last.Sequence + 1
		l.prevChainHash = last.ChainHash
	} else {
		l.prevChainHash = genesisHash
	}
	l.nextOffset = offset
	return nil
}

func (l *Log) run() {
	defer l.wg.Done()
	for {
		select {
		case req := <-l.reqCh:
			ev, err := l.writeLocked(req)
			req.resp <- appendResult{event: ev, err: err}
		case <-l.done:
			// Drain any requests queued before Close was called.
			for {
				select {
				case req := <-l.reqCh:
					ev, err := l.writeLocked(req)
					req.resp <- appendResult{event: ev, err: err}
				default:
					return
				}
			}
		}
	}
}

func (l *Log) writeLocked(req appendRequest) (Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	seq := l.nextSeq
	ev := Event{
		Sequence:    seq,
		EventType:   req.eventType,
		Round:       req.round,
		WorkerID:    req.workerID,
		TimestampMs: req.timestampMs,
		Payload:     req.payload,
		PrevHash:    l.prevChainHash,
	}
	ev.EventHash = computeEventHash(ev.Sequence, ev.EventType, ev.TimestampMs, ev.Round, ev.WorkerID, ev.Payload, ev.PrevHash)
	ev.ChainHash = computeChainHash(l.prevChainHash, ev.EventHash)

	line, err := json.Marshal(ev)
	if err != nil {
		return Event{}, fmt.Errorf("evidence: marshal event: %w", err)
	}
	line = append(line, '\n')

	if _, err := l.dataFile.WriteAt(line, l.nextOffset); err != nil {
		return Event{}, fmt.Errorf("evidence: write data file: %w", err)
	}
	if err := l.dataFile.Sync(); err != nil {
		return Event{}, fmt.Errorf("evidence: sync data file: %w", err)
	}

	var idxRec [idxEntrySize]byte
	binary.BigEndian.PutUint64(idxRec[0:8], seq)
	binary.BigEndian.PutUint64(idxRec[8:16], uint64(l.nextOffset))
	binary.BigEndian.PutUint32(idxRec[16:20], uint32(len(line)))
	if _, err := l.idxFile.WriteAt(idxRec[:], int64(seq)*idxEntrySize); err != nil {
		return Event{}, fmt.Errorf("evidence: write idx file: %w", err)
	}

	l.nextOffset += int64(len(line))
	l.nextSeq++
	l.prevChainHash = ev.ChainHash

	return ev, nil
}

// Append records one event and blocks until it has been durably
// written and chained. timestampMs is supplied by the caller (this
// package never reads the clock itself) so replays and tests can fix
// it deterministically.
func (l *Log) Append(eventType string, round uint64, workerID string, timestampMs int64, payload interface{}) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("evidence: marshal payload: %w", err)
	}
	resp := make(chan appendResult, 1)
	l.reqCh <- appendRequest{eventType: eventType, round: round, workerID: workerID, timestampMs: timestampMs, payload: raw, resp: resp}
	res := <-resp
	if res.err != nil {
		return Event{}, res.err
	}
	return res.event, nil
}

// Query reads back the event at a given sequence number via the .idx
// sidecar, without scanning the data file from the start.
func (l *Log) Query(sequence uint64) (Event, error) {
	var idxRec [idxEntrySize]byte
	if _, err := l.idxFile.ReadAt(idxRec[:], int64(sequence)*idxEntrySize); err != nil {
		return Event{}, fmt.Errorf("evidence: sequence %d not found: %w", sequence, err)
	}
	offset := int64(binary.BigEndian.Uint64(idxRec[8:16]))
	length := binary.BigEndian.Uint32(idxRec[16:20])

	buf := make([]byte, length)
	if _, err := l.dataFile.ReadAt(buf, offset); err != nil {
		return Event{}, fmt.Errorf("evidence: read sequence %d: %w", sequence, err)
	}
	var ev Event
	if err := json.Unmarshal(buf, &ev); err != nil {
		return Event{}, fmt.Errorf("evidence: decode sequence %d: %w", sequence, err)
	}
	return ev, nil
}

// QueryByType scans sequentially for every event of the given type.
// Unlike Query this is O(n) in the log size; it is meant for
// operator-driven investigation, not the hot path.
func (l *Log) QueryByType(eventType string) ([]Event, error) {
	if _, err := l.dataFile.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("evidence: seek data file: %w", err)
	}
	defer l.dataFile.Seek(0, io.SeekEnd)

	scanner := bufio.NewScanner(l.dataFile)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	var out []Event
	for scanner.Scan() {
		var ev Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			return nil, fmt.Errorf("evidence: decode event: %w", err)
		}
		if ev.EventType == eventType {
			out = append(out, ev)
		}
	}
	return out, scanner.Err()
}

// Close stops the writer goroutine (draining any queued requests
// first) and closes both files.
func (l *Log) Close() error {
	close(l.done)
	l.wg.Wait()
	if err := l.idxFile.Close(); err != nil {
		return err
	}
	return l.dataFile.Close()
}
