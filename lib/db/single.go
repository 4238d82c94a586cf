package db

import (
	"bytes"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/bitdegrade/bdkv/lib/env"
	"github.com/bitdegrade/bdkv/lib/index"
	"github.com/bitdegrade/bdkv/lib/logf"
	"github.com/bitdegrade/bdkv/lib/regex"
	"github.com/bitdegrade/bdkv/lib/seq"
)

// openDBs guards against a directory being opened twice within one process.
// The flock catches foreign processes; this catches ourselves with a clear
// error before touching the lock file.
var openDBs = xsync.NewMapOf[string, *singleDB]()

// singleDB implements DB for one directory.
type singleDB struct {
	name   string // registry key (cleaned path)
	base   string // directory base name, used in file names and metrics
	prefix string // name/base, the file name stem

	rwlock sync.RWMutex
	closed bool

	fileLock *env.FileLock
	af       *env.AppendableFile
	rf       *env.RandomAccessFile
	writer   *logf.Writer
	idx      *index.Index
	seqGen   *seq.Generator
	logger   *Logger

	keeper            keeperData
	writesSinceKeeper int

	sizes valueSizeStats

	putsTotal    *metrics.Counter
	getsTotal    *metrics.Counter
	removesTotal *metrics.Counter
	batchesTotal *metrics.Counter
	syncSeconds  *metrics.Summary
}

// Open opens or creates the database at name per opts.
func Open(name string, opts Options) (DB, error) {
	cleaned := filepath.Clean(name)

	d := &singleDB{
		name:   cleaned,
		base:   filepath.Base(cleaned),
		prefix: filepath.Join(cleaned, filepath.Base(cleaned)),
	}
	d.logger = NewLogger("db/"+d.base, LevelWarn)

	if _, loaded := openDBs.LoadOrStore(cleaned, d); loaded {
		return nil, NewError(RetCInvalidArgument, "database already open in this process")
	}

	if err := d.open(opts); err != nil {
		openDBs.Delete(cleaned)
		d.releaseFiles()
		return nil, err
	}

	d.putsTotal = metrics.GetOrCreateCounter(fmt.Sprintf(`bdkv_ops_total{op="put",db=%q}`, d.base))
	d.getsTotal = metrics.GetOrCreateCounter(fmt.Sprintf(`bdkv_ops_total{op="get",db=%q}`, d.base))
	d.removesTotal = metrics.GetOrCreateCounter(fmt.Sprintf(`bdkv_ops_total{op="remove",db=%q}`, d.base))
	d.batchesTotal = metrics.GetOrCreateCounter(fmt.Sprintf(`bdkv_ops_total{op="write",db=%q}`, d.base))
	d.syncSeconds = metrics.GetOrCreateSummary(fmt.Sprintf(`bdkv_sync_duration_seconds{db=%q}`, d.base))

	return d, nil
}

// open wires files, sidecars and the index, creating or recovering as
// needed.
func (d *singleDB) open(opts Options) error {
	dataPath := d.prefix + ".data"
	indexPath := d.prefix + ".index"
	keeperPath := d.prefix + ".keeper"

	exists := env.FileExists(d.name)
	if exists && opts.ErrorIfExists {
		return NewError(RetCInvalidArgument, "database already exists")
	}
	if !exists {
		if !opts.CreateIfMissing {
			return NewError(RetCNotFound, "database not found")
		}
		if err := env.CreateDir(d.name); err != nil {
			return WrapError(RetCIOError, "creating database directory", err)
		}
	}

	lock, err := env.AcquireFileLock(d.prefix + ".lock")
	if err != nil {
		return WrapError(RetCIOError, "acquiring database lock", err)
	}
	d.fileLock = lock

	freshData := !env.FileExists(dataPath)
	if freshData && !opts.CreateIfMissing {
		return NewError(RetCNotFound, "data file missing")
	}

	if d.af, err = env.OpenAppendableFile(dataPath); err != nil {
		return WrapError(RetCIOError, "opening data file", err)
	}
	if d.rf, err = env.OpenRandomAccessFile(dataPath); err != nil {
		return WrapError(RetCIOError, "opening data file for reads", err)
	}
	d.writer = logf.NewWriter(d.af)

	if freshData {
		d.seqGen = seq.NewGenerator(0)
		d.idx = index.New(d.seqGen, d.rf)
		d.keeper = keeperData{OffsetToEmpty: 0, Counter: 0}
		if err := d.persistSidecars(); err != nil {
			return err
		}
		return nil
	}

	if !env.FileExists(indexPath) || !env.FileExists(keeperPath) {
		return d.simpleRepair()
	}

	keeper, err := readKeeper(keeperPath)
	if err != nil {
		if CodeOf(err) == RetCCorruption {
			d.logger.Warnf("keeper unreadable (%v), rebuilding from data file", err)
			return d.simpleRepair()
		}
		return err
	}
	d.keeper = *keeper
	d.seqGen = seq.NewGenerator(keeper.Counter)
	d.idx = index.New(d.seqGen, d.rf)

	if err := readIndexFile(indexPath, func(e indexEntry) error {
		if e.Del {
			d.idx.InsertTombstone(e.Key, e.Off)
		} else {
			d.idx.Insert(e.Key, e.Off)
		}
		return nil
	}); err != nil {
		if CodeOf(err) == RetCCorruption {
			d.logger.Warnf("index sidecar unreadable (%v), rebuilding from data file", err)
			return d.simpleRepair()
		}
		return err
	}

	// replay whatever was appended after the last keeper write
	if uint64(d.keeper.OffsetToEmpty) < d.af.Length() {
		if err := d.replayTail(d.keeper.OffsetToEmpty); err != nil {
			return err
		}
	}
	return nil
}

// simpleRepair rebuilds the index and keeper from a full data-file scan,
// dropping the torn tail and logging any mid-file corruption.
func (d *singleDB) simpleRepair() error {
	d.seqGen = seq.NewGenerator(0)
	d.idx = index.New(d.seqGen, d.rf)
	d.keeper = keeperData{}

	report := func(err error) error {
		d.logger.Warnf("repair: %v", err)
		return nil
	}
	if err := logf.RecoverTable(d.rf, report, func(e logf.RecoveryEntry) error {
		if e.Del {
			d.idx.Remove(e.Key, e.Offset)
		} else {
			d.idx.Insert(e.Key, e.Offset)
			d.extendKeyRange(e.Key)
		}
		return nil
	}); err != nil {
		return WrapError(RetCCorruption, "repair scan failed", err)
	}

	return d.persistSidecars()
}

// replayTail applies records written after the persisted index state.
func (d *singleDB) replayTail(from uint32) error {
	return logf.RecoverTableFrom(d.rf, from, logf.DefaultReporter,
		func(e logf.RecoveryEntry) error {
			if e.Del {
				d.idx.Remove(e.Key, e.Offset)
			} else {
				d.idx.Insert(e.Key, e.Offset)
				d.extendKeyRange(e.Key)
			}
			return nil
		})
}

// --------------------------------------------------------------------------
// Writes
// --------------------------------------------------------------------------

// Put inserts or overwrites one key.
func (d *singleDB) Put(opts WriteOptions, key, value []byte) error {
	if len(key) == 0 {
		return NewError(RetCInvalidArgument, "empty key")
	}

	d.rwlock.Lock()
	defer d.rwlock.Unlock()
	if d.closed {
		return NewError(RetCInvalidArgument, "database closed")
	}
	d.idx.TryApplyPending()

	off, err := d.writer.AddRecord(logf.MakeRecord(key, value))
	if err != nil {
		return WrapError(RetCIOError, "appending record", err)
	}
	d.idx.Insert(key, off)
	d.extendKeyRange(key)
	d.sizes.add(len(value))
	d.putsTotal.Inc()

	if err := d.afterWrite(1); err != nil {
		return err
	}
	return d.maybeSync(opts)
}

// Remove deletes one key.
func (d *singleDB) Remove(opts WriteOptions, key []byte) error {
	if len(key) == 0 {
		return NewError(RetCInvalidArgument, "empty key")
	}

	d.rwlock.Lock()
	defer d.rwlock.Unlock()
	if d.closed {
		return NewError(RetCInvalidArgument, "database closed")
	}
	d.idx.TryApplyPending()

	off, err := d.writer.AddDelRecord(logf.MakeRecord(key, nil))
	if err != nil {
		return WrapError(RetCIOError, "appending delete record", err)
	}
	d.idx.Remove(key, off)
	d.removesTotal.Inc()

	if err := d.afterWrite(1); err != nil {
		return err
	}
	return d.maybeSync(opts)
}

// ExplicitRemove deletes key but indexes the deletion record's offset as a
// tombstone version, so rebuilding the index from these leaves replays the
// delete.
func (d *singleDB) ExplicitRemove(opts WriteOptions, key []byte) error {
	if len(key) == 0 {
		return NewError(RetCInvalidArgument, "empty key")
	}

	d.rwlock.Lock()
	defer d.rwlock.Unlock()
	if d.closed {
		return NewError(RetCInvalidArgument, "database closed")
	}
	d.idx.TryApplyPending()

	off, err := d.writer.AddDelRecord(logf.MakeRecord(key, nil))
	if err != nil {
		return WrapError(RetCIOError, "appending delete record", err)
	}
	d.idx.InsertTombstone(key, off)
	d.removesTotal.Inc()

	if err := d.afterWrite(1); err != nil {
		return err
	}
	return d.maybeSync(opts)
}

// Write applies a batch. When compression is requested and saves at least
// 1/8 of the raw size, the whole batch becomes one compressed record whose
// offset every key shares.
func (d *singleDB) Write(opts WriteOptions, kvs []logf.KV) error {
	if len(kvs) == 0 {
		return nil
	}
	for _, kv := range kvs {
		if len(kv.Key) == 0 {
			return NewError(RetCInvalidArgument, "empty key in batch")
		}
	}

	d.rwlock.Lock()
	defer d.rwlock.Unlock()
	if d.closed {
		return NewError(RetCInvalidArgument, "database closed")
	}
	d.idx.TryApplyPending()

	if opts.Compress {
		if opts.UncompressSize == 0 {
			return NewError(RetCInvalidArgument, "Compress requires UncompressSize")
		}
		bin := logf.MakeCompressRecord(kvs)
		if uint32(len(bin)) <= opts.UncompressSize/8*7 { // worth it
			off, err := d.writer.AddCompressRecord(bin)
			if err != nil {
				return WrapError(RetCIOError, "appending compressed batch", err)
			}
			for _, kv := range kvs {
				d.idx.Insert(kv.Key, off)
				d.extendKeyRange(kv.Key)
				d.sizes.add(len(kv.Value))
			}
			d.batchesTotal.Inc()
			if err := d.afterWrite(len(kvs)); err != nil {
				return err
			}
			return d.maybeSync(opts)
		}
	}

	bins := make([][]byte, len(kvs))
	for i, kv := range kvs {
		bins[i] = logf.MakeRecord(kv.Key, kv.Value)
	}
	offs, err := d.writer.AddRecords(bins)
	if err != nil {
		return WrapError(RetCIOError, "appending batch", err)
	}
	for i, kv := range kvs {
		d.idx.Insert(kv.Key, offs[i])
		d.extendKeyRange(kv.Key)
		d.sizes.add(len(kv.Value))
	}
	d.batchesTotal.Inc()

	if err := d.afterWrite(len(kvs)); err != nil {
		return err
	}
	return d.maybeSync(opts)
}

// afterWrite updates the keeper bookkeeping, rewriting the sidecar
// periodically. Called with the writer lock held.
func (d *singleDB) afterWrite(n int) error {
	d.writesSinceKeeper += n
	if d.writesSinceKeeper >= keeperWriteInterval {
		d.writesSinceKeeper = 0
		return d.writeKeeperNow()
	}
	return nil
}

func (d *singleDB) writeKeeperNow() error {
	d.keeper.OffsetToEmpty = d.writer.CalcWritePos()
	d.keeper.Counter = d.seqGen.CurrentSequence()
	return writeKeeper(d.prefix+".keeper", &d.keeper)
}

func (d *singleDB) maybeSync(opts WriteOptions) error {
	if !opts.Sync {
		return nil
	}
	start := time.Now()
	if err := d.af.Sync(); err != nil {
		return WrapError(RetCIOError, "syncing data file", err)
	}
	d.syncSeconds.UpdateDuration(start)
	return nil
}

// extendKeyRange widens the keeper's [smallest, largest] hints.
func (d *singleDB) extendKeyRange(key []byte) {
	if d.keeper.Smallest == nil || bytes.Compare(key, d.keeper.Smallest) < 0 {
		d.keeper.Smallest = append([]byte(nil), key...)
	}
	if d.keeper.Largest == nil || bytes.Compare(key, d.keeper.Largest) > 0 {
		d.keeper.Largest = append([]byte(nil), key...)
	}
}

// --------------------------------------------------------------------------
// Reads
// --------------------------------------------------------------------------

// Get resolves key at the read view in opts.
func (d *singleDB) Get(opts ReadOptions, key []byte) ([]byte, bool, error) {
	d.rwlock.RLock()
	defer d.rwlock.RUnlock()
	if d.closed {
		return nil, false, NewError(RetCInvalidArgument, "database closed")
	}
	d.getsTotal.Inc()

	value, found, err := d.idx.Find(key, opts.SequenceNumber)
	if err != nil {
		return nil, false, WrapError(RetCCorruption, "resolving value", err)
	}
	return value, found, nil
}

// MakeSnapshot pins the current sequence. Taken under the writer lock so the
// snapshot cannot interleave with a write in flight.
func (d *singleDB) MakeSnapshot() *seq.Snapshot {
	d.rwlock.Lock()
	defer d.rwlock.Unlock()
	return d.seqGen.MakeSnapshot()
}

// SmallestKey returns the keeper's lower key-range hint.
func (d *singleDB) SmallestKey() []byte {
	d.rwlock.RLock()
	defer d.rwlock.RUnlock()
	return append([]byte(nil), d.keeper.Smallest...)
}

// LargestKey returns the keeper's upper key-range hint.
func (d *singleDB) LargestKey() []byte {
	d.rwlock.RLock()
	defer d.rwlock.RUnlock()
	return append([]byte(nil), d.keeper.Largest...)
}

// DataFileSize returns the current log length.
func (d *singleDB) DataFileSize() uint64 {
	return d.af.Length()
}

// IndexFileSize returns the size of the persisted index sidecar.
func (d *singleDB) IndexFileSize() uint64 {
	rf, err := env.OpenRandomAccessFile(d.prefix + ".index")
	if err != nil {
		return 0
	}
	defer rf.Close()
	n, err := rf.Length()
	if err != nil {
		return 0
	}
	return n
}

// GetInfo returns best-effort statistics about the instance.
func (d *singleDB) GetInfo() Info {
	d.rwlock.RLock()
	defer d.rwlock.RUnlock()

	return Info{
		Name:            d.base,
		KeyCount:        d.idx.KeyCount(),
		DataFileSize:    d.af.Length(),
		IndexFileSize:   d.IndexFileSize(),
		WriteCounter:    d.seqGen.CurrentSequence(),
		SmallestKey:     append([]byte(nil), d.keeper.Smallest...),
		LargestKey:      append([]byte(nil), d.keeper.Largest...),
		ValueSizeMedian: d.sizes.percentile(50),
		ValueSizeAvg:    d.sizes.average(),
		ValueSizeP99:    d.sizes.percentile(99),
		SizeSamples:     d.sizes.samples(),
	}
}

// --------------------------------------------------------------------------
// Iterators
// --------------------------------------------------------------------------

// MakeIterator walks all visible keys in trie order.
func (d *singleDB) MakeIterator(snap *seq.Snapshot) SeekIterator {
	d.rwlock.RLock()
	defer d.rwlock.RUnlock()
	var s uint64
	if snap != nil {
		s = snap.Sequence()
	}
	return &dbIterator{db: d, it: d.idx.NewIterator(s)}
}

// MakeRegexIterator walks visible keys matching r in trie order.
func (d *singleDB) MakeRegexIterator(r *regex.R, snap *seq.Snapshot) Iterator {
	d.rwlock.RLock()
	defer d.rwlock.RUnlock()
	var s uint64
	if snap != nil {
		s = snap.Sequence()
	}
	return &dbRegexIterator{db: d, it: d.idx.NewRegexIterator(r, s)}
}

// MakeRegexReversedIterator walks matches in reverse trie order.
func (d *singleDB) MakeRegexReversedIterator(r *regex.R, snap *seq.Snapshot) Iterator {
	d.rwlock.RLock()
	defer d.rwlock.RUnlock()
	var s uint64
	if snap != nil {
		s = snap.Sequence()
	}
	return &dbRegexIterator{db: d, it: d.idx.NewRegexReversedIterator(r, s)}
}

// --------------------------------------------------------------------------
// Close
// --------------------------------------------------------------------------

// Close persists both sidecars, releases the lock and closes the files.
func (d *singleDB) Close() error {
	d.rwlock.Lock()
	defer d.rwlock.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	openDBs.Delete(d.name)

	err := d.persistSidecars()
	d.releaseFiles()
	return err
}

// persistSidecars writes the index leaves and the keeper. Writer lock held.
func (d *singleDB) persistSidecars() error {
	var entries []indexEntry
	if err := d.idx.WalkLatest(func(key []byte, off uint32, del bool) error {
		entries = append(entries, indexEntry{
			Key: append([]byte(nil), key...),
			Off: off,
			Del: del,
		})
		return nil
	}); err != nil {
		return err
	}
	if err := writeIndexFile(d.prefix+".index", entries); err != nil {
		return err
	}
	return d.writeKeeperNow()
}

func (d *singleDB) releaseFiles() {
	if d.af != nil {
		_ = d.af.Close()
	}
	if d.rf != nil {
		_ = d.rf.Close()
	}
	if d.fileLock != nil {
		_ = d.fileLock.Release()
	}
}

// --------------------------------------------------------------------------
// Iterator wrappers (locking per step)
// --------------------------------------------------------------------------

// dbIterator re-acquires the reader lock around every positioning call
// (Valid, Next, SeekToFirst, Seek), per the locking discipline: iterators do
// not hold the lock between steps. Key, Value and Err read the iterator's
// current fields without locking; Close takes the writer lock to drain the
// pending list.
type dbIterator struct {
	db *singleDB
	it *index.Iterator
}

func (w *dbIterator) Valid() bool {
	w.db.rwlock.RLock()
	defer w.db.rwlock.RUnlock()
	return !w.db.closed && w.it.Valid()
}

func (w *dbIterator) Next() {
	w.db.rwlock.RLock()
	defer w.db.rwlock.RUnlock()
	if !w.db.closed {
		w.it.Next()
	}
}

func (w *dbIterator) Key() []byte   { return w.it.Key() }
func (w *dbIterator) Value() []byte { return w.it.Value() }
func (w *dbIterator) Err() error    { return w.it.Err() }

func (w *dbIterator) SeekToFirst() {
	w.db.rwlock.RLock()
	defer w.db.rwlock.RUnlock()
	if !w.db.closed {
		w.it.SeekToFirst()
	}
}

func (w *dbIterator) Seek(key []byte) {
	w.db.rwlock.RLock()
	defer w.db.rwlock.RUnlock()
	if !w.db.closed {
		w.it.Seek(key)
	}
}

func (w *dbIterator) Close() error {
	w.db.rwlock.Lock()
	defer w.db.rwlock.Unlock()
	if w.it.Close() && !w.db.closed {
		w.db.idx.TryApplyPending()
	}
	return nil
}

type dbRegexIterator struct {
	db *singleDB
	it *index.RegexIterator
}

func (w *dbRegexIterator) Valid() bool {
	w.db.rwlock.RLock()
	defer w.db.rwlock.RUnlock()
	return !w.db.closed && w.it.Valid()
}

func (w *dbRegexIterator) Next() {
	w.db.rwlock.RLock()
	defer w.db.rwlock.RUnlock()
	if !w.db.closed {
		w.it.Next()
	}
}

func (w *dbRegexIterator) Key() []byte   { return w.it.Key() }
func (w *dbRegexIterator) Value() []byte { return w.it.Value() }
func (w *dbRegexIterator) Err() error    { return w.it.Err() }

func (w *dbRegexIterator) Close() error {
	w.db.rwlock.Lock()
	defer w.db.rwlock.Unlock()
	if w.it.Close() && !w.db.closed {
		w.db.idx.TryApplyPending()
	}
	return nil
}
