package rockyardtxn

// recovery.go implements WAL recovery/replay.
//
// Logs are replayed oldest first. A truncated record at the end of a log is
// a torn write and ends that log quietly. Any other damage is corruption:
// with ParanoidChecks Open fails, otherwise replay stops at the first bad
// record (point-in-time recovery). In that case the good prefix of the
// damaged log is rewritten into the new WAL and the damaged log and every
// later one are deleted, so the next open does not stop at the same spot.
//
// Reference: RocksDB v10.7.5
//   - db/db_impl/db_impl_open.cc (RecoverLogFiles)

import (
	"errors"
	"fmt"
	"io"
	"regexp"
	"slices"
	"strconv"

	"github.com/aalhour/rockyardtxn/internal/batch"
	"github.com/aalhour/rockyardtxn/internal/logging"
	"github.com/aalhour/rockyardtxn/internal/wal"
)

// logFileRegex matches log file names like "000001.log".
var logFileRegex = regexp.MustCompile(`^(\d{6,})\.log$`)

// recoveryResult describes what Open must do after replay.
type recoveryResult struct {
	nextLogNumber uint64
	// salvaged holds the raw good records of a damaged log.
	salvaged [][]byte
	// obsolete lists logs to delete once salvaged records are rewritten.
	obsolete []uint64
}

// corruptionReporter remembers the first corruption a wal.Reader reports.
// A fragmented record cut off by end of file is a torn write, not damage.
type corruptionReporter struct {
	err error
}

func (r *corruptionReporter) Corruption(bytes int, err error) {
	if errors.Is(err, wal.ErrUnexpectedEOF) || r.err != nil {
		return
	}
	r.err = fmt.Errorf("%w (%d bytes dropped)", err, bytes)
}

func (db *DB) findLogFiles() ([]uint64, error) {
	entries, err := db.fs.ListDir(db.name)
	if err != nil {
		return nil, ioError(err, "list db directory")
	}
	var logs []uint64
	for _, entry := range entries {
		m := logFileRegex.FindStringSubmatch(entry)
		if m == nil {
			continue
		}
		num, err := strconv.ParseUint(m[1], 10, 64)
		if err != nil {
			continue
		}
		logs = append(logs, num)
	}
	slices.Sort(logs)
	return logs, nil
}

// recover replays every log into the memtables.
func (db *DB) recover() (recoveryResult, error) {
	var res recoveryResult
	logs, err := db.findLogFiles()
	if err != nil {
		return res, err
	}
	res.nextLogNumber = 1
	if len(logs) > 0 {
		res.nextLogNumber = logs[len(logs)-1] + 1
	}

	for i, num := range logs {
		good, damage, err := db.replayLogFile(num)
		if err != nil {
			return res, err
		}
		if damage == nil {
			continue
		}
		path := logFileName(db.name, num)
		if db.paranoidChecks.Load() {
			return res, corruption(damage, "replay "+path)
		}
		db.logger.Warnf(logging.NSRecovery+"stopping replay at corruption in %s: %v (%d later logs dropped)",
			path, damage, len(logs)-i-1)
		res.salvaged = good
		res.obsolete = logs[i:]
		break
	}

	if len(logs) > 0 {
		db.logger.Infof(logging.NSRecovery+"replayed %d logs up to sequence %d", len(logs), db.lastSeq.Load())
	}
	return res, nil
}

// replayLogFile applies the records of one log. It returns the raw records
// applied and, if the log is damaged, the damage; records after the damage
// are not applied. err is reserved for failures to read the file at all.
func (db *DB) replayLogFile(num uint64) (good [][]byte, damage error, err error) {
	path := logFileName(db.name, num)
	file, err := db.fs.Open(path)
	if err != nil {
		return nil, nil, ioError(err, "open "+path)
	}
	defer func() { _ = file.Close() }()

	rep := &corruptionReporter{}
	reader := wal.NewReader(file, rep, true)
	for {
		record, err := reader.ReadRecord()
		if rep.err != nil {
			return good, rep.err, nil
		}
		if errors.Is(err, io.EOF) || errors.Is(err, wal.ErrUnexpectedEOF) {
			return good, nil, nil
		}
		if err != nil {
			return good, nil, ioError(err, "read "+path)
		}
		if err := db.applyLogRecord(record); err != nil {
			return good, err, nil
		}
		good = append(good, record)
	}
}

// applyLogRecord replays one logical record.
func (db *DB) applyLogRecord(record []byte) error {
	kind, body, err := wal.DecodeRecord(record)
	if err != nil {
		return err
	}
	switch kind {
	case wal.KindBatch:
		wb, err := batch.NewFromData(body)
		if err != nil {
			return err
		}
		// Validate before applying so a bad batch is never half applied.
		if err := wb.Iterate(&batchChecker{db: db, recovering: true}); err != nil {
			return err
		}
		if err := wb.Iterate(&memInserter{db: db, seq: wb.Sequence()}); err != nil {
			return err
		}
		if last := wb.Sequence() + uint64(wb.Count()) - 1; wb.Count() > 0 && last > db.lastSeq.Load() {
			db.lastSeq.Store(last)
		}
	case wal.KindCreateColumnFamily:
		id, name, err := wal.DecodeColumnFamily(body)
		if err != nil {
			return err
		}
		if db.cfs.getByName(name) != nil || db.cfs.getByID(id) != nil {
			return fmt.Errorf("%w: column family %q (id %d) created twice", wal.ErrBadEnvelope, name, id)
		}
		db.cfs.add(newColumnFamilyData(db, id, name, nil))
	case wal.KindDropColumnFamily:
		id, _, err := wal.DecodeColumnFamily(body)
		if err != nil {
			return err
		}
		cfd := db.cfs.getByID(id)
		if cfd == nil || id == DefaultColumnFamilyID {
			return fmt.Errorf("%w: drop of unknown column family %d", wal.ErrBadEnvelope, id)
		}
		db.cfs.remove(cfd)
	}
	return nil
}

// salvage rewrites the good prefix of a damaged log into the new WAL and
// deletes the logs replay gave up on.
func (db *DB) salvage(res recoveryResult) error {
	if len(res.obsolete) == 0 {
		return nil
	}
	for _, record := range res.salvaged {
		if _, err := db.log.w.AddRecord(record); err != nil {
			return ioError(err, "rewrite salvaged WAL records")
		}
	}
	if err := db.log.w.Sync(); err != nil {
		return ioError(err, "sync salvaged WAL records")
	}
	for _, num := range res.obsolete {
		if err := db.fs.Remove(logFileName(db.name, num)); err != nil {
			return ioError(err, "remove damaged log")
		}
	}
	db.logger.Warnf(logging.NSRecovery+"salvaged %d records into log %d", len(res.salvaged), db.log.number)
	return nil
}
