// Package main provides the ldb CLI tool for inspecting RockyardTxn databases.
//
// Usage:
//
//	ldb --db=<path> <command> [args]
//
// Commands:
//
//	scan                        Scan key-value pairs
//	get <key>                   Get value for a key
//	multiget <key>...           Get several keys at one snapshot
//	put <key> <val>             Put a key-value pair
//	delete <key>                Delete a key
//	info                        Print database properties
//	list_column_families        List column families
//	create_column_family <name> Create a column family
//	drop_column_family <name>   Drop a column family
//	dump_wal                    Decode every WAL record
//
// Reference: RocksDB v10.7.5 tools/ldb_tool.cc
package main

import (
	"bytes"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/aalhour/rockyardtxn"
	"github.com/aalhour/rockyardtxn/internal/batch"
	"github.com/aalhour/rockyardtxn/internal/logging"
	"github.com/aalhour/rockyardtxn/internal/wal"
)

type config struct {
	dbPath          string
	hexOutput       bool
	limit           int
	fromKey         string
	toKey           string
	columnFamily    string
	createIfMissing bool
	paranoid        bool
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes one ldb invocation and returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	var cfg config
	fs := flag.NewFlagSet("ldb", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&cfg.dbPath, "db", "", "Path to the database (required)")
	fs.BoolVar(&cfg.hexOutput, "hex", false, "Output keys and values in hex format")
	fs.IntVar(&cfg.limit, "limit", 0, "Limit number of entries (0 = unlimited)")
	fs.StringVar(&cfg.fromKey, "from", "", "Start key for scan")
	fs.StringVar(&cfg.toKey, "to", "", "End key for scan (exclusive)")
	fs.StringVar(&cfg.columnFamily, "column_family", rockyardtxn.DefaultColumnFamilyName, "Column family to operate on")
	fs.BoolVar(&cfg.createIfMissing, "create_if_missing", false, "Create database if it doesn't exist")
	fs.BoolVar(&cfg.paranoid, "paranoid_checks", false, "Fail to open on any WAL corruption")
	help := fs.Bool("help", false, "Print help")
	fs.Usage = func() { printUsage(fs, stderr) }

	if err := fs.Parse(args); err != nil {
		return 2
	}
	// Flags may also follow the command.
	rest := fs.Args()
	if len(rest) > 0 {
		command := rest[0]
		if err := fs.Parse(rest[1:]); err != nil {
			return 2
		}
		rest = append([]string{command}, fs.Args()...)
	}
	if *help || len(rest) == 0 {
		printUsage(fs, stdout)
		return 0
	}
	if cfg.dbPath == "" {
		fmt.Fprintln(stderr, "Error: --db flag is required")
		return 1
	}

	command, cmdArgs := rest[0], rest[1:]
	var err error
	switch command {
	case "scan":
		err = cmdScan(cfg, stdout)
	case "get":
		err = cmdGet(cfg, cmdArgs, stdout)
	case "multiget":
		err = cmdMultiGet(cfg, cmdArgs, stdout)
	case "put":
		err = cmdPut(cfg, cmdArgs, stdout)
	case "delete":
		err = cmdDelete(cfg, cmdArgs, stdout)
	case "info":
		err = cmdInfo(cfg, stdout)
	case "list_column_families":
		err = cmdListColumnFamilies(cfg, stdout)
	case "create_column_family":
		err = cmdCreateColumnFamily(cfg, cmdArgs, stdout)
	case "drop_column_family":
		err = cmdDropColumnFamily(cfg, cmdArgs, stdout)
	case "dump_wal":
		err = cmdDumpWAL(cfg, stdout)
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", command)
		printUsage(fs, stderr)
		return 1
	}

	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func printUsage(fs *flag.FlagSet, w io.Writer) {
	fmt.Fprintln(w, "ldb - RockyardTxn database inspection tool")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: ldb --db=<path> <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  scan                         Scan key-value pairs")
	fmt.Fprintln(w, "  get <key>                    Get value for a key")
	fmt.Fprintln(w, "  multiget <key>...            Get several keys at one snapshot")
	fmt.Fprintln(w, "  put <key> <val>              Put a key-value pair")
	fmt.Fprintln(w, "  delete <key>                 Delete a key")
	fmt.Fprintln(w, "  info                         Print database properties")
	fmt.Fprintln(w, "  list_column_families         List column families")
	fmt.Fprintln(w, "  create_column_family <name>  Create a column family")
	fmt.Fprintln(w, "  drop_column_family <name>    Drop a column family")
	fmt.Fprintln(w, "  dump_wal                     Decode every WAL record")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Options:")
	fs.SetOutput(w)
	fs.PrintDefaults()
}

func openDB(cfg config) (*rockyardtxn.DB, error) {
	opts := rockyardtxn.DefaultOptions()
	opts.CreateIfMissing = cfg.createIfMissing
	opts.ParanoidChecks = cfg.paranoid
	opts.Logger = logging.Discard
	db, err := rockyardtxn.Open(cfg.dbPath, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

func columnFamily(cfg config, db *rockyardtxn.DB) (rockyardtxn.ColumnFamilyHandle, error) {
	if cfg.columnFamily == "" || cfg.columnFamily == rockyardtxn.DefaultColumnFamilyName {
		return nil, nil
	}
	return db.GetColumnFamily(cfg.columnFamily)
}

func formatOutput(cfg config, data []byte) string {
	if cfg.hexOutput {
		return hex.EncodeToString(data)
	}
	// Print as string if printable, else hex
	for _, b := range data {
		if b < 32 || b > 126 {
			return "0x" + hex.EncodeToString(data)
		}
	}
	return string(data)
}

func parseInput(s string) []byte {
	if strings.HasPrefix(s, "0x") {
		decoded, err := hex.DecodeString(s[2:])
		if err == nil {
			return decoded
		}
	}
	return []byte(s)
}

func cmdScan(cfg config, w io.Writer) error {
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	cf, err := columnFamily(cfg, db)
	if err != nil {
		return err
	}

	ro := rockyardtxn.DefaultReadOptions()
	if cfg.toKey != "" {
		ro.IterateUpperBound = parseInput(cfg.toKey)
	}
	iter := db.NewIterator(ro, cf)
	defer iter.Close()

	if cfg.fromKey != "" {
		iter.Seek(parseInput(cfg.fromKey))
	} else {
		iter.SeekToFirst()
	}

	count := 0
	for ; iter.Valid(); iter.Next() {
		fmt.Fprintf(w, "%s => %s\n", formatOutput(cfg, iter.Key()), formatOutput(cfg, iter.Value()))
		count++
		if cfg.limit > 0 && count >= cfg.limit {
			break
		}
	}
	if err := iter.Error(); err != nil {
		return fmt.Errorf("iterator error: %w", err)
	}

	fmt.Fprintf(w, "\n(%d entries scanned)\n", count)
	return nil
}

func cmdGet(cfg config, args []string, w io.Writer) error {
	if len(args) < 1 {
		return errors.New("usage: ldb --db=<path> get <key>")
	}
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	cf, err := columnFamily(cfg, db)
	if err != nil {
		return err
	}

	value, err := db.Get(nil, cf, parseInput(args[0]))
	if err != nil {
		return fmt.Errorf("get failed: %w", err)
	}
	fmt.Fprintln(w, formatOutput(cfg, value))
	return nil
}

func cmdMultiGet(cfg config, args []string, w io.Writer) error {
	if len(args) < 1 {
		return errors.New("usage: ldb --db=<path> multiget <key>...")
	}
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	cf, err := columnFamily(cfg, db)
	if err != nil {
		return err
	}

	keys := make([][]byte, len(args))
	for i, a := range args {
		keys[i] = parseInput(a)
	}
	var failed bool
	for i, r := range db.BatchedMultiGetCF(nil, cf, keys, false) {
		switch {
		case r.Err != nil:
			failed = true
			fmt.Fprintf(w, "%s => error: %v\n", formatOutput(cfg, keys[i]), r.Err)
		case !r.Found:
			fmt.Fprintf(w, "%s => (not found)\n", formatOutput(cfg, keys[i]))
		default:
			fmt.Fprintf(w, "%s => %s\n", formatOutput(cfg, keys[i]), formatOutput(cfg, r.Value))
		}
	}
	if failed {
		return errors.New("some keys could not be read")
	}
	return nil
}

func cmdPut(cfg config, args []string, w io.Writer) error {
	if len(args) < 2 {
		return errors.New("usage: ldb --db=<path> put <key> <value>")
	}
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	cf, err := columnFamily(cfg, db)
	if err != nil {
		return err
	}

	wo := rockyardtxn.DefaultWriteOptions()
	wo.Sync = true
	if err := db.Put(wo, cf, parseInput(args[0]), parseInput(args[1])); err != nil {
		return fmt.Errorf("put failed: %w", err)
	}
	fmt.Fprintln(w, "OK")
	return nil
}

func cmdDelete(cfg config, args []string, w io.Writer) error {
	if len(args) < 1 {
		return errors.New("usage: ldb --db=<path> delete <key>")
	}
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	cf, err := columnFamily(cfg, db)
	if err != nil {
		return err
	}

	wo := rockyardtxn.DefaultWriteOptions()
	wo.Sync = true
	if err := db.Delete(wo, cf, parseInput(args[0])); err != nil {
		return fmt.Errorf("delete failed: %w", err)
	}
	fmt.Fprintln(w, "OK")
	return nil
}

func cmdInfo(cfg config, w io.Writer) error {
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	fmt.Fprintf(w, "Database: %s\n", cfg.dbPath)
	fmt.Fprintln(w, "---")
	for _, prop := range []string{
		rockyardtxn.PropertyLatestSequenceNumber,
		rockyardtxn.PropertyNumColumnFamilies,
		rockyardtxn.PropertyEstimateNumKeys,
		rockyardtxn.PropertyNumEntriesActiveMemTable,
		rockyardtxn.PropertyNumDeletesActiveMemTable,
		rockyardtxn.PropertyCurSizeAllMemTables,
	} {
		if value, ok := db.GetProperty(prop); ok {
			fmt.Fprintf(w, "%s: %s\n", prop, value)
		}
	}
	return nil
}

func cmdListColumnFamilies(cfg config, w io.Writer) error {
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	for _, name := range db.ListColumnFamilies() {
		fmt.Fprintln(w, name)
	}
	return nil
}

func cmdCreateColumnFamily(cfg config, args []string, w io.Writer) error {
	if len(args) < 1 {
		return errors.New("usage: ldb --db=<path> create_column_family <name>")
	}
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if _, err := db.CreateColumnFamily(nil, args[0]); err != nil {
		return err
	}
	fmt.Fprintln(w, "OK")
	return nil
}

func cmdDropColumnFamily(cfg config, args []string, w io.Writer) error {
	if len(args) < 1 {
		return errors.New("usage: ldb --db=<path> drop_column_family <name>")
	}
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	cf, err := db.GetColumnFamily(args[0])
	if err != nil {
		return err
	}
	if err := db.DropColumnFamily(cf); err != nil {
		return err
	}
	fmt.Fprintln(w, "OK")
	return nil
}

// walPrinter prints the records of a write batch.
type walPrinter struct {
	cfg config
	w   io.Writer
	seq uint64
}

func (p *walPrinter) Put(cfID uint32, key, value []byte) error {
	fmt.Fprintf(p.w, "  @%d PUT cf=%d %s => %s\n", p.seq, cfID, formatOutput(p.cfg, key), formatOutput(p.cfg, value))
	p.seq++
	return nil
}

func (p *walPrinter) Delete(cfID uint32, key []byte) error {
	fmt.Fprintf(p.w, "  @%d DELETE cf=%d %s\n", p.seq, cfID, formatOutput(p.cfg, key))
	p.seq++
	return nil
}

func (p *walPrinter) Merge(cfID uint32, key, value []byte) error {
	fmt.Fprintf(p.w, "  @%d MERGE cf=%d %s => %s\n", p.seq, cfID, formatOutput(p.cfg, key), formatOutput(p.cfg, value))
	p.seq++
	return nil
}

// walReporter records corruption found while dumping.
type walReporter struct {
	w      io.Writer
	damage int
}

func (r *walReporter) Corruption(bytes int, err error) {
	r.damage++
	fmt.Fprintf(r.w, "  CORRUPTION: %d bytes dropped: %v\n", bytes, err)
}

func cmdDumpWAL(cfg config, w io.Writer) error {
	logs, err := filepath.Glob(filepath.Join(cfg.dbPath, "*.log"))
	if err != nil {
		return err
	}
	slices.Sort(logs)
	if len(logs) == 0 {
		return fmt.Errorf("no WAL files in %s", cfg.dbPath)
	}

	reporter := &walReporter{w: w}
	for _, path := range logs {
		fmt.Fprintf(w, "%s:\n", filepath.Base(path))
		if err := dumpLog(cfg, path, reporter, w); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	if reporter.damage > 0 {
		return fmt.Errorf("%d corrupted regions found", reporter.damage)
	}
	return nil
}

func dumpLog(cfg config, path string, reporter *walReporter, w io.Writer) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	r := wal.NewReader(bytes.NewReader(data), reporter, true)
	for {
		record, err := r.ReadRecord()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		kind, body, err := wal.DecodeRecord(record)
		if err != nil {
			reporter.Corruption(len(record), err)
			continue
		}
		switch kind {
		case wal.KindBatch:
			b, err := batch.NewFromData(body)
			if err != nil {
				reporter.Corruption(len(record), err)
				continue
			}
			fmt.Fprintf(w, "BATCH seq=%d count=%d\n", b.Sequence(), b.Count())
			if err := b.Iterate(&walPrinter{cfg: cfg, w: w, seq: b.Sequence()}); err != nil {
				reporter.Corruption(len(record), err)
			}
		case wal.KindCreateColumnFamily, wal.KindDropColumnFamily:
			id, name, err := wal.DecodeColumnFamily(body)
			if err != nil {
				reporter.Corruption(len(record), err)
				continue
			}
			fmt.Fprintf(w, "%s id=%d name=%q\n", kind, id, name)
		}
	}
}
