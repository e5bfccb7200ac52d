package rockyardtxn

// options_file.go implements OPTIONS file persistence and runtime option
// changes.
//
// The OPTIONS file is TOML:
//
//	[version]
//	options_file_version = 1
//
//	[db]
//	create_if_missing = true
//	paranoid_checks = false
//	wal_compression = "snappy"
//	row_cache_size = 8388608
//	merge_operator = "UInt64AddOperator"
//
// merge_operator is informational: operators are code and must be supplied
// again when opening.

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/aalhour/rockyardtxn/internal/compression"
	"github.com/aalhour/rockyardtxn/internal/vfs"
)

const (
	// OptionsFileVersion is the current options file format version.
	OptionsFileVersion = 1

	// OptionsFileName is the name of the options file inside a DB directory.
	OptionsFileName = "OPTIONS"
)

type optionsFile struct {
	Version versionSection   `toml:"version"`
	DB      dbOptionsSection `toml:"db"`
}

type versionSection struct {
	OptionsFileVersion int `toml:"options_file_version"`
}

type dbOptionsSection struct {
	CreateIfMissing bool   `toml:"create_if_missing"`
	ErrorIfExists   bool   `toml:"error_if_exists"`
	ParanoidChecks  bool   `toml:"paranoid_checks"`
	WALCompression  string `toml:"wal_compression"`
	RowCacheSize    int    `toml:"row_cache_size"`
	MergeOperator   string `toml:"merge_operator,omitempty"`
}

// WriteOptionsFile writes opts to path as TOML. A nil fs uses the OS filesystem.
func WriteOptionsFile(fs FS, path string, opts *Options) error {
	if fs == nil {
		fs = vfs.Default()
	}
	if opts == nil {
		opts = DefaultOptions()
	}
	f := optionsFile{
		Version: versionSection{OptionsFileVersion: OptionsFileVersion},
		DB: dbOptionsSection{
			CreateIfMissing: opts.CreateIfMissing,
			ErrorIfExists:   opts.ErrorIfExists,
			ParanoidChecks:  opts.ParanoidChecks,
			WALCompression:  opts.WALCompression.String(),
			RowCacheSize:    opts.RowCacheSize,
		},
	}
	if opts.MergeOperator != nil {
		f.DB.MergeOperator = opts.MergeOperator.Name()
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(f); err != nil {
		return newError(CodeInvalidArgument, "encode options file: %v", err)
	}

	file, err := fs.Create(path)
	if err != nil {
		return ioError(err, "create options file")
	}
	if _, err := file.Write(buf.Bytes()); err != nil {
		_ = file.Close()
		return ioError(err, "write options file")
	}
	if err := file.Sync(); err != nil {
		_ = file.Close()
		return ioError(err, "sync options file")
	}
	if err := file.Close(); err != nil {
		return ioError(err, "close options file")
	}
	return nil
}

// LoadOptionsFile reads an OPTIONS file written by WriteOptionsFile. Unknown
// keys and unparsable values are InvalidArgument errors. A nil fs uses the
// OS filesystem.
func LoadOptionsFile(fs FS, path string) (*Options, error) {
	if fs == nil {
		fs = vfs.Default()
	}
	file, err := fs.Open(path)
	if err != nil {
		return nil, ioError(err, "open options file")
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, ioError(err, "read options file")
	}
	return ParseOptionsFile(string(data))
}

// ParseOptionsFile parses the TOML contents of an OPTIONS file.
func ParseOptionsFile(data string) (*Options, error) {
	var f optionsFile
	meta, err := toml.Decode(data, &f)
	if err != nil {
		return nil, newError(CodeInvalidArgument, "parse options file: %v", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, newError(CodeInvalidArgument, "options file contains unknown keys: %s", strings.Join(keys, ", "))
	}
	if f.Version.OptionsFileVersion > OptionsFileVersion {
		return nil, newError(CodeNotSupported, "options file version %d", f.Version.OptionsFileVersion)
	}

	ctype, err := compression.Parse(f.DB.WALCompression)
	if err != nil {
		return nil, newError(CodeInvalidArgument, "wal_compression: %v", err)
	}
	if f.DB.RowCacheSize < 0 {
		return nil, newError(CodeInvalidArgument, "row_cache_size must not be negative")
	}

	opts := DefaultOptions()
	opts.CreateIfMissing = f.DB.CreateIfMissing
	opts.ErrorIfExists = f.DB.ErrorIfExists
	opts.ParanoidChecks = f.DB.ParanoidChecks
	opts.WALCompression = ctype
	opts.RowCacheSize = f.DB.RowCacheSize
	return opts, nil
}

// Names accepted by DB.SetOptions.
const (
	OptionParanoidChecks  = "paranoid_checks"
	OptionWALCompression  = "wal_compression"
	OptionVerifyChecksums = "verify_checksums"
)

// mutableOptions is the validated form of a SetOptions call.
type mutableOptions struct {
	paranoidChecks  *bool
	walCompression  *CompressionType
	verifyChecksums *bool
}

// parseMutableOptions validates every entry before any is applied.
func parseMutableOptions(kv map[string]string) (mutableOptions, error) {
	var m mutableOptions
	for name, value := range kv {
		if strings.IndexByte(name, 0) >= 0 || strings.IndexByte(value, 0) >= 0 {
			return m, newError(CodeInvalidArgument, "option name or value contains a NUL byte")
		}
		switch name {
		case OptionParanoidChecks:
			b, err := strconv.ParseBool(value)
			if err != nil {
				return m, newError(CodeInvalidArgument, "invalid value %q for %s", value, name)
			}
			m.paranoidChecks = &b
		case OptionVerifyChecksums:
			b, err := strconv.ParseBool(value)
			if err != nil {
				return m, newError(CodeInvalidArgument, "invalid value %q for %s", value, name)
			}
			m.verifyChecksums = &b
		case OptionWALCompression:
			t, err := compression.Parse(value)
			if err != nil {
				return m, newError(CodeInvalidArgument, "invalid value %q for %s", value, name)
			}
			m.walCompression = &t
		default:
			return m, newError(CodeInvalidArgument, "unknown or immutable option %q", name)
		}
	}
	return m, nil
}

func (m mutableOptions) String() string {
	var parts []string
	if m.paranoidChecks != nil {
		parts = append(parts, fmt.Sprintf("%s=%t", OptionParanoidChecks, *m.paranoidChecks))
	}
	if m.walCompression != nil {
		parts = append(parts, fmt.Sprintf("%s=%s", OptionWALCompression, *m.walCompression))
	}
	if m.verifyChecksums != nil {
		parts = append(parts, fmt.Sprintf("%s=%t", OptionVerifyChecksums, *m.verifyChecksums))
	}
	return strings.Join(parts, " ")
}
