// Package config defines the immutable per-run configuration and the closed
// enumerations for backup mode and archive codec. A Config value is built
// once from the command line and threaded explicitly into each component.
package config

import (
	"encoding/json"
	"fmt"

	"github.com/avasilev/snapback/pkg/util"
)

// Mode is the backup synchronization strategy.
type Mode string

const (
	// FullMode copies the source into the snapshot with no deduplication.
	FullMode Mode = "full"
	// IncrementalMode hard-links files unchanged since the previous
	// snapshot and copies the rest.
	IncrementalMode Mode = "incremental"
	// MirrorMode copies like full and additionally removes destination
	// entries that are absent from the source.
	MirrorMode Mode = "mirror"
)

var modeToString = map[Mode]string{
	FullMode:        "full",
	IncrementalMode: "incremental",
	MirrorMode:      "mirror",
}

var stringToMode map[string]Mode

func init() {
	stringToMode = util.InvertMap(modeToString)
	stringToCodec = util.InvertMap(codecToString)
}

func (m Mode) String() string {
	if str, ok := modeToString[m]; ok {
		return str
	}
	return fmt.Sprintf("unknown_mode(%s)", string(m))
}

// ParseMode validates a user-supplied mode string against the closed set.
// Only exact matches are accepted.
func ParseMode(s string) (Mode, error) {
	if m, ok := stringToMode[s]; ok {
		return m, nil
	}
	return "", fmt.Errorf("invalid mode: %q. Must be 'full', 'incremental', or 'mirror'", s)
}

// MarshalJSON implements the json.Marshaler interface for Mode.
func (m Mode) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for Mode.
func (m *Mode) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("mode should be a string, got %s", data)
	}
	mode, err := ParseMode(s)
	if err != nil {
		return err
	}
	*m = mode
	return nil
}

// Codec names the compression applied to the snapshot archive.
type Codec string

const (
	CodecNone  Codec = "none"
	CodecGzip  Codec = "gzip"
	CodecBzip2 Codec = "bzip2"
	CodecXz    Codec = "xz"
	CodecZstd  Codec = "zstd"
)

var codecToString = map[Codec]string{
	CodecNone:  "none",
	CodecGzip:  "gzip",
	CodecBzip2: "bzip2",
	CodecXz:    "xz",
	CodecZstd:  "zstd",
}

var stringToCodec map[string]Codec

func (c Codec) String() string {
	if str, ok := codecToString[c]; ok {
		return str
	}
	return fmt.Sprintf("unknown_codec(%s)", string(c))
}

// Suffix returns the archive file suffix for the codec.
func (c Codec) Suffix() string {
	switch c {
	case CodecGzip:
		return ".tar.gz"
	case CodecBzip2:
		return ".tar.bz2"
	case CodecXz:
		return ".tar.xz"
	case CodecZstd:
		return ".tar.zst"
	default:
		return ".tar"
	}
}

// ParseCodec validates a user-supplied codec string against the closed set.
func ParseCodec(s string) (Codec, error) {
	if c, ok := stringToCodec[s]; ok {
		return c, nil
	}
	return "", fmt.Errorf("invalid compression codec: %q. Must be 'none', 'gzip', 'bzip2', 'xz', or 'zstd'", s)
}

// MarshalJSON implements the json.Marshaler interface for Codec.
func (c Codec) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for Codec.
func (c *Codec) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("codec should be a string, got %s", data)
	}
	codec, err := ParseCodec(s)
	if err != nil {
		return err
	}
	*c = codec
	return nil
}

// Config holds everything a single run needs. It is immutable after
// construction in the command entry point.
type Config struct {
	// Source is the path to back up.
	Source string
	// BaseDir is the operator-chosen base directory under which the
	// backup root is created.
	BaseDir string
	// Mode selects the sync strategy.
	Mode Mode
	// Compress enables the post-snapshot archive phase.
	Compress bool
	// Codec selects the archive compression.
	Codec Codec
	// Level is the compression level 1-9; 0 means codec default.
	Level int
	// RetentionDays is the age threshold for the sweep; 0 disables it.
	RetentionDays int
	// LogLevel is the console log level name.
	LogLevel string
	// Quiet suppresses info-level console output.
	Quiet bool
}

// Validate checks the cross-field constraints that flag parsing cannot.
func (c Config) Validate() error {
	if c.Source == "" {
		return fmt.Errorf("missing source path argument")
	}
	if c.BaseDir == "" {
		return fmt.Errorf("missing backup base directory (-dest)")
	}
	if c.Level < 0 || c.Level > 9 {
		return fmt.Errorf("invalid compression level %d: must be between 1 and 9", c.Level)
	}
	if c.Level > 0 && (!c.Compress || c.Codec == CodecNone) {
		return fmt.Errorf("compression level %d given but no compression codec selected", c.Level)
	}
	if c.RetentionDays < 0 {
		return fmt.Errorf("invalid retention threshold %d: must be zero or positive days", c.RetentionDays)
	}
	return nil
}

// CompressionLabel renders the codec+level pair for the run summary,
// e.g. "gzip (level 6)" or "none".
func (c Config) CompressionLabel() string {
	if !c.Compress {
		return "none"
	}
	if c.Codec == CodecNone || c.Level == 0 {
		return c.Codec.String()
	}
	return fmt.Sprintf("%s (level %d)", c.Codec, c.Level)
}
