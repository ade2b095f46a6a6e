package config

import (
	"strings"
	"testing"
)

func TestParseMode(t *testing.T) {
	for _, valid := range []string{"full", "incremental", "mirror"} {
		if _, err := ParseMode(valid); err != nil {
			t.Errorf("ParseMode(%q) unexpectedly failed: %v", valid, err)
		}
	}

	// Only exact matches are accepted; prefixes and supersets are not modes.
	for _, invalid := range []string{"", "Full", "inc", "incrementalx", "mirror ", "fullmirror"} {
		if _, err := ParseMode(invalid); err == nil {
			t.Errorf("ParseMode(%q) should have failed", invalid)
		}
	}
}

func TestParseCodecAndSuffix(t *testing.T) {
	cases := []struct {
		in     string
		codec  Codec
		suffix string
	}{
		{"none", CodecNone, ".tar"},
		{"gzip", CodecGzip, ".tar.gz"},
		{"bzip2", CodecBzip2, ".tar.bz2"},
		{"xz", CodecXz, ".tar.xz"},
		{"zstd", CodecZstd, ".tar.zst"},
	}
	for _, c := range cases {
		codec, err := ParseCodec(c.in)
		if err != nil {
			t.Fatalf("ParseCodec(%q) failed: %v", c.in, err)
		}
		if codec != c.codec {
			t.Errorf("ParseCodec(%q) = %v, want %v", c.in, codec, c.codec)
		}
		if got := codec.Suffix(); got != c.suffix {
			t.Errorf("Suffix(%v) = %q, want %q", codec, got, c.suffix)
		}
	}

	if _, err := ParseCodec("lz4"); err == nil {
		t.Error("ParseCodec should reject unknown codecs")
	}
}

func TestConfigValidate(t *testing.T) {
	base := Config{
		Source:  "/data",
		BaseDir: "/backups",
		Mode:    IncrementalMode,
		Codec:   CodecNone,
	}

	if err := base.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"missing source", func(c *Config) { c.Source = "" }, "source"},
		{"missing base", func(c *Config) { c.BaseDir = "" }, "base"},
		{"level too high", func(c *Config) { c.Level = 10 }, "level"},
		{"level without codec", func(c *Config) { c.Level = 6 }, "level"},
		{"negative retention", func(c *Config) { c.RetentionDays = -1 }, "retention"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error %q does not mention %q", err, tc.wantErr)
			}
		})
	}
}

func TestCompressionLabel(t *testing.T) {
	cfg := Config{Compress: true, Codec: CodecGzip, Level: 6}
	if got := cfg.CompressionLabel(); got != "gzip (level 6)" {
		t.Errorf("unexpected label %q", got)
	}

	cfg = Config{Compress: false, Codec: CodecGzip}
	if got := cfg.CompressionLabel(); got != "none" {
		t.Errorf("unexpected label %q", got)
	}

	cfg = Config{Compress: true, Codec: CodecXz}
	if got := cfg.CompressionLabel(); got != "xz" {
		t.Errorf("unexpected label %q", got)
	}
}
