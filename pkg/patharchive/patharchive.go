// Package patharchive turns a completed snapshot directory into a single
// tar archive, optionally compressed. Archives are written to a temporary
// file next to the final path and renamed into place, so an interrupted
// run never leaves a partial archive under the final name.
package patharchive

import (
	"archive/tar"
	"bufio"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	"github.com/ulikunitz/xz"

	"github.com/avasilev/snapback/pkg/config"
	"github.com/avasilev/snapback/pkg/plog"
	"github.com/avasilev/snapback/pkg/pool"
)

const ioBufferSize = 1 << 20

var ioBufferPool = pool.NewFixedBuffer(ioBufferSize)

// nopWriteCloser adapts the raw file writer to the codec writer interface
// for the uncompressed tar case.
type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

// newCodecWriter wraps w in the compressor for the requested codec.
// A level of 0 selects the codec's own default.
func newCodecWriter(w io.Writer, codec config.Codec, level int) (io.WriteCloser, error) {
	switch codec {
	case config.CodecNone:
		return nopWriteCloser{w}, nil
	case config.CodecGzip:
		if level == 0 {
			return pgzip.NewWriter(w), nil
		}
		zw, err := pgzip.NewWriterLevel(w, level)
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip writer: %w", err)
		}
		return zw, nil
	case config.CodecBzip2:
		cfg := &bzip2.WriterConfig{}
		if level > 0 {
			cfg.Level = level
		}
		bw, err := bzip2.NewWriter(w, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create bzip2 writer: %w", err)
		}
		return bw, nil
	case config.CodecXz:
		if level == 0 {
			xw, err := xz.NewWriter(w)
			if err != nil {
				return nil, fmt.Errorf("failed to create xz writer: %w", err)
			}
			return xw, nil
		}
		// The xz format has no direct 1-9 preset; the dictionary
		// capacity is the dominant knob, scaled 64KiB..16MiB.
		cfg := xz.WriterConfig{DictCap: 1 << (15 + level)}
		xw, err := cfg.NewWriter(w)
		if err != nil {
			return nil, fmt.Errorf("failed to create xz writer: %w", err)
		}
		return xw, nil
	case config.CodecZstd:
		opts := []zstd.EOption{}
		if level > 0 {
			opts = append(opts, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
		}
		zw, err := zstd.NewWriter(w, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd writer: %w", err)
		}
		return zw, nil
	default:
		return nil, fmt.Errorf("unsupported archive codec '%s'", codec)
	}
}

// Archive writes snapshotDir as a tar stream through the codec into
// archivePath. Entry names are rooted at the snapshot's base name so the
// archive unpacks into a single directory.
func Archive(ctx context.Context, snapshotDir, archivePath string, codec config.Codec, level int) (retErr error) {
	plog.Notice("ARCHIVE", "source", snapshotDir, "codec", codec.String())

	trgF, err := os.CreateTemp(filepath.Dir(archivePath), "snapback-archive-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp archive: %w", err)
	}
	tempTrgPath := trgF.Name()

	defer func() {
		if retErr != nil {
			trgF.Close()
			os.Remove(tempTrgPath)
		}
	}()

	bufWriter := bufio.NewWriterSize(trgF, ioBufferSize)

	codecWriter, err := newCodecWriter(bufWriter, codec, level)
	if err != nil {
		return err
	}

	if err := writeTar(ctx, snapshotDir, codecWriter); err != nil {
		return err
	}

	if err := codecWriter.Close(); err != nil {
		return fmt.Errorf("failed to finalize %s stream: %w", codec, err)
	}
	if err := bufWriter.Flush(); err != nil {
		return fmt.Errorf("failed to flush archive: %w", err)
	}
	if err := trgF.Close(); err != nil {
		return fmt.Errorf("failed to close temp archive: %w", err)
	}

	if err := os.Rename(tempTrgPath, archivePath); err != nil {
		return fmt.Errorf("failed to rename temp archive to final path: %w", err)
	}
	return nil
}

// writeTar streams every entry of snapshotDir into the tar writer, with
// names rooted at the snapshot base name.
func writeTar(ctx context.Context, snapshotDir string, w io.Writer) (retErr error) {
	tw := tar.NewWriter(w)
	defer func() {
		if err := tw.Close(); retErr == nil && err != nil {
			retErr = fmt.Errorf("failed to finalize tar stream: %w", err)
		}
	}()

	base := filepath.Base(snapshotDir)

	return filepath.WalkDir(snapshotDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("failed to walk snapshot at %s: %w", p, err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("failed to stat %s: %w", p, err)
		}

		rel, err := filepath.Rel(snapshotDir, p)
		if err != nil {
			return err
		}

		var linkTarget string
		if info.Mode()&fs.ModeSymlink != 0 {
			if linkTarget, err = os.Readlink(p); err != nil {
				return fmt.Errorf("failed to read symlink %s: %w", p, err)
			}
		} else if !info.Mode().IsRegular() && !info.IsDir() {
			plog.Debug("Skipping irregular entry in archive", "path", rel)
			return nil
		}

		header, err := tar.FileInfoHeader(info, linkTarget)
		if err != nil {
			return fmt.Errorf("failed to build tar header for %s: %w", p, err)
		}
		if rel == "." {
			header.Name = base + "/"
		} else {
			header.Name = path.Join(base, filepath.ToSlash(rel))
			if info.IsDir() {
				header.Name += "/"
			}
		}

		if err := tw.WriteHeader(header); err != nil {
			return fmt.Errorf("failed to write tar header for %s: %w", header.Name, err)
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		in, err := os.Open(p)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", p, err)
		}
		defer in.Close()

		bufPtr := ioBufferPool.Get()
		defer ioBufferPool.Put(bufPtr)
		buf := *bufPtr
		buf = buf[:cap(buf)]

		if _, err := io.CopyBuffer(tw, in, buf); err != nil {
			return fmt.Errorf("failed to archive content of %s: %w", p, err)
		}
		return nil
	})
}
