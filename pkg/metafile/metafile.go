// Package metafile reads and writes the per-snapshot metadata marker. The
// marker makes a snapshot self-describing and lets retention distinguish
// snapshots this tool created from unrelated directories.
package metafile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/avasilev/snapback/pkg/util"
)

// MetaFileName is the name of the snapshot metadata file.
const MetaFileName = ".snapback.meta.json"

// MetafileContent holds the contents of the metadata file.
type MetafileContent struct {
	Version      string    `json:"version"`
	TimestampUTC time.Time `json:"timestampUTC"`
	Source       string    `json:"source"`
	Mode         string    `json:"mode"`
	IsArchived   bool      `json:"isArchived,omitempty"`
	ArchiveCodec string    `json:"archiveCodec,omitempty"`
}

// Write creates the .snapback.meta.json file inside a snapshot directory.
func Write(dirPath string, content *MetafileContent) error {
	metaFilePath := filepath.Join(dirPath, MetaFileName)
	jsonData, err := json.MarshalIndent(content, "", "  ")
	if err != nil {
		return fmt.Errorf("could not marshal meta data: %w", err)
	}

	if err := os.WriteFile(metaFilePath, jsonData, util.UserWritableFilePerms); err != nil {
		return fmt.Errorf("could not write meta file %s: %w", metaFilePath, err)
	}
	return nil
}

// Read parses the .snapback.meta.json file in a snapshot directory.
// A missing file surfaces as the original os error so os.IsNotExist works.
func Read(dirPath string) (MetafileContent, error) {
	metaFilePath := filepath.Join(dirPath, MetaFileName)
	metaFile, err := os.Open(metaFilePath)
	if err != nil {
		return MetafileContent{}, err
	}
	defer metaFile.Close()

	var content MetafileContent
	if err := json.NewDecoder(metaFile).Decode(&content); err != nil {
		return MetafileContent{}, fmt.Errorf("could not parse metafile %s: %w. It may be corrupt", metaFilePath, err)
	}
	return content, nil
}
