package network

import (
	"encoding/json"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Object storage layout shared by the blob and S3 backends:
//
//	{prefix}{id}/manifest.json
//	{prefix}{id}/chunks/{index:%08d}
const (
	manifestName = "manifest.json"
	chunksDir    = "chunks/"
)

type manifest struct {
	TransferInfo
	Encoding  Encoding  `json:"encoding,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type layout struct {
	prefix string
}

func newLayout(prefix string) layout {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return layout{prefix: prefix}
}

func (l layout) newID() FileID {
	return FileID(uuid.NewString())
}

func (l layout) transferDir(id FileID) string {
	return l.prefix + string(id) + "/"
}

func (l layout) manifestKey(id FileID) string {
	return l.transferDir(id) + manifestName
}

func (l layout) chunksPrefix(id FileID) string {
	return l.transferDir(id) + chunksDir
}

func (l layout) chunkKey(id FileID, index uint32) string {
	return fmt.Sprintf("%s%08d", l.chunksPrefix(id), index)
}

// idFromManifestKey returns the transfer id of a manifest key, or false for other keys.
func (l layout) idFromManifestKey(key string) (FileID, bool) {
	rel := strings.TrimPrefix(key, l.prefix)
	if rel == key && l.prefix != "" {
		return "", false
	}
	dir, name := path.Split(rel)
	if name != manifestName || strings.Count(dir, "/") != 1 {
		return "", false
	}
	return FileID(strings.TrimSuffix(dir, "/")), true
}

// chunkIndexFromKey parses the chunk index of a chunk key, or returns false for other keys.
func (l layout) chunkIndexFromKey(id FileID, key string) (uint32, bool) {
	name := strings.TrimPrefix(key, l.chunksPrefix(id))
	if name == key {
		return 0, false
	}
	index, err := strconv.ParseUint(name, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(index), true
}

func newManifest(id FileID, fileName, mimeType string, size uint64, chunkSize uint32, totalChunks uint32, encoding Encoding) manifest {
	return manifest{
		TransferInfo: TransferInfo{
			FileID:      id,
			FileName:    fileName,
			ContentType: mimeType,
			Size:        size,
			ChunkSize:   chunkSize,
			TotalChunks: totalChunks,
		},
		Encoding:  encoding,
		CreatedAt: time.Now().UTC(),
	}
}

func decodeManifest(data []byte) (manifest, error) {
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return manifest{}, fmt.Errorf("unmarshal manifest: %w", err)
	}
	return m, nil
}

// info fills in the upload counters from the number of stored chunk objects.
func (m manifest) info(uploadedChunks uint32) TransferInfo {
	info := m.TransferInfo
	info.UploadedChunks = uploadedChunks
	info.Completed = uploadedChunks == info.TotalChunks
	return info
}
