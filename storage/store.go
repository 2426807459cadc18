// Package storage places fetched media into durable track storage. Files land
// in a staging area first and are promoted atomically, keyed by a shard
// derived from a fixed-length prefix of the external id so tracks spread
// evenly across subdirectories.
package storage

import (
	"context"
	"io"
	"strings"
)

// TrackStore is the durable media store.
type TrackStore interface {
	// Save streams media into staging and atomically promotes it into final
	// storage, returning the opaque storage location and the byte size.
	Save(ctx context.Context, externalID string, media io.Reader) (string, int64, error)
}

// shardWidth is the length of the external-id prefix used as the partition key.
const shardWidth = 2

// Shard returns the partition key for an external id.
func Shard(externalID string) string {
	if len(externalID) < shardWidth {
		return strings.ToLower(externalID)
	}
	return strings.ToLower(externalID[:shardWidth])
}
