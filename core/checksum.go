package core

import (
	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
)

// computeChecksum derives a content-addressed checksum for a stored value,
// recorded in version metadata and in file-backend journal entries. Using a
// CID (rather than a bare hex digest) keeps the checksum self-describing
// about its hash function.
func computeChecksum(data []byte) (string, error) {
	hash, err := mh.Sum(data, mh.SHA2_256, -1)
	if err != nil {
		return "", err
	}
	c := cid.NewCidV1(cid.Raw, hash)
	return c.String(), nil
}
