package glacier

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
)

// chunkSize is the leaf size of Glacier's SHA-256 tree hash: 1 MiB.
const chunkSize = 1 << 20

// chunkHashes returns the SHA-256 digest of each 1 MiB chunk of r.
// Empty input yields the digest of the empty string, per the service's
// tree hash definition.
func chunkHashes(r io.Reader) ([][]byte, error) {
	var hashes [][]byte
	buf := make([]byte, chunkSize)

	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			sum := sha256.Sum256(buf[:n])
			hashes = append(hashes, sum[:])
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}

	if len(hashes) == 0 {
		sum := sha256.Sum256(nil)
		hashes = append(hashes, sum[:])
	}
	return hashes, nil
}

// reduceTreeHash hashes adjacent digests pairwise until one remains.
// An odd digest at the end of a level is promoted unchanged.
func reduceTreeHash(hashes [][]byte) []byte {
	for len(hashes) > 1 {
		next := make([][]byte, 0, (len(hashes)+1)/2)
		for i := 0; i < len(hashes); i += 2 {
			if i+1 < len(hashes) {
				sum := sha256.Sum256(append(append([]byte{}, hashes[i]...), hashes[i+1]...))
				next = append(next, sum[:])
			} else {
				next = append(next, hashes[i])
			}
		}
		hashes = next
	}
	return hashes[0]
}

// treeHash computes the hex-encoded SHA-256 tree hash of r and returns it
// along with the root digest.
func treeHash(r io.Reader) (string, []byte, error) {
	hashes, err := chunkHashes(r)
	if err != nil {
		return "", nil, err
	}
	root := reduceTreeHash(hashes)
	return hex.EncodeToString(root), root, nil
}

// TreeHash computes the hex-encoded SHA-256 tree hash of r.
func TreeHash(r io.Reader) (string, error) {
	hash, _, err := treeHash(r)
	return hash, err
}

// combineTreeHashes reduces per-part root digests into the archive's final
// tree hash. This is only valid when every part (except possibly the last)
// spans a power-of-two number of leaf chunks, which Glacier's part size
// rules guarantee.
func combineTreeHashes(partDigests [][]byte) string {
	return hex.EncodeToString(reduceTreeHash(partDigests))
}
