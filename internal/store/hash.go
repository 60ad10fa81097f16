package store

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
)

// GitBlobSHA returns the git object id of content, which is the token the
// commit-versioned backend reports for a file.
func GitBlobSHA(content []byte) string {
	h := sha1.New()
	fmt.Fprintf(h, "blob %d\x00", len(content))
	h.Write(content)
	return hex.EncodeToString(h.Sum(nil))
}
