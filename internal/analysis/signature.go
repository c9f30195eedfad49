package analysis

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/austinkregel/local-media/moodd/internal/types"
)

const signatureChunk = 65536

// FileSignature identifies file contents for cache and store lookups.
// Uses path, size and the first and last 64KB of the file. Unreadable
// files fail with an invalid audio format error.
func FileSignature(path string) (string, error) {
	sig, err := fileSignature(path)
	if err != nil {
		return "", types.E(types.KindInvalidAudioFormat, "signature", err)
	}
	return sig, nil
}

func fileSignature(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", err
	}
	size := info.Size()

	hasher := sha256.New()
	fmt.Fprintf(hasher, "%s:%d", path, size)

	buf := make([]byte, signatureChunk)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", err
	}
	hasher.Write(buf[:n])

	if size > signatureChunk {
		if _, err := f.Seek(-signatureChunk, io.SeekEnd); err != nil {
			return "", err
		}
		n, err = io.ReadFull(f, buf)
		if err != nil && err != io.ErrUnexpectedEOF {
			return "", err
		}
		hasher.Write(buf[:n])
	}

	return hex.EncodeToString(hasher.Sum(nil))[:16], nil
}
