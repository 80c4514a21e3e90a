package pipeline

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/binvis/binvis/internal/domain"
)

// digestChunk is the read size used when hashing archives.
const digestChunk = 64 * 1024

// parseChecksum returns the first whitespace-delimited token of a checksum
// file ("<hex>  <file name>"). Anything after it is ignored.
func parseChecksum(r io.Reader) (string, error) {
	sc := bufio.NewScanner(io.LimitReader(r, 4096))
	sc.Split(bufio.ScanWords)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return "", fmt.Errorf("read checksum: %w", err)
		}
		return "", fmt.Errorf("empty checksum file: %w", domain.ErrChecksumUnavailable)
	}
	tok := sc.Text()
	if len(tok) != sha256.Size*2 {
		return "", fmt.Errorf("checksum token %q is not a sha256 digest: %w", truncate(tok, 80), domain.ErrChecksumUnavailable)
	}
	if _, err := hex.DecodeString(tok); err != nil {
		return "", fmt.Errorf("checksum token is not hex: %w", domain.ErrChecksumUnavailable)
	}
	return tok, nil
}

// hashFile computes the SHA-256 of a file in fixed-size chunks.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, digestChunk)
	for {
		n, readErr := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return "", readErr
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// digestsMatch compares hex digests case-insensitively.
func digestsMatch(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
