package authcore

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

// newBackupCodes mints cfg.Count single-use recovery codes, each cfg.Length
// upper-case hex characters. Codes are returned in the clear exactly once;
// only their hashes are ever stored.
func newBackupCodes(cfg BackupCodeConfig) ([]string, error) {
	codes := make([]string, 0, cfg.Count)
	buf := make([]byte, (cfg.Length+1)/2)

	for i := 0; i < cfg.Count; i++ {
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("generating backup code: %w", err)
		}
		code := strings.ToUpper(hex.EncodeToString(buf))[:cfg.Length]
		codes = append(codes, code)
	}
	return codes, nil
}

// normalizeBackupCode strips whitespace and separators users tend to type
// when copying codes, then upper-cases the rest.
func normalizeBackupCode(code string) string {
	code = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '\t':
			return -1
		}
		return r
	}, code)
	return strings.ToUpper(code)
}
