package httpapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base32"
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

var (
	// androidIDRe matches the 64-bit device identifier as 16 hex digits.
	androidIDRe = regexp.MustCompile(`^[0-9a-fA-F]{16}$`)

	// shortCodeRe matches the grouped base32 short code, checksum included.
	shortCodeRe = regexp.MustCompile(`^[A-Z2-7]{4}-[A-Z2-7]{4}-[A-Z2-7]{4}$`)
)

const base32Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ234567"

// DeriveShortCode maps a device identifier onto its public short code. The
// identifier is HMAC-hashed with a server-side pepper so codes cannot be
// reversed to device ids, then truncated to 11 base32 characters plus one
// checksum character and grouped for readability. Derivation is deterministic:
// re-registering a device always yields the same code.
func DeriveShortCode(androidID string, pepper []byte) string {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(strings.ToLower(androidID)))
	digest := mac.Sum(nil)

	encoded := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(digest)
	body := encoded[:11]
	code := body + string(checksumChar(body))
	return code[0:4] + "-" + code[4:8] + "-" + code[8:12]
}

// checksumChar folds the body's alphabet positions into one trailing check
// character, catching single-character typos when a code is typed by hand.
func checksumChar(body string) byte {
	sum := 0
	for i := 0; i < len(body); i++ {
		sum += strings.IndexByte(base32Alphabet, body[i])
	}
	return base32Alphabet[sum%32]
}

// ValidShortCode reports whether a grouped short code has the right shape and
// a consistent checksum character.
func ValidShortCode(code string) bool {
	if !shortCodeRe.MatchString(code) {
		return false
	}
	compact := strings.ReplaceAll(code, "-", "")
	return checksumChar(compact[:11]) == compact[11]
}

type registerRequest struct {
	AndroidID string `json:"androidId"`
}

// handleRegister derives and records a device's short code.
// POST /api/register
func (s *Server) handleRegister(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if !androidIDRe.MatchString(req.AndroidID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "androidId must be 16 hex digits"})
		return
	}

	shortCode := DeriveShortCode(req.AndroidID, s.pepper)

	ctx, cancel := requestContext(c)
	defer cancel()

	if err := s.store.RegisterViewer(ctx, shortCode); err != nil {
		s.logger.Error("viewer registration failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"shortCode": shortCode})
}
