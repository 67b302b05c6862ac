package ssb

import (
	"crypto/sha256"
	"encoding/base64"
	"regexp"
	"strings"
)

// Sigils prefixing the three kinds of reference.
const (
	FeedSigil = '@'
	MsgSigil  = '%'
	BlobSigil = '&'
)

var (
	feedRef = regexp.MustCompile(`^@[A-Za-z0-9/+]{43}=\.(?:ed25519|sha256)$`)
	msgRef  = regexp.MustCompile(`^%[A-Za-z0-9/+]{43}=\.sha256$`)
	blobRef = regexp.MustCompile(`^&[A-Za-z0-9/+]{43}=\.sha256$`)

	// RefPattern matches any reference at the start of a string.
	RefPattern = regexp.MustCompile(`^[@%&][A-Za-z0-9/+]{43}=\.(?:ed25519|sha256)`)
)

// IsFeed reports whether s is a feed reference.
func IsFeed(s string) bool { return feedRef.MatchString(s) }

// IsMsg reports whether s is a message reference.
func IsMsg(s string) bool { return msgRef.MatchString(s) }

// IsBlob reports whether s is a blob reference.
func IsBlob(s string) bool { return blobRef.MatchString(s) }

// IsRef reports whether s is any kind of reference.
func IsRef(s string) bool { return IsFeed(s) || IsMsg(s) || IsBlob(s) }

// BlobID returns the content address of data.
func BlobID(data []byte) string {
	sum := sha256.Sum256(data)
	return "&" + base64.StdEncoding.EncodeToString(sum[:]) + ".sha256"
}

// MsgID returns the content address of an encoded message value.
func MsgID(value []byte) string {
	sum := sha256.Sum256(value)
	return "%" + base64.StdEncoding.EncodeToString(sum[:]) + ".sha256"
}

// NormalizeChannel strips the leading '#' some clients include.
func NormalizeChannel(s string) string {
	return strings.TrimPrefix(strings.TrimSpace(s), "#")
}
