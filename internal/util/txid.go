package util

import (
	"crypto/rand"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Identifier lengths fixed by the consent protocol.
const (
	XAPITranIDLen  = 25
	SignTxIDMaxLen = 49
	CertTxIDLen    = 40
	TxIDLen        = 74
	OrgCodeLen     = 10

	timestampLayout = "20060102150405"
)

const (
	upperAlnum = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	base62     = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
)

// NewCertTxID returns a 14 digit UTC timestamp followed by uppercase
// alphanumerics, exactly CertTxIDLen characters long.
func NewCertTxID(now time.Time) string {
	id := now.UTC().Format(timestampLayout) + RandomString(10, upperAlnum)
	return fitLength(id, CertTxIDLen, upperAlnum)
}

// NewTxID returns an opaque TxIDLen character id: a random 128 bit hex id
// padded with base62 characters.
func NewTxID() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fitLength(id, TxIDLen, base62)
}

// NewXAPITranID builds an x-api-tran-id for orgCode: org code (10), the
// requester marker "M" and 14 random characters.
func NewXAPITranID(orgCode string) string {
	org := fitLength(orgCode, OrgCodeLen, upperAlnum)
	return org + "M" + RandomString(XAPITranIDLen-OrgCodeLen-1, upperAlnum)
}

// NewSignTxID builds orgCode_caCode_timestamp_serial, bounded to SignTxIDMaxLen.
func NewSignTxID(orgCode, caCode string, now time.Time) string {
	id := orgCode + "_" + caCode + "_" + now.UTC().Format(timestampLayout) + "_" + RandomString(12, upperAlnum)
	if len(id) > SignTxIDMaxLen {
		id = id[:SignTxIDMaxLen]
	}
	return id
}

// fitLength truncates s to n or pads it with random characters from alphabet.
func fitLength(s string, n int, alphabet string) string {
	if len(s) >= n {
		return s[:n]
	}
	return s + RandomString(n-len(s), alphabet)
}

// RandomString draws n characters uniformly from alphabet using crypto/rand.
func RandomString(n int, alphabet string) string {
	if n <= 0 {
		return ""
	}
	max := big.NewInt(int64(len(alphabet)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic("crypto/rand unavailable: " + err.Error())
		}
		b[i] = alphabet[idx.Int64()]
	}
	return string(b)
}
