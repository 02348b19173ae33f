package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"strconv"

	"github.com/jmcleod/ironwire/internal/util"
)

// SignHMAC returns the lowercase hex HMAC-SHA256 of data under key.
func SignHMAC(key, data []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return util.HexEncode(mac.Sum(nil))
}

// VerifyHMAC reports whether signature is the HMAC-SHA256 of data under key.
func VerifyHMAC(key, data []byte, signature string) bool {
	return hmac.Equal([]byte(SignHMAC(key, data)), []byte(signature))
}

// Jazoest returns the checksum the login form carries for input: "2"
// followed by the decimal sum of its bytes.
func Jazoest(input string) string {
	sum := 0
	for i := 0; i < len(input); i++ {
		sum += int(input[i])
	}
	return "2" + strconv.Itoa(sum)
}
