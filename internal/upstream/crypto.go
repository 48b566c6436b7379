package upstream

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// encryptEnvelope is the signed object sent, AES-encrypted, as the
// x-encrypt-key header (§4.3, §6). Field order in the struct is irrelevant —
// signing operates on the sorted-key query string built separately.
type encryptEnvelope struct {
	Token     string `json:"token"`
	UserID    int64  `json:"userId"`
	Timestamp int64  `json:"timestamp"`
	URL       string `json:"url"`
	Platform  string `json:"platform"`
	Nonce     string `json:"nonce"`
	Sign      string `json:"sign"`
}

// generateNonce produces a random string of at least 18 characters, the way
// the original client concatenates a dashless UUIDv4 with the last six
// digits of a millisecond timestamp.
func generateNonce(nowMillis int64) string {
	id := strings.ReplaceAll(uuid.New().String(), "-", "")
	ts := fmt.Sprintf("%d", nowMillis)
	if len(ts) > 6 {
		ts = ts[len(ts)-6:]
	}
	return id + ts
}

// signParams computes the HMAC-SHA256 signature over the sorted
// "key=value&...&key=<hmacKey>" query string (§4.3).
func signParams(params map[string]string, hmacKey string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(params[k])
		sb.WriteByte('&')
	}
	sb.WriteString("key=")
	sb.WriteString(hmacKey)

	mac := hmac.New(sha256.New, []byte(hmacKey))
	mac.Write([]byte(sb.String()))
	return hex.EncodeToString(mac.Sum(nil))
}

// buildEncryptedHeader builds the full getEncryptData()+getEncrypt() pipeline
// for one request: sign the envelope, JSON-marshal it, AES-CBC/zero-pad
// encrypt, base64 the ciphertext.
func buildEncryptedHeader(token string, userID int64, urlPath string, keys sessionKeys, now time.Time) (string, error) {
	nowMillis := now.UnixMilli()
	nonce := generateNonce(nowMillis)

	params := map[string]string{
		"token":     token,
		"userId":    fmt.Sprintf("%d", userID),
		"timestamp": fmt.Sprintf("%d", nowMillis),
		"url":       urlPath,
		"platform":  "web",
		"nonce":     nonce,
	}
	sign := signParams(params, keys.hmacKey)

	env := encryptEnvelope{
		Token:     token,
		UserID:    userID,
		Timestamp: nowMillis,
		URL:       urlPath,
		Platform:  "web",
		Nonce:     nonce,
		Sign:      sign,
	}

	payload, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("marshal encrypt envelope: %w", err)
	}

	return aesEncryptZeroPad(payload, keys.aesKey, keys.iv)
}

// aesEncryptZeroPad mirrors the frontend's CryptoJS.pad.ZeroPadding AES-CBC
// scheme: the key is interpreted as Latin-1 bytes, the IV as UTF-8 bytes,
// and the plaintext is zero-padded (not PKCS7) up to the block size.
func aesEncryptZeroPad(plaintext []byte, aesKey, iv string) (string, error) {
	keyBytes := latin1Bytes(aesKey)
	ivBytes := []byte(iv)

	block, err := aes.NewCipher(keyBytes)
	if err != nil {
		return "", fmt.Errorf("create AES cipher: %w", err)
	}
	if len(ivBytes) != block.BlockSize() {
		return "", fmt.Errorf("iv length %d does not match block size %d", len(ivBytes), block.BlockSize())
	}

	padded := zeroPad(plaintext, block.BlockSize())
	ciphertext := make([]byte, len(padded))
	cbc := cipher.NewCBCEncrypter(block, ivBytes)
	cbc.CryptBlocks(ciphertext, padded)

	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

func aesDecryptZeroPad(encoded string, aesKey, iv string) (string, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("base64 decode: %w", err)
	}

	block, err := aes.NewCipher([]byte(aesKey))
	if err != nil {
		return "", fmt.Errorf("create AES cipher: %w", err)
	}

	plaintext := make([]byte, len(ciphertext))
	cbc := cipher.NewCBCDecrypter(block, []byte(iv))
	cbc.CryptBlocks(plaintext, ciphertext)

	return string(stripZeroPad(plaintext)), nil
}

func zeroPad(data []byte, blockSize int) []byte {
	padLen := blockSize - (len(data) % blockSize)
	if padLen == blockSize {
		return data
	}
	return append(data, make([]byte, padLen)...)
}

func stripZeroPad(data []byte) []byte {
	i := len(data)
	for i > 0 && data[i-1] == 0 {
		i--
	}
	return data[:i]
}

// latin1Bytes reinterprets a string's Unicode code points as raw Latin-1
// byte values, matching CryptoJS.enc.Latin1.parse on the frontend.
func latin1Bytes(s string) []byte {
	runes := []rune(s)
	out := make([]byte, len(runes))
	for i, r := range runes {
		out[i] = byte(r)
	}
	return out
}
