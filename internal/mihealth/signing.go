package mihealth

import (
	"crypto/rand"
	"crypto/rc4"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"time"
)

// The platform signs every API call with a session-derived key chain:
//
//	nonce       = 8 random bytes || minutes(unix) as big-endian uint32
//	signedNonce = SHA256(securityKey || nonce)
//
// The request body and its first-stage signature are RC4-encrypted under
// signedNonce with the first 1024 keystream bytes discarded; responses are
// decrypted with a fresh cipher under the same key.

const rc4DropBytes = 1024

func newNonce(now time.Time) ([]byte, error) {
	nonce := make([]byte, 12)
	if _, err := rand.Read(nonce[:8]); err != nil {
		return nil, err
	}
	minutes := uint32(now.Unix() / 60)
	binary.BigEndian.PutUint32(nonce[8:], minutes)
	return nonce, nil
}

func signNonce(securityKey, nonce []byte) []byte {
	h := sha256.New()
	h.Write(securityKey)
	h.Write(nonce)
	return h.Sum(nil)
}

func sha1Base64(data string) string {
	sum := sha1.Sum([]byte(data))
	return base64.StdEncoding.EncodeToString(sum[:])
}

func rc4Crypt(key, data []byte) ([]byte, error) {
	cipher, err := rc4.NewCipher(key)
	if err != nil {
		return nil, err
	}
	drop := make([]byte, rc4DropBytes)
	cipher.XORKeyStream(drop, drop)
	out := make([]byte, len(data))
	cipher.XORKeyStream(out, data)
	return out, nil
}

func encryptPayload(signedNonce []byte, data string) (string, error) {
	enc, err := rc4Crypt(signedNonce, []byte(data))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(enc), nil
}

func decryptPayload(signedNonce []byte, encoded string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode response body: %w", err)
	}
	return rc4Crypt(signedNonce, raw)
}

// signedForm holds the four form fields of a signed platform request.
type signedForm struct {
	Data      string
	RC4Hash   string
	Signature string
	Nonce     string
}

// signRequest derives the complete signed form for a POST to endpoint with the
// given JSON params. Both signature stages cover the endpoint path, so the
// server can verify the ciphertext was produced for this exact call.
func signRequest(securityKey []byte, endpoint, params string, now time.Time) (*signedForm, []byte, error) {
	nonce, err := newNonce(now)
	if err != nil {
		return nil, nil, err
	}
	signedNonce := signNonce(securityKey, nonce)
	signedNonceB64 := base64.StdEncoding.EncodeToString(signedNonce)

	firstStage := fmt.Sprintf("POST&%s&data=%s&%s", endpoint, params, signedNonceB64)
	rc4Hash := sha1Base64(firstStage)

	encData, err := encryptPayload(signedNonce, params)
	if err != nil {
		return nil, nil, err
	}
	encHash, err := encryptPayload(signedNonce, rc4Hash)
	if err != nil {
		return nil, nil, err
	}

	secondStage := fmt.Sprintf("POST&%s&data=%s&rc4_hash__=%s&%s", endpoint, encData, encHash, signedNonceB64)
	signature := sha1Base64(secondStage)

	return &signedForm{
		Data:      encData,
		RC4Hash:   encHash,
		Signature: signature,
		Nonce:     base64.StdEncoding.EncodeToString(nonce),
	}, signedNonce, nil
}
