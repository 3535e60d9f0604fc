package mihealth

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewNonce(t *testing.T) {
	now := time.Unix(1700000000, 0)
	nonce, err := newNonce(now)
	require.NoError(t, err)

	require.Len(t, nonce, 12)
	minutes := binary.BigEndian.Uint32(nonce[8:])
	assert.Equal(t, uint32(1700000000/60), minutes)

	other, err := newNonce(now)
	require.NoError(t, err)
	assert.NotEqual(t, nonce[:8], other[:8])
}

func TestSignNonceDeterministic(t *testing.T) {
	key := []byte("security-key")
	nonce := []byte("0123456789ab")

	a := signNonce(key, nonce)
	b := signNonce(key, nonce)
	assert.Equal(t, a, b)
	assert.Len(t, a, 32)

	c := signNonce([]byte("other-key"), nonce)
	assert.NotEqual(t, a, c)
}

func TestRC4RoundTrip(t *testing.T) {
	key := signNonce([]byte("key"), []byte("nonce"))
	plaintext := []byte(`{"start_time":1,"end_time":2,"key":"weight"}`)

	enc, err := rc4Crypt(key, plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, enc)

	dec, err := rc4Crypt(key, enc)
	require.NoError(t, err)
	assert.Equal(t, plaintext, dec)
}

func TestEncryptDecryptPayload(t *testing.T) {
	key := signNonce([]byte("sec"), []byte("abcdefgh1234"))

	enc, err := encryptPayload(key, "hello world")
	require.NoError(t, err)

	dec, err := decryptPayload(key, enc)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(dec))

	_, err = decryptPayload(key, "not base64 !!!")
	assert.Error(t, err)
}

func TestSignRequestVerifiable(t *testing.T) {
	security := []byte("0123456789abcdef")
	endpoint := "/app/v1/data/get_fitness_data_by_time"
	params := `{"start_time":100,"end_time":200,"key":"sleep"}`

	form, signedNonce, err := signRequest(security, endpoint, params, time.Now())
	require.NoError(t, err)

	// The server recomputes signedNonce from the transmitted nonce.
	nonce, err := base64.StdEncoding.DecodeString(form.Nonce)
	require.NoError(t, err)
	assert.Equal(t, signedNonce, signNonce(security, nonce))

	// Decrypting data must reproduce the params.
	dec, err := decryptPayload(signedNonce, form.Data)
	require.NoError(t, err)
	assert.Equal(t, params, string(dec))

	// First-stage signature is carried encrypted in rc4_hash__.
	decHash, err := decryptPayload(signedNonce, form.RC4Hash)
	require.NoError(t, err)
	signedNonceB64 := base64.StdEncoding.EncodeToString(signedNonce)
	expectHash := sha1Base64(fmt.Sprintf("POST&%s&data=%s&%s", endpoint, params, signedNonceB64))
	assert.Equal(t, expectHash, string(decHash))

	// Second-stage signature covers the ciphertext fields.
	expectSig := sha1Base64(fmt.Sprintf("POST&%s&data=%s&rc4_hash__=%s&%s",
		endpoint, form.Data, form.RC4Hash, signedNonceB64))
	assert.Equal(t, expectSig, form.Signature)
}
