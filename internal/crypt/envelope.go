// Package crypt implements the authenticated-encryption envelope that wraps
// every peer and client payload: AES-256-CBC with a key derived from the
// cluster secret, framed as JSON alongside the cluster and node name.
package crypt

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// MaxPayloadBytes bounds the plaintext payload size accepted on decrypt;
// payloads larger than this are rejected per spec.md §4.3.
const MaxPayloadBytes = 8 * 1024 * 1024

// JoinClusterName is the literal cluster name accepted on join requests,
// bypassing the usual cluster-name match.
const JoinClusterName = "join"

// Envelope is the wire-format wrapper: base64 IV and ciphertext alongside
// the sender's cluster and node name, used to pick the right key and
// validate provenance before attempting decryption.
type Envelope struct {
	IV          string `json:"iv"`
	Data        string `json:"data"`
	ClusterName string `json:"clustername"`
	NodeName    string `json:"nodename"`
}

// AuthError covers envelope decryption/authentication failures: cluster
// name mismatch, padding error, or oversized payload. Callers drop the
// message (cmd/svcorbd's heartbeat receive loop and listener.Server log it
// and count it against the sender's blacklist); they are never retried
// automatically.
type AuthError struct {
	Detail string
}

func (e *AuthError) Error() string { return "crypt: auth error: " + e.Detail }

// DeriveKey derives the 32-byte AES-256 key from a cluster secret via
// SHA-256, per spec.md §4.3.
func DeriveKey(clusterSecret []byte) []byte {
	sum := sha256.Sum256(clusterSecret)
	return sum[:]
}

// Seal encrypts payload under clusterSecret and wraps it in an Envelope
// tagged with clusterName/nodeName.
func Seal(clusterSecret []byte, clusterName, nodeName string, payload []byte) (Envelope, error) {
	if len(payload) > MaxPayloadBytes {
		return Envelope{}, &AuthError{Detail: fmt.Sprintf("payload %d bytes exceeds %d byte limit", len(payload), MaxPayloadBytes)}
	}
	key := DeriveKey(clusterSecret)
	block, err := aes.NewCipher(key)
	if err != nil {
		return Envelope{}, err
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return Envelope{}, err
	}

	padded := pkcs7Pad(payload, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cbc := cipher.NewCBCEncrypter(block, iv)
	cbc.CryptBlocks(ciphertext, padded)

	return Envelope{
		IV:          base64.StdEncoding.EncodeToString(iv),
		Data:        base64.StdEncoding.EncodeToString(ciphertext),
		ClusterName: clusterName,
		NodeName:    nodeName,
	}, nil
}

// Open decrypts env under clusterSecret, validating the cluster name
// (unless env.ClusterName is the literal "join"). Returns AuthError for
// any cluster-name mismatch, malformed base64, or padding failure.
func Open(clusterSecret []byte, expectedClusterName string, env Envelope) ([]byte, error) {
	if env.ClusterName != expectedClusterName && env.ClusterName != JoinClusterName {
		return nil, &AuthError{Detail: fmt.Sprintf("cluster name mismatch: got %q", env.ClusterName)}
	}
	key := DeriveKey(clusterSecret)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, &AuthError{Detail: err.Error()}
	}

	iv, err := base64.StdEncoding.DecodeString(env.IV)
	if err != nil || len(iv) != aes.BlockSize {
		return nil, &AuthError{Detail: "malformed iv"}
	}
	ciphertext, err := base64.StdEncoding.DecodeString(env.Data)
	if err != nil {
		return nil, &AuthError{Detail: "malformed data"}
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, &AuthError{Detail: "ciphertext not block-aligned"}
	}
	if len(ciphertext) > MaxPayloadBytes+aes.BlockSize {
		return nil, &AuthError{Detail: "payload exceeds size limit"}
	}

	plainPadded := make([]byte, len(ciphertext))
	cbc := cipher.NewCBCDecrypter(block, iv)
	cbc.CryptBlocks(plainPadded, ciphertext)

	plain, err := pkcs7Unpad(plainPadded, aes.BlockSize)
	if err != nil {
		return nil, &AuthError{Detail: "padding error: " + err.Error()}
	}
	if len(plain) > MaxPayloadBytes {
		return nil, &AuthError{Detail: "payload exceeds size limit"}
	}
	return plain, nil
}

// SealJSON marshals v to JSON and seals it.
func SealJSON(clusterSecret []byte, clusterName, nodeName string, v interface{}) (Envelope, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Envelope{}, err
	}
	return Seal(clusterSecret, clusterName, nodeName, b)
}

// OpenJSON opens env and unmarshals the plaintext into v.
func OpenJSON(clusterSecret []byte, expectedClusterName string, env Envelope, v interface{}) error {
	plain, err := Open(clusterSecret, expectedClusterName, env)
	if err != nil {
		return err
	}
	return json.Unmarshal(plain, v)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padding := bytes.Repeat([]byte{byte(padLen)}, padLen)
	return append(append([]byte(nil), data...), padding...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	n := len(data)
	if n == 0 || n%blockSize != 0 {
		return nil, fmt.Errorf("invalid padded length %d", n)
	}
	padLen := int(data[n-1])
	if padLen == 0 || padLen > blockSize || padLen > n {
		return nil, fmt.Errorf("invalid padding length %d", padLen)
	}
	for _, b := range data[n-padLen:] {
		if int(b) != padLen {
			return nil, fmt.Errorf("invalid padding bytes")
		}
	}
	return data[:n-padLen], nil
}
