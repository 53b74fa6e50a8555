package crypt

import (
	"bytes"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	secret := []byte("test-cluster-secret-0123456789ab")
	msg := []byte(`{"kind":"full","gen":1}`)

	env, err := Seal(secret, "mycluster", "n1", msg)
	if err != nil {
		t.Fatal(err)
	}
	got, err := Open(secret, "mycluster", env)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, msg) {
		t.Errorf("round trip mismatch: got %q want %q", got, msg)
	}
}

func TestClusterNameMismatch(t *testing.T) {
	secret := []byte("secret")
	env, err := Seal(secret, "clusterA", "n1", []byte("x"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Open(secret, "clusterB", env); err == nil {
		t.Fatal("expected AuthError for cluster name mismatch")
	}
}

func TestJoinBypassesClusterNameCheck(t *testing.T) {
	secret := []byte("secret")
	env, err := Seal(secret, JoinClusterName, "n1", []byte("hello"))
	if err != nil {
		t.Fatal(err)
	}
	got, err := Open(secret, "any-cluster-name", env)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello" {
		t.Errorf("got %q", got)
	}
}

func TestMaxPayloadBoundary(t *testing.T) {
	secret := []byte("secret")
	ok := bytes.Repeat([]byte("a"), MaxPayloadBytes)
	if _, err := Seal(secret, "c", "n1", ok); err != nil {
		t.Fatalf("exactly 8MiB should be accepted: %v", err)
	}
	tooBig := bytes.Repeat([]byte("a"), MaxPayloadBytes+1)
	if _, err := Seal(secret, "c", "n1", tooBig); err == nil {
		t.Fatal("8MiB+1 should be rejected")
	}
}

func TestTamperedCiphertextFailsPadding(t *testing.T) {
	secret := []byte("secret")
	env, err := Seal(secret, "c", "n1", []byte("hello world"))
	if err != nil {
		t.Fatal(err)
	}
	env.Data = env.Data[:len(env.Data)-4] + "AAAA"
	if _, err := Open(secret, "c", env); err == nil {
		t.Fatal("expected padding/auth error on tampered ciphertext")
	}
}
