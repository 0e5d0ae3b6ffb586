package signer

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePKCS8PEM(t *testing.T, priv any) string {
	t.Helper()
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	require.NoError(t, err)
	block := &pem.Block{Type: "PRIVATE KEY", Bytes: der}
	path := filepath.Join(t.TempDir(), "key.pem")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(block), 0600))
	return path
}

func TestLocalFileEd25519RoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	path := writePKCS8PEM(t, priv)

	lf, err := NewLocalFile(path)
	require.NoError(t, err)

	key, err := lf.PublicKey()
	require.NoError(t, err)
	assert.NotEmpty(t, key.ID())

	sig, err := lf.Sign(context.Background(), []byte("payload"))
	require.NoError(t, err)
	assert.True(t, ed25519.Verify(pub, []byte("payload"), sig))
}

func TestLocalFileRSARoundTrip(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	path := writePKCS8PEM(t, priv)

	lf, err := NewLocalFile(path)
	require.NoError(t, err)

	sig, err := lf.Sign(context.Background(), []byte("payload"))
	require.NoError(t, err)
	assert.NotEmpty(t, sig)
}

func TestLocalFileECDSARoundTrip(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	path := writePKCS8PEM(t, priv)

	lf, err := NewLocalFile(path)
	require.NoError(t, err)

	sig, err := lf.Sign(context.Background(), []byte("payload"))
	require.NoError(t, err)
	assert.NotEmpty(t, sig)
}

func TestLocalFileRejectsMissingFile(t *testing.T) {
	_, err := NewLocalFile("/no/such/key.pem")
	assert.Error(t, err)
}

func TestLocalFileRejectsGarbagePEM(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key.pem")
	require.NoError(t, os.WriteFile(path, []byte("not a pem file"), 0600))
	_, err := NewLocalFile(path)
	assert.Error(t, err)
}

func TestParseSourceDispatchesFileScheme(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	path := writePKCS8PEM(t, priv)

	ks, err := ParseSource("file://" + path)
	require.NoError(t, err)
	_, ok := ks.(*LocalFile)
	assert.True(t, ok)
}

func TestParseSourceDispatchesBarePath(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	path := writePKCS8PEM(t, priv)

	ks, err := ParseSource(path)
	require.NoError(t, err)
	_, ok := ks.(*LocalFile)
	assert.True(t, ok)
}

func TestParseSourceDispatchesKMS(t *testing.T) {
	ks, err := ParseSource("aws-kms://my-profile/arn:aws:kms:us-east-1:111122223333:key/abc")
	require.NoError(t, err)
	_, ok := ks.(*KMS)
	assert.True(t, ok)
}

func TestParseSourceDispatchesSSM(t *testing.T) {
	ks, err := ParseSource("aws-ssm:///my/parameter/name")
	require.NoError(t, err)
	_, ok := ks.(*SSM)
	assert.True(t, ok)
}

func TestParseSourceRejectsAWSURIMissingID(t *testing.T) {
	_, err := ParseSource("aws-kms://my-profile/")
	assert.Error(t, err)
}
