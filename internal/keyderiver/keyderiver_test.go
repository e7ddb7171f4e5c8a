package keyderiver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveSeedIsDeterministic(t *testing.T) {
	var primaryKey [Size]byte
	copy(primaryKey[:], []byte("deterministic-test-primary-key!"))
	ns := DefaultNamespace

	s1, err := DeriveSeed(primaryKey, ns, []byte("test"))
	require.NoError(t, err)
	s2, err := DeriveSeed(primaryKey, ns, []byte("test"))
	require.NoError(t, err)

	assert.Equal(t, s1, s2)
}

func TestCreateKeyPairDeterministic(t *testing.T) {
	var primaryKey [Size]byte
	copy(primaryKey[:], []byte("another-primary-key-for-testing"))
	ns := DefaultNamespace

	kp1, err := CreateKeyPair(primaryKey, ns, []byte("test"))
	require.NoError(t, err)
	kp2, err := CreateKeyPair(primaryKey, ns, []byte("test"))
	require.NoError(t, err)

	assert.Equal(t, kp1.PublicKey, kp2.PublicKey)
	assert.Equal(t, kp1.SecretKey, kp2.SecretKey)
}

func TestDifferentPrimaryKeysDiverge(t *testing.T) {
	var pk1, pk2 [Size]byte
	copy(pk1[:], []byte("primary-key-number-one-32bytes!!"))
	copy(pk2[:], []byte("primary-key-number-two-32bytes!!"))
	ns := DefaultNamespace

	kp1, err := CreateKeyPair(pk1, ns, []byte("test"))
	require.NoError(t, err)
	kp2, err := CreateKeyPair(pk2, ns, []byte("test"))
	require.NoError(t, err)

	assert.NotEqual(t, kp1.PublicKey, kp2.PublicKey)
}

func TestNamespaceSeparation(t *testing.T) {
	ns1, err := DeriveNamespace(DefaultNamespace, []byte("ns1"))
	require.NoError(t, err)
	ns2, err := DeriveNamespace(DefaultNamespace, []byte("ns2"))
	require.NoError(t, err)
	ns3, err := DeriveNamespace(DefaultNamespace, []byte("ns1"))
	require.NoError(t, err)

	assert.NotEqual(t, ns1, ns2)
	assert.Equal(t, ns1, ns3)
}

func TestEmptyNameIsLegal(t *testing.T) {
	var primaryKey [Size]byte
	_, err := CreateKeyPair(primaryKey, DefaultNamespace, []byte(""))
	assert.NoError(t, err)
}

func TestCreateTokenIsRandom(t *testing.T) {
	t1, err := CreateToken()
	require.NoError(t, err)
	t2, err := CreateToken()
	require.NoError(t, err)

	assert.NotEqual(t, t1, t2)
}

func TestNSDomainTagFixed(t *testing.T) {
	var zero [Size]byte
	assert.NotEqual(t, zero, NS)
}
