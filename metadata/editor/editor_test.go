package editor

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trustedupdates/tufcore/metadata"
	"github.com/trustedupdates/tufcore/metadata/signer"
)

// newLocalKeySource generates a fresh ed25519 key, writes it to a temp PEM
// file, and loads it back through signer.NewLocalFile, the same on-disk path
// a --key flag takes.
func newLocalKeySource(t *testing.T) signer.KeySource {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "key.pem")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), 0600))

	ks, err := signer.NewLocalFile(path)
	require.NoError(t, err)
	return ks
}

func newKeyForTest(t *testing.T) *metadata.Key {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	key, err := metadata.KeyFromPublicKey(pub)
	require.NoError(t, err)
	return key
}

func newRootForTest() *metadata.Metadata[metadata.RootType] {
	return metadata.Root(time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC))
}

func TestNewOpensTargetsMode(t *testing.T) {
	e := New(newRootForTest())
	assert.Equal(t, metadata.TARGETS, e.CurrentRole())
	top := e.Repository().Targets(metadata.TARGETS)
	require.NotNil(t, top)
	assert.Equal(t, int64(1), top.Signed.Version)
}

func TestAddAndRemoveTarget(t *testing.T) {
	e := New(newRootForTest())
	require.NoError(t, e.AddTarget("dir/a.txt", []byte("hello"), "sha256"))

	top := e.Repository().Targets(metadata.TARGETS)
	tf, ok := top.Signed.Targets["dir/a.txt"]
	require.True(t, ok)
	assert.Equal(t, int64(5), tf.Length)

	require.NoError(t, e.RemoveTarget("dir/a.txt"))
	_, ok = top.Signed.Targets["dir/a.txt"]
	assert.False(t, ok)
}

func TestRemoveTargetMissingFails(t *testing.T) {
	e := New(newRootForTest())
	err := e.RemoveTarget("dir/nope.txt")
	assert.Error(t, err)
}

func TestAddTargetRejectsPathTraversal(t *testing.T) {
	e := New(newRootForTest())
	err := e.AddTarget("../escape.txt", []byte("x"), "sha256")
	assert.Error(t, err)
}

func TestAddTargetsFromDirUsesWorkerPool(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("aaa"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("bbbb"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "c.txt"), []byte("ccccc"), 0644))

	e := New(newRootForTest())
	require.NoError(t, e.AddTargetsFromDir(dir, 3, "sha256"))

	top := e.Repository().Targets(metadata.TARGETS)
	assert.Len(t, top.Signed.Targets, 3)
	assert.Contains(t, top.Signed.Targets, "a.txt")
	assert.Contains(t, top.Signed.Targets, "sub/c.txt")
}

func TestChangeRoleOpensFreshVersionOneRole(t *testing.T) {
	e := New(newRootForTest())
	require.NoError(t, e.AddTarget("dir/a.txt", []byte("hello"), "sha256"))

	require.NoError(t, e.ChangeRole("team-a", nil))
	assert.Equal(t, "team-a", e.CurrentRole())
	team := e.Repository().Targets("team-a")
	require.NotNil(t, team)
	assert.Equal(t, int64(1), team.Signed.Version)
	assert.Empty(t, team.Signed.Targets)
}

func TestSetVersionAndSetExpires(t *testing.T) {
	e := New(newRootForTest())
	require.NoError(t, e.SetVersion(7))
	expiry := time.Date(2031, 6, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, e.SetExpires(expiry))

	top := e.Repository().Targets(metadata.TARGETS)
	assert.Equal(t, int64(7), top.Signed.Version)
	assert.True(t, expiry.Equal(top.Signed.Expires))
}

func TestDelegateRoleThenRemoveRoleRecursive(t *testing.T) {
	e := New(newRootForTest())
	key := newKeyForTest(t)

	require.NoError(t, e.DelegateRole("team-a", DelegateRoleOptions{
		Keys:      []*metadata.Key{key},
		Threshold: 1,
		Paths:     []string{"team-a/*"},
	}))
	assert.NotNil(t, e.Repository().Targets("team-a"))

	top := e.Repository().Targets(metadata.TARGETS)
	require.NotNil(t, top.Signed.Delegations)
	assert.Len(t, top.Signed.Delegations.Roles, 1)
	assert.Equal(t, "team-a", top.Signed.Delegations.Roles[0].Name)

	require.NoError(t, e.RemoveRole("team-a", true))
	assert.Nil(t, e.Repository().Targets("team-a"))
	assert.Empty(t, top.Signed.Delegations.Roles)
}

func TestDelegateRoleRejectsPathsAndHashPrefixesTogether(t *testing.T) {
	e := New(newRootForTest())
	key := newKeyForTest(t)
	err := e.DelegateRole("team-a", DelegateRoleOptions{
		Keys:             []*metadata.Key{key},
		Threshold:        1,
		Paths:            []string{"team-a/*"},
		PathHashPrefixes: []string{"ab"},
	})
	assert.Error(t, err)
}

func TestDelegateRoleRejectsDuplicateName(t *testing.T) {
	e := New(newRootForTest())
	key := newKeyForTest(t)
	opts := DelegateRoleOptions{Keys: []*metadata.Key{key}, Threshold: 1, Paths: []string{"*"}}
	require.NoError(t, e.DelegateRole("team-a", opts))
	err := e.DelegateRole("team-a", opts)
	assert.Error(t, err)
}

func TestUpdateRoleRejectsNonIncreasingVersion(t *testing.T) {
	e := New(newRootForTest())
	key := newKeyForTest(t)
	require.NoError(t, e.DelegateRole("team-a", DelegateRoleOptions{
		Keys: []*metadata.Key{key}, Threshold: 1, Paths: []string{"*"},
	}))

	same := metadata.Targets()
	same.Signed.Version = 1
	err := e.UpdateRole("team-a", same)
	require.Error(t, err)
	var rollback metadata.ErrRollback
	assert.ErrorAs(t, err, &rollback)

	newer := metadata.Targets()
	newer.Signed.Version = 2
	require.NoError(t, e.UpdateRole("team-a", newer))
	assert.Same(t, newer, e.Repository().Targets("team-a"))
}

func TestUpdateRoleRejectsUnknownRole(t *testing.T) {
	e := New(newRootForTest())
	err := e.UpdateRole("nonexistent", metadata.Targets())
	assert.Error(t, err)
}

func TestAddKeyAndRemoveKeyOnRootRole(t *testing.T) {
	e := New(newRootForTest())
	key := newKeyForTest(t)

	require.NoError(t, e.AddKey(key, metadata.SNAPSHOT))
	assert.Contains(t, e.Repository().Root().Signed.Roles[metadata.SNAPSHOT].KeyIDs, key.ID())

	require.NoError(t, e.RemoveKey(key.ID(), metadata.SNAPSHOT))
	assert.NotContains(t, e.Repository().Root().Signed.Roles[metadata.SNAPSHOT].KeyIDs, key.ID())
}

func TestAddKeyOnDelegatedRole(t *testing.T) {
	e := New(newRootForTest())
	delegateKey := newKeyForTest(t)
	require.NoError(t, e.DelegateRole("team-a", DelegateRoleOptions{
		Keys: []*metadata.Key{delegateKey}, Threshold: 1, Paths: []string{"*"},
	}))

	extraKey := newKeyForTest(t)
	require.NoError(t, e.AddKey(extraKey, "team-a"))

	top := e.Repository().Targets(metadata.TARGETS)
	assert.Contains(t, top.Signed.Delegations.Roles[0].KeyIDs, extraKey.ID())
}

func TestCrossSignRootRejectsRollback(t *testing.T) {
	e := New(newRootForTest())
	stale := metadata.Root(time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC))
	stale.Signed.Version = e.Repository().Root().Signed.Version
	err := e.CrossSignRoot(stale, nil, nil)
	require.Error(t, err)
	var rollback metadata.ErrRollback
	assert.ErrorAs(t, err, &rollback)
}

// TestCrossSignRootCarriesBothKeySets exercises the key-rotation path
// deferred from trustedmetadata's own tests: a new root signed by both the
// outgoing and incoming keys, which is the only way a single-version root
// update survives verification against both the old trusted root (needs the
// old keys) and itself (needs the new keys).
func TestCrossSignRootCarriesBothKeySets(t *testing.T) {
	e := New(newRootForTest())
	oldKey := newLocalKeySource(t)
	newKey := newLocalKeySource(t)

	newRoot := metadata.Root(time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC))
	newRoot.Signed.Version = 2

	require.NoError(t, e.CrossSignRoot(newRoot, []signer.KeySource{oldKey}, []signer.KeySource{newKey}))
	assert.Len(t, newRoot.Signatures, 2)
	assert.Same(t, newRoot, e.Repository().Root())
}

// TestCommitIsDeterministic rebuilds an identical repository (same edits,
// keys, and clock-independent fields) twice, sharing one root key, and
// checks the two commits produce the same set of output files with
// identical bytes for every file, root.json included.
func TestCommitIsDeterministic(t *testing.T) {
	rootKey := newLocalKeySource(t)
	pub, err := rootKey.PublicKey()
	require.NoError(t, err)

	build := func(outDir string) {
		root := newRootForTest()
		require.NoError(t, root.Signed.AddKey(pub, metadata.ROOT))
		require.NoError(t, root.Signed.AddKey(pub, metadata.SNAPSHOT))
		require.NoError(t, root.Signed.AddKey(pub, metadata.TIMESTAMP))
		require.NoError(t, root.Signed.AddKey(pub, metadata.TARGETS))

		e := New(root)
		require.NoError(t, e.SetVersion(1))
		require.NoError(t, e.SetExpires(time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)))
		require.NoError(t, e.AddTarget("dir/a.txt", []byte("hello"), "sha256"))

		fixedExpiry := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
		e.Repository().SetSnapshot(metadata.Snapshot(fixedExpiry))
		e.Repository().SetTimestamp(metadata.Timestamp(fixedExpiry))

		keys := map[string][]signer.KeySource{
			metadata.ROOT:      {rootKey},
			metadata.SNAPSHOT:  {rootKey},
			metadata.TIMESTAMP: {rootKey},
			metadata.TARGETS:   {rootKey},
		}
		require.NoError(t, e.Commit(keys, outDir))
	}

	dirA := t.TempDir()
	dirB := t.TempDir()
	build(dirA)
	build(dirB)

	for _, name := range []string{"targets.json", "snapshot.json", "timestamp.json", "root.json"} {
		dataA, err := os.ReadFile(filepath.Join(dirA, name))
		require.NoError(t, err)
		dataB, err := os.ReadFile(filepath.Join(dirB, name))
		require.NoError(t, err)
		assert.Equal(t, string(dataA), string(dataB), "mismatch for %s", name)
	}
}

func TestSignUnknownRoleFails(t *testing.T) {
	e := New(newRootForTest())
	err := e.Sign("nonexistent-role", []signer.KeySource{newLocalKeySource(t)})
	assert.Error(t, err)
}
