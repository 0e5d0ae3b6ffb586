package trustedmetadata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trustedupdates/tufcore/metadata"
	"github.com/trustedupdates/tufcore/testutils/simulator"
)

func newTrustedFromSim(t *testing.T, sim *simulator.RepositorySimulator) *TrustedMetadata {
	t.Helper()
	rootData, err := sim.FetchMetadata(metadata.ROOT, 1)
	require.NoError(t, err)
	trusted, err := New(rootData)
	require.NoError(t, err)
	return trusted
}

func TestNewLoadsTrustedRoot(t *testing.T) {
	sim := simulator.NewRepository()
	trusted := newTrustedFromSim(t, sim)
	assert.Equal(t, int64(1), trusted.Root.Signed.Version)
}

func TestFullRefreshWorkflow(t *testing.T) {
	sim := simulator.NewRepository()
	sim.AddTarget(metadata.TARGETS, []byte("hello"), "dir/hello.txt")
	sim.UpdateSnapshot()

	trusted := newTrustedFromSim(t, sim)

	tsData, err := sim.FetchMetadata(metadata.TIMESTAMP, -1)
	require.NoError(t, err)
	_, err = trusted.UpdateTimestamp(tsData)
	require.NoError(t, err)

	snapData, err := sim.FetchMetadata(metadata.SNAPSHOT, -1)
	require.NoError(t, err)
	_, err = trusted.UpdateSnapshot(snapData, false)
	require.NoError(t, err)

	targetsData, err := sim.FetchMetadata(metadata.TARGETS, -1)
	require.NoError(t, err)
	tg, err := trusted.UpdateTargets(targetsData)
	require.NoError(t, err)
	assert.Contains(t, tg.Signed.Targets, "dir/hello.txt")
}

func TestUpdateTimestampRejectsRollback(t *testing.T) {
	sim := simulator.NewRepository()
	trusted := newTrustedFromSim(t, sim)

	ts1, err := sim.FetchMetadata(metadata.TIMESTAMP, -1)
	require.NoError(t, err)
	_, err = trusted.UpdateTimestamp(ts1)
	require.NoError(t, err)

	sim.MDTimestamp.Signed.Version++
	ts2, err := sim.FetchMetadata(metadata.TIMESTAMP, -1)
	require.NoError(t, err)
	_, err = trusted.UpdateTimestamp(ts2)
	require.NoError(t, err)

	// feeding the earlier, now-stale timestamp back in must be rejected.
	_, err = trusted.UpdateTimestamp(ts1)
	require.Error(t, err)
	var rollback metadata.ErrRollback
	assert.ErrorAs(t, err, &rollback)
}

func TestUpdateTimestampRejectsEqualVersion(t *testing.T) {
	sim := simulator.NewRepository()
	trusted := newTrustedFromSim(t, sim)

	ts1, err := sim.FetchMetadata(metadata.TIMESTAMP, -1)
	require.NoError(t, err)
	_, err = trusted.UpdateTimestamp(ts1)
	require.NoError(t, err)

	_, err = trusted.UpdateTimestamp(ts1)
	require.Error(t, err)
	var equalErr metadata.ErrEqualVersionNumber
	assert.ErrorAs(t, err, &equalErr)
}

func TestUpdateSnapshotRejectsRollback(t *testing.T) {
	sim := simulator.NewRepository()
	sim.AddTarget(metadata.TARGETS, []byte("v1"), "dir/f.txt")
	sim.UpdateSnapshot() // snapshot v2, meta targets.json version 1

	trusted := newTrustedFromSim(t, sim)
	ts1, err := sim.FetchMetadata(metadata.TIMESTAMP, -1)
	require.NoError(t, err)
	_, err = trusted.UpdateTimestamp(ts1)
	require.NoError(t, err)

	staleSnapshot, err := sim.FetchMetadata(metadata.SNAPSHOT, -1)
	require.NoError(t, err)
	_, err = trusted.UpdateSnapshot(staleSnapshot, false)
	require.NoError(t, err)

	// republish targets at a new version, which advances snapshot's
	// targets.json meta pointer from 1 to 2.
	sim.MDTargets.Signed.Version++
	sim.UpdateSnapshot() // snapshot v3, meta targets.json version 2

	// a TrustedMetadata accepts no new timestamp once a snapshot is loaded,
	// so the newer repository state is walked from a fresh set.
	trusted = newTrustedFromSim(t, sim)

	ts2, err := sim.FetchMetadata(metadata.TIMESTAMP, -1)
	require.NoError(t, err)
	_, err = trusted.UpdateTimestamp(ts2)
	require.NoError(t, err)

	freshSnapshot, err := sim.FetchMetadata(metadata.SNAPSHOT, -1)
	require.NoError(t, err)
	_, err = trusted.UpdateSnapshot(freshSnapshot, false)
	require.NoError(t, err)

	// replaying the earlier snapshot (meta targets.json version 1) once the
	// trusted snapshot already points at version 2 must be rejected.
	_, err = trusted.UpdateSnapshot(staleSnapshot, false)
	require.Error(t, err)
	var rollback metadata.ErrRollback
	assert.ErrorAs(t, err, &rollback)
}

func TestUpdateTargetsRequiresSnapshotFirst(t *testing.T) {
	sim := simulator.NewRepository()
	trusted := newTrustedFromSim(t, sim)

	targetsData, err := sim.FetchMetadata(metadata.TARGETS, -1)
	require.NoError(t, err)
	_, err = trusted.UpdateTargets(targetsData)
	require.Error(t, err)
	var repoErr metadata.ErrRepository
	assert.ErrorAs(t, err, &repoErr)
}

// TestUpdateRootSequentialVersions bumps root to v2 re-signed with its
// existing root keys (no key rotation): the simplest valid root update,
// since a rotated root additionally needs cross-signing from both the old
// and new key sets, which the Commit/CrossSignRoot path exercises instead.
func TestUpdateRootSequentialVersions(t *testing.T) {
	sim := simulator.NewRepository()
	trusted := newTrustedFromSim(t, sim)

	sim.MDRoot.Signed.Version++
	sim.PublishRoot()

	root2, err := sim.FetchMetadata(metadata.ROOT, 2)
	require.NoError(t, err)
	newRoot, err := trusted.UpdateRoot(root2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), newRoot.Signed.Version)
}

func TestUpdateRootRejectsVersionGap(t *testing.T) {
	sim := simulator.NewRepository()
	trusted := newTrustedFromSim(t, sim)

	sim.MDRoot.Signed.Version = 3 // skip v2 entirely
	sim.PublishRoot()

	root3, err := sim.FetchMetadata(metadata.ROOT, 2)
	require.NoError(t, err)
	_, err = trusted.UpdateRoot(root3)
	require.Error(t, err)
	var badVersion metadata.ErrBadVersionNumber
	assert.ErrorAs(t, err, &badVersion)
}

func TestUpdateRootRejectsAfterTimestampLoaded(t *testing.T) {
	sim := simulator.NewRepository()
	trusted := newTrustedFromSim(t, sim)

	ts, err := sim.FetchMetadata(metadata.TIMESTAMP, -1)
	require.NoError(t, err)
	_, err = trusted.UpdateTimestamp(ts)
	require.NoError(t, err)

	sim.MDRoot.Signed.Version++
	sim.PublishRoot()
	root2, err := sim.FetchMetadata(metadata.ROOT, 2)
	require.NoError(t, err)

	_, err = trusted.UpdateRoot(root2)
	require.Error(t, err)
	var repoErr metadata.ErrRepository
	assert.ErrorAs(t, err, &repoErr)
}
