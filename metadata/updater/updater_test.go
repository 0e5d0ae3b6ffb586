package updater

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trustedupdates/tufcore/metadata"
	"github.com/trustedupdates/tufcore/testutils/simulator"
)

func newUpdaterFromSim(t *testing.T, sim *simulator.RepositorySimulator, metadataDir, targetDir string) *Updater {
	t.Helper()
	up, err := New(metadataDir, simulator.MetadataBaseURL, targetDir, simulator.TargetsBaseURL, sim)
	require.NoError(t, err)
	return up
}

func TestRefreshAndDownloadTargetHappyPath(t *testing.T) {
	sim, metadataDir, targetDir, tmpDir, err := simulator.InitMetadataDir()
	require.NoError(t, err)
	defer os.RemoveAll(tmpDir)

	sim.AddTarget(metadata.TARGETS, []byte("hello world"), "dir/hello.txt")
	sim.UpdateSnapshot()

	up := newUpdaterFromSim(t, sim, metadataDir, targetDir)
	require.NoError(t, up.Refresh())

	paths, err := up.AllTargetPaths()
	require.NoError(t, err)
	assert.Contains(t, paths, "dir/hello.txt")

	info, err := up.GetTargetInfo("dir/hello.txt")
	require.NoError(t, err)
	require.NotNil(t, info)

	filePath, err := up.DownloadTarget(info, "", "")
	require.NoError(t, err)

	data, err := os.ReadFile(filePath)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))

	cached, err := up.FindCachedTarget(info, "")
	require.NoError(t, err)
	assert.Equal(t, filePath, cached)
}

// TestDownloadTargetHandlesFlatTopLevelName covers a target path with no
// directory component, which under consistent-snapshot hash-prefixing must
// still get the hash prepended to its basename rather than erroring for
// lack of a "/" separator.
func TestDownloadTargetHandlesFlatTopLevelName(t *testing.T) {
	sim, metadataDir, targetDir, tmpDir, err := simulator.InitMetadataDir()
	require.NoError(t, err)
	defer os.RemoveAll(tmpDir)

	sim.AddTarget(metadata.TARGETS, []byte("flat file contents"), "file1.txt")
	sim.UpdateSnapshot()

	up := newUpdaterFromSim(t, sim, metadataDir, targetDir)
	require.NoError(t, up.Refresh())

	info, err := up.GetTargetInfo("file1.txt")
	require.NoError(t, err)
	require.NotNil(t, info)

	filePath, err := up.DownloadTarget(info, "", "")
	require.NoError(t, err)

	data, err := os.ReadFile(filePath)
	require.NoError(t, err)
	assert.Equal(t, "flat file contents", string(data))
}

func TestGetTargetInfoMissingTargetFails(t *testing.T) {
	sim, metadataDir, targetDir, tmpDir, err := simulator.InitMetadataDir()
	require.NoError(t, err)
	defer os.RemoveAll(tmpDir)

	sim.AddTarget(metadata.TARGETS, []byte("hello world"), "dir/hello.txt")
	sim.UpdateSnapshot()

	up := newUpdaterFromSim(t, sim, metadataDir, targetDir)
	require.NoError(t, up.Refresh())

	info, err := up.GetTargetInfo("dir/nonexistent.txt")
	require.NoError(t, err)
	assert.Nil(t, info)
}

func TestDownloadTargetDescendsIntoDelegation(t *testing.T) {
	sim, metadataDir, targetDir, tmpDir, err := simulator.InitMetadataDir()
	require.NoError(t, err)
	defer os.RemoveAll(tmpDir)

	teamTargets := metadata.Targets(sim.SafeExpiry)
	sim.AddDelegation(metadata.TARGETS, metadata.DelegatedRole{
		Name:      "team-a",
		KeyIDs:    []string{},
		Threshold: 1,
		Paths:     []string{"team-a/*"},
	}, teamTargets)
	sim.AddTarget("team-a", []byte("delegated payload"), "team-a/file.txt")
	sim.UpdateSnapshot()

	up := newUpdaterFromSim(t, sim, metadataDir, targetDir)
	require.NoError(t, up.Refresh())

	info, err := up.GetTargetInfo("team-a/file.txt")
	require.NoError(t, err)
	require.NotNil(t, info)

	filePath, err := up.DownloadTarget(info, "", "")
	require.NoError(t, err)
	data, err := os.ReadFile(filePath)
	require.NoError(t, err)
	assert.Equal(t, "delegated payload", string(data))
}

// TestRefreshPropagatesTimestampRollback plants a stale local timestamp
// cache whose version is higher than what the remote currently serves,
// exercising the same rollback-protection path as trustedmetadata's own
// tests but through the full Updater.Refresh() plumbing: loadTimestamp()
// must carry the locally-cached version forward as the basis for rollback
// comparison, not silently trust whatever the remote returns.
func TestRefreshPropagatesTimestampRollback(t *testing.T) {
	sim, metadataDir, targetDir, tmpDir, err := simulator.InitMetadataDir()
	require.NoError(t, err)
	defer os.RemoveAll(tmpDir)

	sim.MDTimestamp.Signed.Version = 5
	staleLocalCopy, err := sim.FetchMetadata(metadata.TIMESTAMP, -1)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(metadataDir, "timestamp.json"), staleLocalCopy, 0640))

	sim.MDTimestamp.Signed.Version = 1

	up := newUpdaterFromSim(t, sim, metadataDir, targetDir)
	err = up.Refresh()
	require.Error(t, err)
	var rollback metadata.ErrRollback
	assert.ErrorAs(t, err, &rollback)
}

func TestNewFailsWithoutLocalRoot(t *testing.T) {
	tmpDir := t.TempDir()
	metadataDir := filepath.Join(tmpDir, "metadata")
	targetDir := filepath.Join(tmpDir, "targets")
	require.NoError(t, os.MkdirAll(metadataDir, 0750))
	require.NoError(t, os.MkdirAll(targetDir, 0750))

	sim := simulator.NewRepository()
	_, err := New(metadataDir, simulator.MetadataBaseURL, targetDir, simulator.TargetsBaseURL, sim)
	require.Error(t, err)
}
