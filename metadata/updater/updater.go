package updater

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/trustedupdates/tufcore/metadata"
	"github.com/trustedupdates/tufcore/metadata/config"
	"github.com/trustedupdates/tufcore/metadata/delegation"
	"github.com/trustedupdates/tufcore/metadata/fetcher"
	"github.com/trustedupdates/tufcore/metadata/trustedmetadata"
)

// Client update workflow implementation
// The "Updater" provides an implementation of the `TUF client workflow
// <https://theupdateframework.github.io/specification/latest/#detailed-client-workflow>`_.
// "Updater" provides an API to query available targets and to download them in a
// secure manner: All downloaded files are verified by signed metadata.
// High-level description of "Updater" functionality:
//   - Initializing an "Updater" loads and validates the trusted local root
//     metadata: This root metadata is used as the source of trust for all other
//     metadata.
//   - "Refresh()" can optionally be called to update and load all top-level
//     metadata as described in the specification, using both locally cached
//     metadata and metadata downloaded from the remote repository. If refresh is
//     not done explicitly, it will happen automatically during the first target
//     info lookup.
//   - "Updater" can be used to download targets. For each target:
//   - "GetTargetInfo()" is first used to find information about a
//     specific target. This will load new targets metadata as needed (from
//     local cache or remote repository).
//   - "FindCachedTarget()" can optionally be used to check if a
//     target file is already locally cached.
//   - "DownloadTarget()" downloads a target file and ensures it is
//     verified correct by the metadata.
type Updater struct {
	metadataDir     string
	metadataBaseUrl string
	targetDir       string
	targetBaseUrl   string
	trusted         *trustedmetadata.TrustedMetadata
	config          *config.UpdaterConfig
	fetcher         fetcher.Fetcher
	warnings        []error
}

// Warnings returns the non-fatal issues accumulated during Refresh()/
// GetTargetInfo(), such as expired metadata that was accepted anyway
// because config.AllowExpiredRepo is set. An empty slice means nothing was
// downgraded.
func (up *Updater) Warnings() []error {
	return up.warnings
}

// downgradeIfExpired reports whether err is a recoverable ErrExpiredMetadata
// that AllowExpiredRepo permits the caller to proceed past. If so it records
// the error on Warnings() and returns nil; otherwise it returns err as-is.
func (up *Updater) downgradeIfExpired(err error) error {
	if err == nil {
		return nil
	}
	var expired metadata.ErrExpiredMetadata
	if up.config.AllowExpiredRepo && errors.As(err, &expired) {
		log.Warnf("accepting expired %s metadata (expired %s): AllowExpiredRepo is set", expired.Role, expired.Expires)
		up.warnings = append(up.warnings, err)
		return nil
	}
	return err
}

// loadTimestamp load local and remote timestamp metadata
func (up *Updater) loadTimestamp() error {
	data, err := up.loadLocalMetadata(metadata.TIMESTAMP)
	if err == nil {
		if _, uerr := up.trusted.UpdateTimestamp(data); uerr == nil {
			log.Debug("Local timestamp is valid")
		} else {
			log.Debugf("local timestamp not valid as final: %s", uerr)
		}
	} else if !os.IsNotExist(err) {
		return err
	}
	// load from remote regardless of whether the local load succeeded: a
	// cached timestamp is only ever used for rollback protection.
	data, err = up.downloadMetadata(metadata.TIMESTAMP, up.config.TimestampMaxLength, "")
	if err != nil {
		return err
	}
	newTimestamp, err := up.trusted.UpdateTimestamp(data)
	if err != nil {
		var sameVersion metadata.ErrEqualVersionNumber
		if errors.As(err, &sameVersion) {
			log.Debug("new timestamp is the same version as the trusted one, discarding")
			return nil
		}
		if newTimestamp == nil {
			return err
		}
		if derr := up.downgradeIfExpired(err); derr != nil {
			return derr
		}
	}
	return up.persistMetadata(metadata.TIMESTAMP, data)
}

// loadSnapshot load local (and if needed remote) snapshot metadata
func (up *Updater) loadSnapshot() error {
	data, err := up.loadLocalMetadata(metadata.SNAPSHOT)
	if err == nil {
		if _, uerr := up.trusted.UpdateSnapshot(data, true); uerr == nil {
			log.Debug("Local snapshot is valid: not downloading new one")
			return nil
		} else {
			log.Debugf("local snapshot not valid as final: %s", uerr)
		}
	} else if !os.IsNotExist(err) {
		return err
	}
	snapshotMeta := up.trusted.Timestamp.Signed.Meta[fmt.Sprintf("%s.json", metadata.SNAPSHOT)]
	length := snapshotMeta.Length
	if length == 0 {
		length = up.config.SnapshotMaxLength
	}
	version := ""
	if up.trusted.Root.Signed.ConsistentSnapshot {
		version = strconv.FormatInt(snapshotMeta.Version, 10)
	}
	data, err = up.downloadMetadata(metadata.SNAPSHOT, length, version)
	if err != nil {
		return err
	}
	newSnapshot, err := up.trusted.UpdateSnapshot(data, false)
	if err != nil {
		if newSnapshot == nil {
			return err
		}
		if derr := up.downgradeIfExpired(err); derr != nil {
			return derr
		}
	}
	return up.persistMetadata(metadata.SNAPSHOT, data)
}

// loadTargets load local (and if needed remote) metadata for roleName.
func (up *Updater) loadTargets(roleName, parentName string) (*metadata.Metadata[metadata.TargetsType], error) {
	// avoid loading 'roleName' more than once during "GetTargetInfo"
	if role, ok := up.trusted.Targets[roleName]; ok {
		return role, nil
	}

	data, err := up.loadLocalMetadata(roleName)
	if err == nil {
		delegatedTargets, uerr := up.trusted.UpdateDelegatedTargets(data, roleName, parentName)
		if uerr == nil {
			log.Debugf("Local %s is valid: not downloading new one", roleName)
			return delegatedTargets, nil
		}
		if delegatedTargets != nil && up.downgradeIfExpired(uerr) == nil {
			return delegatedTargets, nil
		}
		log.Debugf("local %s not valid as final: %s", roleName, uerr)
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	if up.trusted.Snapshot == nil {
		return nil, metadata.ErrRepository{Msg: "cannot load targets before snapshot"}
	}
	metaInfo, ok := up.trusted.Snapshot.Signed.Meta[fmt.Sprintf("%s.json", roleName)]
	if !ok {
		return nil, metadata.ErrRepository{Msg: fmt.Sprintf("snapshot does not contain information for %s", roleName)}
	}
	length := metaInfo.Length
	if length == 0 {
		length = up.config.TargetsMaxLength
	}
	version := ""
	if up.trusted.Root.Signed.ConsistentSnapshot {
		version = strconv.FormatInt(metaInfo.Version, 10)
	}
	data, err = up.downloadMetadata(roleName, length, version)
	if err != nil {
		return nil, err
	}
	delegatedTargets, err := up.trusted.UpdateDelegatedTargets(data, roleName, parentName)
	if err != nil {
		if delegatedTargets == nil {
			return nil, err
		}
		if derr := up.downgradeIfExpired(err); derr != nil {
			return nil, derr
		}
	}
	if err := up.persistMetadata(roleName, data); err != nil {
		return nil, err
	}
	return delegatedTargets, nil
}

// preOrderDepthFirstWalk interrogates the tree of target delegations in
// order of appearance (which implicitly orders trustworthiness), and
// returns the matching target found in the most trusted role.
func (up *Updater) preOrderDepthFirstWalk(targetFilePath string) (*metadata.TargetFiles, error) {
	top := up.trusted.Targets[metadata.TARGETS]
	if top == nil {
		return nil, metadata.ErrRepository{Msg: "top-level targets metadata not loaded"}
	}
	return delegation.Resolve(top, targetFilePath, int(up.config.MaxDelegations), up.loadTargets)
}

// loadRoot load remote root metadata. Sequentially load and
// persist on local disk every newer root metadata version
// available on the remote.
func (up *Updater) loadRoot() error {
	lowerBound := up.trusted.Root.Signed.Version + 1
	upperBound := lowerBound + up.config.MaxRootRotations

	for nextVersion := lowerBound; nextVersion <= upperBound; nextVersion++ {
		data, err := up.downloadMetadata(metadata.ROOT, up.config.RootMaxLength, strconv.FormatInt(nextVersion, 10))
		if err != nil {
			// a 404/403 for the next root version means the current root is
			// the newest one published.
			var notFound metadata.ErrNotFound
			var httpErr metadata.ErrDownloadHTTP
			if errors.As(err, &notFound) {
				break
			}
			if errors.As(err, &httpErr) && (httpErr.StatusCode == 403 || httpErr.StatusCode == 404) {
				break
			}
			return err
		}
		if _, err := up.trusted.UpdateRoot(data); err != nil {
			return err
		}
		if err := up.persistMetadata(metadata.ROOT, data); err != nil {
			return err
		}
	}
	return nil
}

// GetTargetInfo returns `metadata.TargetFiles` instance with information
// for targetPath. The return value can be used as an argument to
// `DownloadTarget()` and `FindCachedTarget()`.
// If `Refresh()` has not been called before calling
// `GetTargetInfo()`, the refresh will be done implicitly.
// As a side-effect this method downloads all the additional (delegated
// targets) metadata it needs to return the target information.
func (up *Updater) GetTargetInfo(targetPath string) (*metadata.TargetFiles, error) {
	// do a Refresh() in case there's no trusted targets.json yet
	if up.trusted.Targets[metadata.TARGETS] == nil {
		if err := up.Refresh(); err != nil {
			return nil, err
		}
	}
	return up.preOrderDepthFirstWalk(targetPath)
}

// AllTargetPaths returns every target path named directly in the top-level
// targets role, refreshing first if necessary. It does not descend into
// delegations: callers that need a delegate's targets should walk the
// delegation tree themselves via repeated GetTargetInfo calls, since that is
// the only path that also downloads and verifies each delegate's metadata.
func (up *Updater) AllTargetPaths() ([]string, error) {
	if up.trusted.Targets[metadata.TARGETS] == nil {
		if err := up.Refresh(); err != nil {
			return nil, err
		}
	}
	top := up.trusted.Targets[metadata.TARGETS]
	paths := make([]string, 0, len(top.Signed.Targets))
	for p := range top.Signed.Targets {
		paths = append(paths, p)
	}
	return paths, nil
}

// preferredHashHex returns the hex-encoded digest to use for
// consistent-snapshot filename prefixing. sha256 is preferred when present
// rather than taking whichever entry Go's randomized map iteration happens
// to visit first.
func preferredHashHex(hashes map[string]metadata.HexBytes) (string, bool) {
	for _, alg := range []string{"sha256", "sha512"} {
		if v, ok := hashes[alg]; ok {
			return hex.EncodeToString(v), true
		}
	}
	for _, v := range hashes {
		return hex.EncodeToString(v), true
	}
	return "", false
}

// DownloadTarget downloads the target file specified by `targetFile`
func (up *Updater) DownloadTarget(targetFile *metadata.TargetFiles, filePath, targetBaseURL string) (string, error) {
	var err error
	if filePath == "" {
		filePath, err = up.generateTargetFilePath(targetFile)
		if err != nil {
			return "", err
		}
	}
	if targetBaseURL == "" {
		if up.targetBaseUrl == "" {
			return "", metadata.ErrValue{Msg: "targetBaseURL must be set in either DownloadTarget() or the Updater struct"}
		}
		targetBaseURL = up.targetBaseUrl
	} else {
		targetBaseURL = ensureTrailingSlash(targetBaseURL)
	}

	targetFilePath := targetFile.Path
	consistentSnapshot := up.trusted.Root.Signed.ConsistentSnapshot
	if consistentSnapshot && up.config.PrefixTargetsWithHash {
		hashHex, ok := preferredHashHex(targetFile.Hashes)
		if !ok {
			return "", metadata.ErrLengthOrHashMismatch{Msg: fmt.Sprintf("target %s carries no usable hash", targetFilePath)}
		}
		dirName, baseName := "", targetFilePath
		if idx := strings.LastIndex(targetFilePath, "/"); idx >= 0 {
			dirName, baseName = targetFilePath[:idx], targetFilePath[idx+1:]
		}
		if dirName == "" {
			targetFilePath = fmt.Sprintf("%s.%s", hashHex, baseName)
		} else {
			targetFilePath = fmt.Sprintf("%s/%s.%s", dirName, hashHex, baseName)
		}
	}

	fullURL := fmt.Sprintf("%s%s", targetBaseURL, targetFilePath)
	data, err := up.fetcher.DownloadFile(fullURL, targetFile.Length, up.config.Retry.RequestTimeout)
	if err != nil {
		return "", err
	}
	if err := targetFile.VerifyLengthHashes(data); err != nil {
		return "", metadata.ErrTargetIntegrity{Path: targetFile.Path, Msg: err.Error()}
	}
	if err := up.atomicWriteFile(filePath, data); err != nil {
		return "", err
	}
	log.Debugf("Downloaded target %s", targetFile.Path)
	return filePath, nil
}

// FindCachedTarget checks whether a local file is an up to date target
func (up *Updater) FindCachedTarget(targetFile *metadata.TargetFiles, filePath string) (string, error) {
	var err error
	targetFilePath := filePath
	if targetFilePath == "" {
		targetFilePath, err = up.generateTargetFilePath(targetFile)
		if err != nil {
			return "", err
		}
	}
	data, err := os.ReadFile(targetFilePath)
	if err != nil {
		return "", err
	}
	if err := targetFile.VerifyLengthHashes(data); err != nil {
		return "", err
	}
	return targetFilePath, nil
}

// atomicWriteFile writes data to a temporary file next to path and renames
// it into place, so a reader never observes a partially-written file. The
// rename falls back to crossMoveFile's copy-then-remove when path and the
// temp file don't share a filesystem (os.Rename returns EXDEV in that case).
func (up *Updater) atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "tuf_tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err == nil {
		if err := os.Rename(tmp.Name(), path); err == nil {
			return nil
		}
	}
	// rename failed or the file was already closed above: reopen and fall
	// back to the cross-filesystem-safe copy.
	reopened, err := os.Open(tmp.Name())
	if err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return crossMoveFile(reopened, path, true, true)
}

// persistMetadata writes metadata to disk atomically to avoid data loss.
func (up *Updater) persistMetadata(roleName string, data []byte) error {
	fileName := filepath.Join(up.metadataDir, fmt.Sprintf("%s.json", url.QueryEscape(roleName)))
	return up.atomicWriteFile(fileName, data)
}

// Refresh refreshes top-level metadata.
// Downloads, verifies, and loads metadata for the top-level roles in the
// specified order (root -> timestamp -> snapshot -> targets) implementing
// all the checks required in the TUF client workflow.
// A `Refresh()` can be done only once during the lifetime of an Updater.
// If `Refresh()` has not been explicitly called before the first
// `GetTargetInfo()` call, it will be done implicitly at that time.
// The metadata for delegated roles is not updated by `Refresh()`:
// that happens on demand during `GetTargetInfo()`. However, if the
// repository uses `consistent_snapshot
// <https://theupdateframework.github.io/specification/latest/#consistent-snapshots>`_,
// then all metadata downloaded by the Updater will use the same consistent
// repository state.
func (up *Updater) Refresh() error {
	if err := up.loadRoot(); err != nil {
		return err
	}
	if err := up.loadTimestamp(); err != nil {
		return err
	}
	if err := up.loadSnapshot(); err != nil {
		return err
	}
	_, err := up.loadTargets(metadata.TARGETS, metadata.ROOT)
	return err
}

// New creates a new `Updater` instance and loads trusted root metadata.
func New(metadataDir, metadataBaseUrl, targetDir, targetBaseUrl string, f fetcher.Fetcher) (*Updater, error) {
	return NewWithConfig(metadataDir, metadataBaseUrl, targetDir, targetBaseUrl, f, config.New())
}

// NewWithConfig is New with an explicit UpdaterConfig, for callers that need
// to override a default such as AllowExpiredRepo.
func NewWithConfig(metadataDir, metadataBaseUrl, targetDir, targetBaseUrl string, f fetcher.Fetcher, cfg *config.UpdaterConfig) (*Updater, error) {
	// use the built-in download fetcher, configured from cfg.Retry, if
	// nothing is provided.
	if f == nil {
		f = fetcher.NewDefaultFetcher(cfg.Retry)
	}
	updater := &Updater{
		metadataDir:     metadataDir,
		metadataBaseUrl: ensureTrailingSlash(metadataBaseUrl),
		targetDir:       targetDir,
		targetBaseUrl:   ensureTrailingSlash(targetBaseUrl),
		config:          cfg,
		fetcher:         f,
	}
	rootBytes, err := updater.loadLocalMetadata(metadata.ROOT)
	if err != nil {
		return nil, err
	}
	trustedMetadataSet, err := trustedmetadata.New(rootBytes)
	if err != nil {
		return nil, err
	}
	updater.trusted = trustedMetadataSet
	return updater, nil
}

// downloadMetadata download a metadata file and return it as bytes
func (up *Updater) downloadMetadata(roleName string, length int64, version string) ([]byte, error) {
	urlPath := up.metadataBaseUrl
	if version == "" {
		urlPath = fmt.Sprintf("%s%s.json", urlPath, url.QueryEscape(roleName))
	} else {
		urlPath = fmt.Sprintf("%s%s.%s.json", urlPath, version, url.QueryEscape(roleName))
	}
	return up.fetcher.DownloadFile(urlPath, length, up.config.Retry.RequestTimeout)
}

// generateTargetFilePath generates path from TargetFiles
func (up *Updater) generateTargetFilePath(tf *metadata.TargetFiles) (string, error) {
	if up.targetDir == "" {
		return "", metadata.ErrValue{Msg: "targetDir must be set if filePath is not given"}
	}
	if err := metadata.ValidateTargetPath(tf.Path); err != nil {
		return "", err
	}
	return url.JoinPath(up.targetDir, tf.Path)
}

// loadLocalMetadata reads a local <roleName>.json file from metadataDir and
// returns its bytes. The underlying *os.PathError is returned unwrapped so
// callers can tell a missing cache file (os.IsNotExist) apart from a read
// failure.
func (up *Updater) loadLocalMetadata(roleName string) ([]byte, error) {
	fileName := filepath.Join(up.metadataDir, fmt.Sprintf("%s.json", url.QueryEscape(roleName)))
	return os.ReadFile(fileName)
}

// ensureTrailingSlash ensures url ends with a slash
func ensureTrailingSlash(url string) string {
	if strings.HasSuffix(url, "/") {
		return url
	}
	return url + "/"
}
