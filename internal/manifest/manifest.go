// Package manifest binds a run's artifacts to their content hashes. The
// strategy snapshot and every required output artifact are hashed with
// SHA-256; the manifest is write-once and re-verified before any downstream
// stage consumes the run.
package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/kitealert7-source/tradescan/internal/logger"
	"github.com/kitealert7-source/tradescan/internal/strategy"
	"github.com/kitealert7-source/tradescan/internal/types"
	"github.com/kitealert7-source/tradescan/pkg/errors"
)

const (
	// SnapshotFile is the serialized strategy descriptor inside the run dir.
	SnapshotFile = "strategy_snapshot.yaml"
	// ManifestFile is the hash-binding manifest inside the run dir.
	ManifestFile = "STRATEGY_SNAPSHOT.manifest.json"
)

// Binder snapshots strategies and writes hash manifests.
type Binder struct {
	log *logger.Logger
}

// NewBinder creates a binder.
func NewBinder(log *logger.Logger) *Binder {
	return &Binder{log: log}
}

// Snapshot serializes the strategy descriptor into the run directory and
// returns its SHA-256.
func (b *Binder) Snapshot(runDir string, desc *strategy.Descriptor) (string, error) {
	raw, err := desc.MarshalSnapshot()
	if err != nil {
		return "", errors.Wrap(errors.KindStageFailed, desc.StrategyName,
			"cannot render strategy snapshot", err)
	}

	path := filepath.Join(runDir, SnapshotFile)
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return "", errors.Wrap(errors.KindStageFailed, desc.StrategyName,
			"cannot write strategy snapshot", err)
	}

	sum := sha256.Sum256(raw)

	return hex.EncodeToString(sum[:]), nil
}

// Bind hashes the snapshot and every artifact and writes the manifest. A
// manifest that already exists is immutable and refuses rebinding.
func (b *Binder) Bind(runDir, runID, strategyHash string, artifacts []string) (*types.Manifest, error) {
	path := filepath.Join(runDir, ManifestFile)
	if _, err := os.Stat(path); err == nil {
		return nil, errors.Newf(errors.KindManifestMismatch, runID,
			"manifest already bound at %s", path)
	}

	m := &types.Manifest{
		RunID:        runID,
		StrategyHash: strategyHash,
		Artifacts:    make(map[string]string, len(artifacts)+1),
		Timestamp:    time.Now().UTC(),
	}

	tracked := append([]string{SnapshotFile}, artifacts...)
	for _, rel := range tracked {
		hash, err := hashFile(filepath.Join(runDir, rel))
		if err != nil {
			return nil, errors.Wrapf(errors.KindManifestMismatch, runID, err,
				"cannot hash artifact %s", rel)
		}

		m.Artifacts[rel] = hash
	}

	raw, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, errors.Wrap(errors.KindManifestMismatch, runID, "cannot render manifest", err)
	}

	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return nil, errors.Wrap(errors.KindManifestMismatch, runID, "cannot write manifest", err)
	}

	b.log.Info("manifest bound",
		zap.String("run_id", runID), zap.Int("artifacts", len(m.Artifacts)))

	return m, nil
}

// Verify re-hashes every artifact listed in the run's manifest and checks the
// expected artifact set. Hash drift, a missing artifact and an artifact the
// manifest never bound are all tampering.
func (b *Binder) Verify(runDir, runID string, expected []string) error {
	m, err := Load(runDir)
	if err != nil {
		return err
	}

	if m.RunID != runID {
		return errors.Newf(errors.KindManifestMismatch, runID,
			"manifest belongs to run %s", m.RunID)
	}

	want := append([]string{SnapshotFile}, expected...)
	sort.Strings(want)

	bound := make([]string, 0, len(m.Artifacts))
	for rel := range m.Artifacts {
		bound = append(bound, rel)
	}

	sort.Strings(bound)

	for _, rel := range want {
		if _, ok := m.Artifacts[rel]; !ok {
			return errors.Newf(errors.KindManifestMismatch, runID,
				"manifest missing required artifact %s", rel)
		}
	}

	for _, rel := range bound {
		if !containsString(want, rel) {
			return errors.Newf(errors.KindManifestMismatch, runID,
				"manifest binds unexpected artifact %s", rel)
		}
	}

	for _, rel := range bound {
		hash, err := hashFile(filepath.Join(runDir, rel))
		if err != nil {
			return errors.Wrapf(errors.KindArtifactTampering, runID, err,
				"bound artifact %s unreadable", rel)
		}

		if hash != m.Artifacts[rel] {
			return errors.Newf(errors.KindArtifactTampering, runID,
				"artifact %s hash drift", rel)
		}
	}

	return nil
}

// Load reads a run's manifest.
func Load(runDir string) (*types.Manifest, error) {
	raw, err := os.ReadFile(filepath.Join(runDir, ManifestFile))
	if err != nil {
		return nil, errors.Wrap(errors.KindManifestMismatch, runDir, "manifest unreadable", err)
	}

	var m types.Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, errors.Wrap(errors.KindManifestMismatch, runDir, "manifest does not parse", err)
	}

	return &m, nil
}

func hashFile(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256(raw)

	return hex.EncodeToString(sum[:]), nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}

	return false
}
