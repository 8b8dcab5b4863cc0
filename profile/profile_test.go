package profile

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/veggerby/ignition"
)

func TestLoadYAMLProfile(t *testing.T) {
	t.Parallel()

	cfg, err := Load(strings.NewReader(`
execution-mode: dependency-aware
policy: fail-fast
global-timeout: 45s
max-parallel: 8
cancel-on-global-timeout: true
cancel-dependents-on-failure: true
`), "yaml")
	require.NoError(t, err)

	require.Equal(t, ignition.ModeDependency, cfg.Mode)
	require.Equal(t, ignition.PolicyFailFast, cfg.Policy)
	require.Equal(t, 45*time.Second, cfg.GlobalTimeout)
	require.Equal(t, 8, cfg.MaxParallel)
	require.True(t, cfg.CancelOnGlobalTimeout)
	require.True(t, cfg.CancelDependentsOnFailure)
}

func TestLoadEmptyProfileKeepsDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(strings.NewReader("{}"), "yaml")
	require.NoError(t, err)
	require.Equal(t, ignition.ModeParallel, cfg.Mode)
	require.Equal(t, ignition.PolicyBestEffort, cfg.Policy)
	require.Zero(t, cfg.GlobalTimeout, "resolution to the default happens in the core")
}

func TestLoadRejectsUnknownMode(t *testing.T) {
	t.Parallel()

	_, err := Load(strings.NewReader("execution-mode: bogus\n"), "yaml")
	require.ErrorIs(t, err, ignition.ErrInvalidOption)
}

func TestLoadStagedProfile(t *testing.T) {
	t.Parallel()

	cfg, err := Load(strings.NewReader(`
execution-mode: staged
stage-policy: early-promotion
early-promotion-threshold: 0.75
`), "yaml")
	require.NoError(t, err)
	require.Equal(t, ignition.ModeStaged, cfg.Mode)
	require.Equal(t, ignition.StageEarlyPromotion, cfg.StagePolicy)
	require.InDelta(t, 0.75, cfg.EarlyPromotionThreshold, 1e-9)
	require.NoError(t, cfg.Validate())
}

func TestPresets(t *testing.T) {
	t.Parallel()

	cfg, err := Preset("fail-fast")
	require.NoError(t, err)
	require.Equal(t, ignition.PolicyFailFast, cfg.Policy)
	require.True(t, cfg.CancelOnGlobalTimeout)

	cfg, err = Preset("lenient")
	require.NoError(t, err)
	require.Equal(t, ignition.PolicyContinueOnTimeout, cfg.Policy)

	_, err = Preset("aggressive")
	require.ErrorIs(t, err, ignition.ErrInvalidOption)
}

func TestLoadJSONProfile(t *testing.T) {
	t.Parallel()

	cfg, err := Load(strings.NewReader(`{"execution-mode":"sequential","policy":"continue-on-timeout"}`), "json")
	require.NoError(t, err)
	require.Equal(t, ignition.ModeSequential, cfg.Mode)
	require.Equal(t, ignition.PolicyContinueOnTimeout, cfg.Policy)
}
