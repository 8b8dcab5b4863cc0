// Package profile loads coordinator option presets from configuration
// files, so deployments can tune startup behavior without code changes. The
// core stays environment-agnostic; this package owns the file handling.
package profile

import (
	"fmt"
	"io"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/veggerby/ignition"
)

// Profile is the on-disk shape of a coordinator preset.
type Profile struct {
	ExecutionMode             string        `mapstructure:"execution-mode"`
	Policy                    string        `mapstructure:"policy"`
	StagePolicy               string        `mapstructure:"stage-policy"`
	GlobalTimeout             time.Duration `mapstructure:"global-timeout"`
	EarlyPromotionThreshold   float64       `mapstructure:"early-promotion-threshold"`
	MaxParallel               int           `mapstructure:"max-parallel"`
	CancelOnGlobalTimeout     bool          `mapstructure:"cancel-on-global-timeout"`
	CancelIndividualOnTimeout bool          `mapstructure:"cancel-individual-on-timeout"`
	CancelDependentsOnFailure bool          `mapstructure:"cancel-dependents-on-failure"`
}

// Preset returns a built-in named profile. Known names: "default",
// "fail-fast", "lenient".
func Preset(name string) (ignition.Config, error) {
	switch name {
	case "default", "":
		return ignition.Config{}, nil
	case "fail-fast":
		return ignition.Config{
			Policy:                    ignition.PolicyFailFast,
			CancelOnGlobalTimeout:     true,
			CancelIndividualOnTimeout: true,
			CancelDependentsOnFailure: true,
		}, nil
	case "lenient":
		return ignition.Config{
			Policy:        ignition.PolicyContinueOnTimeout,
			GlobalTimeout: 2 * time.Minute,
		}, nil
	default:
		return ignition.Config{}, fmt.Errorf("%w: profile %q", ignition.ErrInvalidOption, name)
	}
}

// Load reads a preset of the given format ("yaml", "json", "toml") and maps
// it onto a Config. Missing keys keep the zero-value defaults.
func Load(r io.Reader, format string) (ignition.Config, error) {
	v := viper.New()
	v.SetConfigType(format)
	if err := v.ReadConfig(r); err != nil {
		return ignition.Config{}, fmt.Errorf("read profile: %w", err)
	}
	return decode(v)
}

// LoadFile reads a preset from path, inferring the format from the
// extension.
func LoadFile(path string) (ignition.Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return ignition.Config{}, fmt.Errorf("read profile %s: %w", path, err)
	}
	return decode(v)
}

func decode(v *viper.Viper) (ignition.Config, error) {
	var p Profile
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&p, hook); err != nil {
		return ignition.Config{}, fmt.Errorf("decode profile: %w", err)
	}
	return p.Config()
}

// Config maps the profile onto coordinator options, validating the
// enumerated names.
func (p Profile) Config() (ignition.Config, error) {
	cfg := ignition.Config{
		GlobalTimeout:             p.GlobalTimeout,
		EarlyPromotionThreshold:   p.EarlyPromotionThreshold,
		MaxParallel:               p.MaxParallel,
		CancelOnGlobalTimeout:     p.CancelOnGlobalTimeout,
		CancelIndividualOnTimeout: p.CancelIndividualOnTimeout,
		CancelDependentsOnFailure: p.CancelDependentsOnFailure,
	}

	if p.ExecutionMode != "" {
		mode, err := ignition.ParseMode(p.ExecutionMode)
		if err != nil {
			return ignition.Config{}, err
		}
		cfg.Mode = mode
	}
	if p.Policy != "" {
		policy, err := ignition.ParsePolicy(p.Policy)
		if err != nil {
			return ignition.Config{}, err
		}
		cfg.Policy = policy
	}
	if p.StagePolicy != "" {
		sp, err := ignition.ParseStagePolicy(p.StagePolicy)
		if err != nil {
			return ignition.Config{}, err
		}
		cfg.StagePolicy = sp
	}

	return cfg, nil
}
