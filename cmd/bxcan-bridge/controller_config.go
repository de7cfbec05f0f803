package main

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/kstaniek/go-bxcan/internal/canif"
)

// controllerConfig is the --controller YAML file:
//
//	clock_hz: 42000000     # APB1 clock feeding the controller
//	bitrate: 500000        # solved into timing when timing is absent
//	timing: {prescaler: 6, seg1: 11, seg2: 2, sjw: 1}
//	silent: false
//	loopback: false
//	filters:
//	  - {id: 0x123}
//	  - {id: 0x18FF0000, mask: 0x1FFF0000, extended: true}
type controllerConfig struct {
	ClockHz  uint32                  `yaml:"clock_hz"`
	Bitrate  uint32                  `yaml:"bitrate"`
	Timing   *canif.TimingParameters `yaml:"timing"`
	Silent   bool                    `yaml:"silent"`
	Loopback bool                    `yaml:"loopback"`
	Filters  []filterConfig          `yaml:"filters"`
}

type filterConfig struct {
	ID       uint32  `yaml:"id"`
	Mask     *uint32 `yaml:"mask"`
	Extended bool    `yaml:"extended"`
}

const (
	defaultClockHz = 42_000_000
	defaultBitrate = 500_000
)

// defaultControllerConfig runs at 500 kbit/s and accepts every frame.
func defaultControllerConfig() *controllerConfig {
	zero := uint32(0)
	return &controllerConfig{
		ClockHz: defaultClockHz,
		Bitrate: defaultBitrate,
		Filters: []filterConfig{
			{Mask: &zero},
			{Mask: &zero, Extended: true},
		},
	}
}

// loadControllerConfig reads path; an empty path yields the defaults.
func loadControllerConfig(path string) (*controllerConfig, error) {
	if path == "" {
		return defaultControllerConfig(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read controller config: %w", err)
	}
	return parseControllerConfig(raw)
}

func parseControllerConfig(raw []byte) (*controllerConfig, error) {
	cc := &controllerConfig{ClockHz: defaultClockHz}
	if err := yaml.UnmarshalStrict(raw, cc); err != nil {
		return nil, fmt.Errorf("parse controller config: %w", err)
	}
	if cc.Timing == nil && cc.Bitrate == 0 {
		return nil, errors.New("controller config: timing or bitrate is required")
	}
	if _, err := cc.messageFilters(); err != nil {
		return nil, err
	}
	return cc, nil
}

// timing returns the explicit parameters, or solves the bitrate within max.
func (cc *controllerConfig) timing(solver canif.TimingSolver, max canif.TimingParameters) (canif.TimingParameters, error) {
	if cc.Timing != nil {
		if err := cc.Timing.CheckWithin(max); err != nil {
			return canif.TimingParameters{}, err
		}
		return *cc.Timing, nil
	}
	return solver.Solve(cc.ClockHz, cc.Bitrate, max)
}

func (cc *controllerConfig) messageFilters() ([]canif.MessageFilter, error) {
	out := make([]canif.MessageFilter, 0, len(cc.Filters))
	for i, f := range cc.Filters {
		mf := canif.ExactFilter(f.ID, f.Extended)
		if f.Mask != nil {
			mf = canif.MaskFilter(f.ID, *f.Mask, f.Extended)
		}
		if err := mf.Validate(); err != nil {
			return nil, fmt.Errorf("controller config filter %d: %w", i, err)
		}
		out = append(out, mf)
	}
	return out, nil
}
