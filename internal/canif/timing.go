package canif

import (
	"errors"
	"fmt"
)

// TimingParameters describes one bit in time quanta. All fields are >= 1.
type TimingParameters struct {
	Prescaler uint32 `yaml:"prescaler" json:"prescaler"`
	Seg1      uint32 `yaml:"seg1" json:"seg1"`
	Seg2      uint32 `yaml:"seg2" json:"seg2"`
	JumpWidth uint32 `yaml:"sjw" json:"sjw"`
}

// CheckWithin returns ErrInvalidTiming unless every field is in [1, max].
func (p TimingParameters) CheckWithin(max TimingParameters) error {
	check := func(name string, v, limit uint32) error {
		if v < 1 || v > limit {
			return fmt.Errorf("%w: %s=%d not in [1,%d]", ErrInvalidTiming, name, v, limit)
		}
		return nil
	}
	if err := check("prescaler", p.Prescaler, max.Prescaler); err != nil {
		return err
	}
	if err := check("seg1", p.Seg1, max.Seg1); err != nil {
		return err
	}
	if err := check("seg2", p.Seg2, max.Seg2); err != nil {
		return err
	}
	return check("sjw", p.JumpWidth, max.JumpWidth)
}

// QuantaPerBit is the bit length: the sync segment plus both segments.
func (p TimingParameters) QuantaPerBit() uint32 { return 1 + p.Seg1 + p.Seg2 }

// Bitrate returns the bit rate produced by p on a controller clocked at clockHz.
func (p TimingParameters) Bitrate(clockHz uint32) uint32 {
	if p.Prescaler == 0 {
		return 0
	}
	return clockHz / (p.Prescaler * p.QuantaPerBit())
}

// TimingSolver turns a desired bit rate into parameters the hardware can represent.
type TimingSolver interface {
	Solve(clockHz, bitrate uint32, max TimingParameters) (TimingParameters, error)
}

// TimingSolverFunc adapts a function to TimingSolver.
type TimingSolverFunc func(clockHz, bitrate uint32, max TimingParameters) (TimingParameters, error)

func (f TimingSolverFunc) Solve(clockHz, bitrate uint32, max TimingParameters) (TimingParameters, error) {
	return f(clockHz, bitrate, max)
}

var ErrNoTimingSolution = errors.New("canif: no exact bit timing solution")

// DefaultSamplePoint is the target sample point in permille.
const DefaultSamplePoint = 875

// SolveBitTiming searches for the smallest prescaler giving an exact bit rate
// with the sample point closest to DefaultSamplePoint. The jump width is
// min(Seg2, max.JumpWidth).
func SolveBitTiming(clockHz, bitrate uint32, max TimingParameters) (TimingParameters, error) {
	if clockHz == 0 || bitrate == 0 {
		return TimingParameters{}, fmt.Errorf("%w: clock=%d bitrate=%d", ErrNoTimingSolution, clockHz, bitrate)
	}
	maxTq := 1 + max.Seg1 + max.Seg2
	for brp := uint32(1); brp <= max.Prescaler; brp++ {
		step := uint64(brp) * uint64(bitrate)
		if step > uint64(clockHz) {
			break
		}
		if uint64(clockHz)%step != 0 {
			continue
		}
		tq := uint32(uint64(clockHz) / step)
		if tq < 4 || tq > maxTq {
			continue
		}
		best, found := TimingParameters{}, false
		bestErr := uint32(1 << 31)
		for seg2 := uint32(1); seg2 <= max.Seg2; seg2++ {
			seg1 := tq - 1 - seg2
			if seg1 < 1 || seg1 > max.Seg1 {
				continue
			}
			sp := (1 + seg1) * 1000 / tq
			diff := sp - DefaultSamplePoint
			if sp < DefaultSamplePoint {
				diff = DefaultSamplePoint - sp
			}
			if diff < bestErr {
				bestErr = diff
				sjw := seg2
				if sjw > max.JumpWidth {
					sjw = max.JumpWidth
				}
				best, found = TimingParameters{Prescaler: brp, Seg1: seg1, Seg2: seg2, JumpWidth: sjw}, true
			}
		}
		if found {
			return best, nil
		}
	}
	return TimingParameters{}, fmt.Errorf("%w: clock=%d bitrate=%d", ErrNoTimingSolution, clockHz, bitrate)
}
