package tracking

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/vrtrack/internal/config"
	"github.com/banshee-data/vrtrack/internal/device"
	"github.com/banshee-data/vrtrack/internal/monitoring"
	"github.com/banshee-data/vrtrack/internal/timeutil"
)

var (
	// ErrNoTrackingData is returned by Predict for a device that has never
	// had a pose ingested.
	ErrNoTrackingData = errors.New("no tracking data")
	// ErrInvalidPose is returned by IngestPose for samples with non-finite
	// fields or a zero orientation.
	ErrInvalidPose = errors.New("invalid pose sample")
)

// PredictorConfig holds the confidence bands, the extrapolation clamp and
// the output basis.
type PredictorConfig struct {
	ConfidenceHigh      float64 // second order at or above
	ConfidenceLow       float64 // zero-order hold below
	MaxPredictionMs     float64 // |horizon| clamp
	VelocityStalenessMs float64 // sample age beyond which velocities are ignored
	Basis               Basis
}

// DefaultPredictorConfig returns the built-in tuning defaults.
func DefaultPredictorConfig() PredictorConfig {
	return PredictorConfigFromTuning(config.EmptyTuningConfig())
}

// PredictorConfigFromTuning builds a PredictorConfig from the tuning file.
func PredictorConfigFromTuning(cfg *config.TuningConfig) PredictorConfig {
	return PredictorConfig{
		ConfidenceHigh:      cfg.GetConfidenceHigh(),
		ConfidenceLow:       cfg.GetConfidenceLow(),
		MaxPredictionMs:     cfg.GetMaxPredictionMs(),
		VelocityStalenessMs: cfg.GetVelocityStalenessMs(),
		Basis:               BasisFromTuning(cfg),
	}
}

// slot is the single-entry, latest-value-wins buffer for one device. Its
// lock is held only for the copy in or out.
type slot struct {
	mu   sync.Mutex
	pose Pose
	set  bool
}

// Predictor stores the newest pose per device and extrapolates it on
// demand. Ingestion and prediction for different devices never contend;
// for the same device they contend only for a struct copy.
type Predictor struct {
	clock timeutil.Clock

	mu    sync.RWMutex // guards cfg and the slots map, not slot contents
	cfg   PredictorConfig
	slots map[device.Handle]*slot
}

// NewPredictor creates a Predictor. clock is used to age samples for the
// velocity staleness check.
func NewPredictor(cfg PredictorConfig, clock timeutil.Clock) *Predictor {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Predictor{
		clock: clock,
		cfg:   cfg,
		slots: make(map[device.Handle]*slot),
	}
}

// Config returns the current configuration.
func (p *Predictor) Config() PredictorConfig {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg
}

// UpdateConfig applies fn to the configuration under the write lock.
func (p *Predictor) UpdateConfig(fn func(*PredictorConfig)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(&p.cfg)
}

// SetBasis replaces the sensor->host transform, e.g. after recalibration.
func (p *Predictor) SetBasis(b Basis) {
	p.UpdateConfig(func(c *PredictorConfig) { c.Basis = b })
}

func (p *Predictor) slotFor(h device.Handle, create bool) *slot {
	p.mu.RLock()
	s := p.slots[h]
	p.mu.RUnlock()
	if s != nil || !create {
		return s
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if s = p.slots[h]; s == nil {
		s = &slot{}
		p.slots[h] = s
	}
	return s
}

// IngestPose stores pose as the latest sample for h if its timestamp is
// strictly newer than the stored one. Older or equal samples are dropped
// and IngestPose reports false. The orientation is renormalised and the
// confidence clamped to [0,1] before storing.
func (p *Predictor) IngestPose(h device.Handle, pose Pose) (bool, error) {
	if !pose.isFinite() {
		monitoring.PosesIngested.WithLabelValues("invalid").Inc()
		return false, fmt.Errorf("handle %d: %w: non-finite field", h, ErrInvalidPose)
	}
	q, ok := normalize(pose.Orientation)
	if !ok {
		monitoring.PosesIngested.WithLabelValues("invalid").Inc()
		return false, fmt.Errorf("handle %d: %w: zero orientation", h, ErrInvalidPose)
	}
	pose.Orientation = q
	pose.Confidence = math.Max(0, math.Min(1, pose.Confidence))

	s := p.slotFor(h, true)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.set && pose.TimestampNanos <= s.pose.TimestampNanos {
		monitoring.PosesIngested.WithLabelValues("out_of_order").Inc()
		return false, nil
	}
	s.pose = pose
	s.set = true
	monitoring.PosesIngested.WithLabelValues("accepted").Inc()
	return true, nil
}

// Latest returns the stored raw pose for h, before prediction or basis change.
func (p *Predictor) Latest(h device.Handle) (Pose, error) {
	s := p.slotFor(h, false)
	if s == nil {
		return Pose{}, fmt.Errorf("handle %d: %w", h, ErrNoTrackingData)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.set {
		return Pose{}, fmt.Errorf("handle %d: %w", h, ErrNoTrackingData)
	}
	return s.pose, nil
}

// HasData reports whether a pose has been ingested for h.
func (p *Predictor) HasData(h device.Handle) bool {
	_, err := p.Latest(h)
	return err == nil
}

// Forget discards the stored pose for h.
func (p *Predictor) Forget(h device.Handle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.slots, h)
}

// Reset discards every stored pose.
func (p *Predictor) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.slots = make(map[device.Handle]*slot)
}

// Predict extrapolates the latest pose for h by horizonMs milliseconds
// (negative looks into the past) and returns it in the host frame.
//
// The extrapolation order follows the sample's confidence: second order at
// or above ConfidenceHigh, first order down to ConfidenceLow, zero-order
// hold below that or when the sample is older than VelocityStalenessMs.
// Horizons beyond ±MaxPredictionMs return the zero-order hold marked Stale.
func (p *Predictor) Predict(h device.Handle, horizonMs float64) (PredictedPose, error) {
	raw, err := p.Latest(h)
	if err != nil {
		return PredictedPose{}, err
	}
	cfg := p.Config()

	if !finite(horizonMs) || math.Abs(horizonMs) > cfg.MaxPredictionMs {
		monitoring.PredictionModes.WithLabelValues("clamped").Inc()
		return PredictedPose{
			Pose:      cfg.Basis.Apply(raw),
			HorizonMs: horizonMs,
			Mode:      ZeroOrder,
			Stale:     true,
		}, nil
	}

	mode := p.selectMode(cfg, raw)
	monitoring.PredictionModes.WithLabelValues(mode.String()).Inc()
	return PredictedPose{
		Pose:      cfg.Basis.Apply(Extrapolate(raw, horizonMs/1000, mode)),
		HorizonMs: horizonMs,
		Mode:      mode,
	}, nil
}

func (p *Predictor) selectMode(cfg PredictorConfig, pose Pose) Mode {
	ageMs := float64(timeutil.NowNanos(p.clock)-pose.TimestampNanos) / 1e6
	switch {
	case pose.Confidence < cfg.ConfidenceLow:
		return ZeroOrder
	case ageMs > cfg.VelocityStalenessMs:
		return ZeroOrder
	case pose.Confidence >= cfg.ConfidenceHigh:
		return SecondOrder
	default:
		return FirstOrder
	}
}

// Extrapolate advances pose by dt seconds using the given order.
func Extrapolate(pose Pose, dt float64, mode Mode) Pose {
	if dt == 0 || mode == ZeroOrder {
		return pose
	}

	out := pose
	out.TimestampNanos = pose.TimestampNanos + int64(math.Round(dt*1e9))

	// p' = p + v·dt (+ ½·a·dt²)
	out.Position = r3.Add(pose.Position, r3.Scale(dt, pose.LinearVelocity))
	theta := r3.Scale(dt, pose.AngularVelocity)
	if mode == SecondOrder {
		half := 0.5 * dt * dt
		out.Position = r3.Add(out.Position, r3.Scale(half, pose.LinearAcceleration))
		theta = r3.Add(theta, r3.Scale(half, pose.AngularAcceleration))
		out.LinearVelocity = r3.Add(pose.LinearVelocity, r3.Scale(dt, pose.LinearAcceleration))
		out.AngularVelocity = r3.Add(pose.AngularVelocity, r3.Scale(dt, pose.AngularAcceleration))
	}
	out.Orientation = integrate(pose.Orientation, theta)
	return out
}
