package settings

import (
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/vrtrack/internal/monitoring"
)

// Store keys.
const (
	KeyRenderWidth      = "render_width"
	KeyRenderHeight     = "render_height"
	KeyRefreshRate      = "refresh_rate"
	KeyIPD              = "ipd"
	KeyPredictionTimeMs = "prediction_time_ms"
)

// DriverSettings are the host-visible display and prediction settings.
type DriverSettings struct {
	RenderWidth      int     `json:"render_width"`
	RenderHeight     int     `json:"render_height"`
	RefreshRate      float64 `json:"refresh_rate"` // Hz
	IPD              float64 `json:"ipd"`          // metres
	PredictionTimeMs float64 `json:"prediction_time_ms"`
}

// Defaults returns the settings used for any key the store cannot supply.
func Defaults() DriverSettings {
	return DriverSettings{
		RenderWidth:      1832,
		RenderHeight:     1920,
		RefreshRate:      90,
		IPD:              0.063,
		PredictionTimeMs: 20,
	}
}

// Validate replaces out-of-range fields with their defaults and returns the
// names of the fields it replaced.
func (s *DriverSettings) Validate() []string {
	d := Defaults()
	var fixed []string
	if s.RenderWidth < 1 || s.RenderWidth > 16384 {
		s.RenderWidth = d.RenderWidth
		fixed = append(fixed, KeyRenderWidth)
	}
	if s.RenderHeight < 1 || s.RenderHeight > 16384 {
		s.RenderHeight = d.RenderHeight
		fixed = append(fixed, KeyRenderHeight)
	}
	if !(s.RefreshRate > 0 && s.RefreshRate <= 1000) {
		s.RefreshRate = d.RefreshRate
		fixed = append(fixed, KeyRefreshRate)
	}
	if !(s.IPD > 0 && s.IPD <= 0.1) {
		s.IPD = d.IPD
		fixed = append(fixed, KeyIPD)
	}
	if !(s.PredictionTimeMs >= 0 && s.PredictionTimeMs <= 1000) || math.IsNaN(s.PredictionTimeMs) {
		s.PredictionTimeMs = d.PredictionTimeMs
		fixed = append(fixed, KeyPredictionTimeMs)
	}
	return fixed
}

// FrameInterval returns the host frame period in seconds.
func (s DriverSettings) FrameInterval() float64 {
	return 1 / s.RefreshRate
}

// Adapter loads and saves DriverSettings through a Store.
type Adapter struct {
	store Store
}

// NewAdapter wraps store. A nil store makes Load return defaults and Save
// a logged no-op.
func NewAdapter(store Store) *Adapter {
	return &Adapter{store: store}
}

// Store returns the underlying store, or nil.
func (a *Adapter) Store() Store { return a.store }

// Load reads every setting, substituting the default for any key that is
// missing or unreadable. It never fails.
func (a *Adapter) Load() DriverSettings {
	s := Defaults()
	if a.store == nil {
		monitoring.Logf("[Settings] no store configured, using defaults: %v", ErrConfigUnavailable)
		return s
	}

	var missing []string
	loadInt := func(key string, dst *int) {
		v, err := a.store.GetInt(key)
		if err != nil {
			missing = append(missing, key)
			return
		}
		*dst = int(v)
	}
	loadFloat := func(key string, dst *float64) {
		v, err := a.store.GetFloat(key)
		if err != nil {
			missing = append(missing, key)
			return
		}
		*dst = v
	}

	loadInt(KeyRenderWidth, &s.RenderWidth)
	loadInt(KeyRenderHeight, &s.RenderHeight)
	loadFloat(KeyRefreshRate, &s.RefreshRate)
	loadFloat(KeyIPD, &s.IPD)
	loadFloat(KeyPredictionTimeMs, &s.PredictionTimeMs)

	if len(missing) > 0 {
		monitoring.Logf("[Settings] %v for %v, using defaults", ErrConfigUnavailable, missing)
	}
	if fixed := s.Validate(); len(fixed) > 0 {
		monitoring.Logf("[Settings] out-of-range values for %v replaced with defaults", fixed)
	}
	return s
}

// Save writes every setting. It is best effort: each failed key is logged
// and the joined error returned for the caller to log, never to abort on.
func (a *Adapter) Save(s DriverSettings) error {
	if a.store == nil {
		err := fmt.Errorf("save: %w: no store configured", ErrConfigUnavailable)
		monitoring.Logf("[Settings] %v", err)
		return err
	}

	errs := []error{
		a.store.SetInt(KeyRenderWidth, int64(s.RenderWidth)),
		a.store.SetInt(KeyRenderHeight, int64(s.RenderHeight)),
		a.store.SetFloat(KeyRefreshRate, s.RefreshRate),
		a.store.SetFloat(KeyIPD, s.IPD),
		a.store.SetFloat(KeyPredictionTimeMs, s.PredictionTimeMs),
	}
	err := errors.Join(errs...)
	if err != nil {
		monitoring.Logf("[Settings] save failed: %v", err)
	}
	return err
}
