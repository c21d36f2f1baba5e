package main

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"time"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/vrtrack/internal/device"
	"github.com/banshee-data/vrtrack/internal/driver"
	"github.com/banshee-data/vrtrack/internal/hardware"
	"github.com/banshee-data/vrtrack/internal/input"
	"github.com/banshee-data/vrtrack/internal/monitoring"
	"github.com/banshee-data/vrtrack/internal/tracking"
)

// controlBridge is what main needs from a hardware.Bridge, whatever its
// port type.
type controlBridge interface {
	input.HapticSink
	SetControlHandler(hardware.ControlHandler)
	Initialize() error
	Monitor(ctx context.Context) error
	AttachAdminRoutes(mux *http.ServeMux)
	Close() error
}

// devBridge is a bridge over an in-memory port that runSynthetic feeds with
// button lines.
type devBridge struct {
	*hardware.Bridge[*hardware.TestablePort]
	port *hardware.TestablePort
}

func newDevBridge() *devBridge {
	port := hardware.NewTestablePort()
	return &devBridge{Bridge: hardware.NewBridge(port), port: port}
}

func (b *devBridge) emit(line string) {
	b.port.AddReadData([]byte(line + "\n"))
}

const (
	devHMD   = "HMD-DEV"
	devLeft  = "CTL-DEV-L"
	devRight = "CTL-DEV-R"

	syntheticRate = 250 // Hz
)

func devDevices() []deviceSpec {
	return []deviceSpec{
		{serial: devHMD, kind: device.HMD()},
		{serial: devLeft, kind: device.Controller(device.HandLeft)},
		{serial: devRight, kind: device.Controller(device.HandRight)},
	}
}

// yaw returns the rotation of angle radians about +Y.
func yaw(angle float64) quat.Number {
	s, c := math.Sincos(angle / 2)
	return quat.Number{Real: c, Jmag: s}
}

// syntheticPose returns the pose of a dev device t seconds into the run.
// The headset sways and turns its head; controllers circle in front of it.
func syntheticPose(serial string, t float64, at time.Time) (tracking.Pose, bool) {
	p := tracking.Pose{
		Orientation:    tracking.Identity,
		TimestampNanos: at.UnixNano(),
		Confidence:     0.95,
	}
	switch serial {
	case devHMD:
		p.Position = r3.Vec{X: 0.05 * math.Sin(t), Y: 1.6}
		p.LinearVelocity = r3.Vec{X: 0.05 * math.Cos(t)}
		p.Orientation = yaw(0.3 * math.Sin(0.5*t))
		p.AngularVelocity = r3.Vec{Y: 0.15 * math.Cos(0.5*t)}
	case devLeft, devRight:
		side := -0.2
		if serial == devRight {
			side = 0.2
		}
		s, c := math.Sincos(t)
		p.Position = r3.Vec{X: side + 0.1*c, Y: 1.2 + 0.1*s, Z: -0.3}
		p.LinearVelocity = r3.Vec{X: -0.1 * s, Y: 0.1 * c}
		p.LinearAcceleration = r3.Vec{X: -0.1 * c, Y: -0.1 * s}
		p.Confidence = 0.9
	default:
		return tracking.Pose{}, false
	}
	return p, true
}

// runSynthetic feeds poses for the dev devices and, when the dev bridge is
// in use, a trigger click on the right controller every two seconds.
func runSynthetic(ctx context.Context, engine *driver.Context, bridge controlBridge) {
	dev, _ := bridge.(*devBridge)
	ticker := time.NewTicker(time.Second / syntheticRate)
	defer ticker.Stop()

	throttle := monitoring.NewThrottle(5 * time.Second)
	start := time.Now()
	var lastClick time.Time
	pressed := false
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			t := now.Sub(start).Seconds()
			for _, d := range devDevices() {
				pose, ok := syntheticPose(d.serial, t, now)
				if !ok {
					continue
				}
				if err := engine.Engine().IngestSerial(d.serial, pose); err != nil {
					throttle.Logf(now, "[Dev] %s: %v", d.serial, err)
				}
			}

			if dev == nil || now.Sub(lastClick) < time.Second {
				continue
			}
			lastClick = now
			pressed = !pressed
			dev.emit(fmt.Sprintf(`{"type":"button","serial":%q,"button":"trigger","pressed":%t}`, devRight, pressed))
			pull := 0.0
			if pressed {
				pull = 1
			}
			dev.emit(fmt.Sprintf(`{"type":"axis","serial":%q,"axis":"trigger","x":%g}`, devRight, pull))
			if pressed {
				if ref, err := engine.Engine().LookupBySerial(devRight); err == nil {
					engine.TriggerHaptic(ref.Handle, 20000, 160, 0.5)
				}
			}
		}
	}
}
