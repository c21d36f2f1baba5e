// Package sensor receives raw pose samples from the sensor-fusion
// subsystem over UDP, MQTT or a recorded PCAP and hands them to the engine.
package sensor

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/vrtrack/internal/tracking"
)

// Pose packet layout (little-endian):
//
//	0   magic "VRP1"
//	4   timestamp int64 ns
//	12  confidence float32
//	16  serial length uint8, serial bytes
//	..  position[3], orientation w,x,y,z[4], linear velocity[3],
//	    angular velocity[3], linear acceleration[3], angular acceleration[3]
//	    all float32
const (
	PacketMagic     = "VRP1"
	MaxSerialLength = 64

	headerSize  = 4 + 8 + 4 + 1
	floatFields = 3 + 4 + 3 + 3 + 3 + 3
	bodySize    = floatFields * 4
)

var ErrBadPacket = errors.New("malformed pose packet")

// PacketSize returns the encoded size of a packet carrying serial.
func PacketSize(serial string) int {
	return headerSize + len(serial) + bodySize
}

// EncodePose renders one pose packet.
func EncodePose(serial string, p tracking.Pose) ([]byte, error) {
	if serial == "" || len(serial) > MaxSerialLength {
		return nil, fmt.Errorf("serial length %d out of range [1,%d]", len(serial), MaxSerialLength)
	}
	buf := make([]byte, PacketSize(serial))
	copy(buf, PacketMagic)
	binary.LittleEndian.PutUint64(buf[4:], uint64(p.TimestampNanos))
	binary.LittleEndian.PutUint32(buf[12:], math.Float32bits(float32(p.Confidence)))
	buf[16] = byte(len(serial))
	copy(buf[17:], serial)

	off := headerSize + len(serial)
	put := func(v float64) {
		binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(float32(v)))
		off += 4
	}
	putVec := func(v r3.Vec) {
		put(v.X)
		put(v.Y)
		put(v.Z)
	}

	putVec(p.Position)
	put(p.Orientation.Real)
	put(p.Orientation.Imag)
	put(p.Orientation.Jmag)
	put(p.Orientation.Kmag)
	putVec(p.LinearVelocity)
	putVec(p.AngularVelocity)
	putVec(p.LinearAcceleration)
	putVec(p.AngularAcceleration)
	return buf, nil
}

// DecodePose parses one pose packet. The orientation is returned as sent;
// normalisation happens on ingestion.
func DecodePose(buf []byte) (string, tracking.Pose, error) {
	if len(buf) < headerSize {
		return "", tracking.Pose{}, fmt.Errorf("%w: %d bytes is shorter than the header", ErrBadPacket, len(buf))
	}
	if string(buf[:4]) != PacketMagic {
		return "", tracking.Pose{}, fmt.Errorf("%w: bad magic %q", ErrBadPacket, buf[:4])
	}
	n := int(buf[16])
	if n == 0 || n > MaxSerialLength {
		return "", tracking.Pose{}, fmt.Errorf("%w: serial length %d", ErrBadPacket, n)
	}
	if len(buf) != headerSize+n+bodySize {
		return "", tracking.Pose{}, fmt.Errorf("%w: got %d bytes, want %d", ErrBadPacket, len(buf), headerSize+n+bodySize)
	}

	serial := string(buf[17 : 17+n])
	var p tracking.Pose
	p.TimestampNanos = int64(binary.LittleEndian.Uint64(buf[4:]))
	p.Confidence = float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[12:])))

	off := headerSize + n
	get := func() float64 {
		v := math.Float32frombits(binary.LittleEndian.Uint32(buf[off:]))
		off += 4
		return float64(v)
	}
	getVec := func() r3.Vec {
		return r3.Vec{X: get(), Y: get(), Z: get()}
	}

	p.Position = getVec()
	p.Orientation = quat.Number{Real: get(), Imag: get(), Jmag: get(), Kmag: get()}
	p.LinearVelocity = getVec()
	p.AngularVelocity = getVec()
	p.LinearAcceleration = getVec()
	p.AngularAcceleration = getVec()
	return serial, p, nil
}
