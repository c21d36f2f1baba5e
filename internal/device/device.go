// Package device owns the set of tracked devices known to the engine and
// the small integer handles the host boundary uses to address them.
package device

import (
	"fmt"
	"strings"
)

// Handle identifies a registered device across the host boundary. Handles
// are assigned in increasing order starting at 1 and are never reused.
type Handle uint32

// InvalidHandle is never issued by a Registry.
const InvalidHandle Handle = 0

// Class is the broad category of a tracked device.
type Class int

const (
	ClassHMD Class = iota
	ClassController
	ClassTracker
	ClassTrackingReference
)

func (c Class) String() string {
	switch c {
	case ClassHMD:
		return "hmd"
	case ClassController:
		return "controller"
	case ClassTracker:
		return "tracker"
	case ClassTrackingReference:
		return "tracking_reference"
	default:
		return fmt.Sprintf("class(%d)", int(c))
	}
}

// ParseClass is the inverse of Class.String.
func ParseClass(s string) (Class, error) {
	switch strings.ToLower(s) {
	case "hmd":
		return ClassHMD, nil
	case "controller":
		return ClassController, nil
	case "tracker":
		return ClassTracker, nil
	case "tracking_reference", "reference":
		return ClassTrackingReference, nil
	}
	return 0, fmt.Errorf("unknown device class %q", s)
}

// Handedness applies to controllers only.
type Handedness int

const (
	HandUnknown Handedness = iota
	HandLeft
	HandRight
)

func (h Handedness) String() string {
	switch h {
	case HandLeft:
		return "left"
	case HandRight:
		return "right"
	default:
		return "unknown"
	}
}

// Kind is the tagged variant selecting per-device behaviour. Handedness is
// only carried for ClassController; it is forced to HandUnknown otherwise.
type Kind struct {
	Class      Class
	Handedness Handedness
}

// HMD, Controller, Tracker and Reference build the variants of Kind.
func HMD() Kind { return Kind{Class: ClassHMD} }

func Controller(h Handedness) Kind { return Kind{Class: ClassController, Handedness: h} }

func Tracker() Kind { return Kind{Class: ClassTracker} }

func Reference() Kind { return Kind{Class: ClassTrackingReference} }

func (k Kind) normalized() Kind {
	if k.Class != ClassController {
		k.Handedness = HandUnknown
	}
	return k
}

func (k Kind) String() string {
	if k.Class == ClassController {
		return k.Class.String() + "/" + k.Handedness.String()
	}
	return k.Class.String()
}

// ParseKind is the inverse of Kind.String: "hmd", "tracker",
// "controller/left" and so on. A bare "controller" has unknown handedness.
func ParseKind(s string) (Kind, error) {
	class, hand, _ := strings.Cut(s, "/")
	c, err := ParseClass(class)
	if err != nil {
		return Kind{}, err
	}
	k := Kind{Class: c}
	switch strings.ToLower(hand) {
	case "", "unknown":
	case "left":
		k.Handedness = HandLeft
	case "right":
		k.Handedness = HandRight
	default:
		return Kind{}, fmt.Errorf("unknown handedness %q", hand)
	}
	if hand != "" && c != ClassController {
		return Kind{}, fmt.Errorf("handedness given for %s", c)
	}
	return k, nil
}

// Tracked reports whether devices of this kind produce poses the host
// renders. Tracking references (base stations) are static.
func (k Kind) Tracked() bool {
	return k.Class != ClassTrackingReference
}

// Ref is a copy of a registered device's identity and properties. It never
// aliases registry state.
type Ref struct {
	Handle          Handle
	Serial          string
	Kind            Kind
	Properties      map[string]string
	RegisteredNanos int64
}
