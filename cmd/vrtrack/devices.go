package main

import (
	"fmt"
	"strings"

	"github.com/banshee-data/vrtrack/internal/device"
)

type deviceSpec struct {
	serial string
	kind   device.Kind
}

// parseDevices parses "serial=kind,serial=kind".
func parseDevices(s string) ([]deviceSpec, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var out []deviceSpec
	seen := make(map[string]bool)
	for _, item := range strings.Split(s, ",") {
		serial, kindStr, ok := strings.Cut(strings.TrimSpace(item), "=")
		serial = strings.TrimSpace(serial)
		if !ok || serial == "" {
			return nil, fmt.Errorf("expected serial=kind, got %q", item)
		}
		if seen[serial] {
			return nil, fmt.Errorf("serial %q listed twice", serial)
		}
		kind, err := device.ParseKind(strings.TrimSpace(kindStr))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", serial, err)
		}
		seen[serial] = true
		out = append(out, deviceSpec{serial: serial, kind: kind})
	}
	return out, nil
}
