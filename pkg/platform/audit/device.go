package audit

import (
	"strings"

	"github.com/mssola/useragent"
)

// DeviceFromUserAgent summarises a User-Agent as "<browser> <version> on <os>".
// Raw User-Agent strings are not stored in the trail.
func DeviceFromUserAgent(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	ua := useragent.New(raw)
	if ua.Bot() {
		name, _ := ua.Browser()
		return "bot " + name
	}
	name, version := ua.Browser()
	os := ua.OS()
	if major, _, ok := strings.Cut(version, "."); ok {
		version = major
	}
	device := strings.TrimSpace(name + " " + version)
	if os != "" {
		device += " on " + os
	}
	return device
}
