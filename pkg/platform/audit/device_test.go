package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeviceFromUserAgent(t *testing.T) {
	chrome := "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.6099.109 Safari/537.36"
	assert.Equal(t, "Chrome 120 on Windows 10", DeviceFromUserAgent(chrome))
	assert.Empty(t, DeviceFromUserAgent("  "))
	assert.Contains(t, DeviceFromUserAgent("Googlebot/2.1 (+http://www.google.com/bot.html)"), "bot")
}
