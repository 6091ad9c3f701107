// Package clientinfo extrai dados do cliente para auditoria: dispositivo a
// partir do User-Agent e país a partir do IP (GeoLite2, opcional).
package clientinfo

import (
	"strings"

	"github.com/mssola/useragent"
)

type Device struct {
	Browser    string `json:"browser"`
	OS         string `json:"os"`
	DeviceType string `json:"deviceType"`
	Bot        bool   `json:"bot"`
}

// ferramentas de linha de comando e bibliotecas HTTP que o parser não marca como bot
var automationMarkers = []string{
	"curl/", "wget/", "python-requests", "python-urllib", "go-http-client",
	"httpclient", "okhttp", "headlesschrome", "phantomjs", "scrapy",
}

// ParseDevice interpreta o User-Agent. UA vazio conta como bot.
func ParseDevice(ua string) Device {
	ua = strings.TrimSpace(ua)
	if ua == "" {
		return Device{DeviceType: "bot", Bot: true}
	}

	parsed := useragent.New(ua)
	browser, version := parsed.Browser()
	if version != "" {
		browser = browser + " " + version
	}
	osInfo := parsed.OSInfo()
	os := osInfo.Name
	if osInfo.Version != "" {
		os = os + " " + osInfo.Version
	}

	d := Device{Browser: browser, OS: os, DeviceType: "desktop"}
	switch {
	case parsed.Bot() || looksAutomated(ua):
		d.DeviceType = "bot"
		d.Bot = true
	case parsed.Mobile():
		d.DeviceType = "mobile"
	}
	return d
}

func looksAutomated(ua string) bool {
	lower := strings.ToLower(ua)
	for _, m := range automationMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}
