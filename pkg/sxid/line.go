package sxid

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const (
	// e.g.,
	// nvidia-nvswitch3: SXid (PCI:0000:05:00.0): 12028, Non-fatal, Link 32 egress non-posted PRIV error (First)
	// nvidia-nvswitch0: SXid (PCI:0000:00:00.0): 20034, Fatal, Link 30 LTSSM Fault Up
	RegexSXidLine = `SXid.*?: (\d+), (Fatal|Non-fatal)(?:, (.*))?$`

	// Regex to extract PCI device ID from NVSwitch SXid messages
	RegexSXidDeviceID = `SXid \((PCI:[0-9a-fA-F:\.]+)\)`
)

var (
	compiledRegexSXidLine     = regexp.MustCompile(RegexSXidLine)
	compiledRegexSXidDeviceID = regexp.MustCompile(RegexSXidDeviceID)
)

// Line is one parsed SXid log line.
type Line struct {
	DeviceID string `json:"device_id,omitempty"`
	SXid     int    `json:"sxid"`
	Fatal    bool   `json:"fatal"`
	Message  string `json:"message,omitempty"`

	Detail *Detail `json:"detail,omitempty"`
}

// FormatLine renders an SXid line the way the kernel driver logs it.
func FormatLine(deviceID string, id int, fatal bool, msg string) string {
	sev := "Non-fatal"
	if fatal {
		sev = "Fatal"
	}
	return fmt.Sprintf("SXid (%s): %d, %s, %s", deviceID, id, sev, msg)
}

// ExtractSXid returns the SXid of a log line, 0 if the line has none.
func ExtractSXid(line string) int {
	if match := compiledRegexSXidLine.FindStringSubmatch(line); match != nil {
		if id, err := strconv.Atoi(match[1]); err == nil {
			return id
		}
	}
	return 0
}

// ExtractDeviceID returns the PCI device ID of a log line, empty if not found.
func ExtractDeviceID(line string) string {
	if match := compiledRegexSXidDeviceID.FindStringSubmatch(line); match != nil {
		return match[1]
	}
	return ""
}

// ParseLine parses an SXid line; false if the line is not one.
func ParseLine(line string) (Line, bool) {
	match := compiledRegexSXidLine.FindStringSubmatch(strings.TrimSpace(line))
	if match == nil {
		return Line{}, false
	}
	id, err := strconv.Atoi(match[1])
	if err != nil {
		return Line{}, false
	}

	l := Line{
		DeviceID: ExtractDeviceID(line),
		SXid:     id,
		Fatal:    match[2] == "Fatal",
		Message:  match[3],
	}
	if d, ok := GetDetail(id); ok {
		l.Detail = d
	}
	return l, true
}
