package ui

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestRenderHeader(t *testing.T) {
	out := RenderHeader("discovered devices", "drowsiwatch discover", []Field{
		{Key: "Service", Value: "_drowsiwatch._tcp"},
		{Key: "Timeout", Value: "5s"},
	}, 80)

	for _, want := range []string{"DISCOVERED DEVICES", "drowsiwatch discover", "_drowsiwatch._tcp", "5s"} {
		if !strings.Contains(out, want) {
			t.Errorf("RenderHeader() missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "Service") > strings.Index(out, "Timeout") {
		t.Error("RenderHeader() reordered fields")
	}
}

func TestRenderErrorBox(t *testing.T) {
	out := RenderErrorBox("Scan", errors.New("no multicast interface"), []string{"check the firewall"}, 80)

	for _, want := range []string{"FAILED", "Scan", "no multicast interface", "Troubleshooting:", "check the firewall"} {
		if !strings.Contains(out, want) {
			t.Errorf("RenderErrorBox() missing %q", want)
		}
	}
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{"typed word", "clear\n", true},
		{"padded", "  clear  \n", true},
		{"no newline", "clear", true},
		{"other", "yes\n", false},
		{"empty input", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			p := NewPrinter(&out)
			got := p.Confirm("Clear credentials", []string{"the device will boot into the portal"}, "clear", strings.NewReader(tt.input))
			if got != tt.want {
				t.Errorf("Confirm() = %v, want %v", got, tt.want)
			}
			if !strings.Contains(out.String(), "WARNING") {
				t.Errorf("Confirm() output missing warning box:\n%s", out.String())
			}
		})
	}
}
