package logger

import (
	"bytes"
	"strings"
	"testing"
)

func newTestLogger(level LogLevel) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	l := New(Config{
		Level:    level,
		Colorize: false,
		ShowTime: false,
		Output:   &buf,
	})
	return l, &buf
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    LogLevel
		wantErr bool
	}{
		{"debug", DEBUG, false},
		{"INFO", INFO, false},
		{"", INFO, false},
		{" warn ", WARN, false},
		{"warning", WARN, false},
		{"Error", ERROR, false},
		{"fatal", FATAL, false},
		{"verbose", INFO, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestLevelFiltering(t *testing.T) {
	l, buf := newTestLogger(WARN)

	l.Debugf("hidden %d", 1)
	l.Infof("hidden %d", 2)
	l.Warnf("shown %d", 3)
	l.Errorf("shown %d", 4)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("messages below WARN were written:\n%s", out)
	}
	if !strings.Contains(out, "[WARN] shown 3") {
		t.Errorf("missing warning line:\n%s", out)
	}
	if !strings.Contains(out, "[ERROR] shown 4") {
		t.Errorf("errors should log at ERROR:\n%s", out)
	}
}

func TestErrorAboveWarn(t *testing.T) {
	l, buf := newTestLogger(ERROR)

	l.Warn("dropped")
	l.Error("kept")

	if got := strings.TrimSpace(buf.String()); got != "[ERROR] kept" {
		t.Errorf("got %q", got)
	}
}

func TestWithPrefix(t *testing.T) {
	l, buf := newTestLogger(DEBUG)

	clip := l.With("[take1.mp4]")
	clip.Infof("hashed %d windows", 42)
	clip.With("match").Debug("done")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d:\n%s", len(lines), buf.String())
	}
	if lines[0] != "[INFO] [take1.mp4] hashed 42 windows" {
		t.Errorf("line 0 = %q", lines[0])
	}
	if lines[1] != "[DEBUG] [take1.mp4] match done" {
		t.Errorf("line 1 = %q", lines[1])
	}

	clip.SetLevel(ERROR)
	l.Info("parent still logs")
	if !strings.Contains(buf.String(), "parent still logs") {
		t.Error("child level change leaked into parent")
	}
}

func TestMessageWithoutArgs(t *testing.T) {
	l, buf := newTestLogger(INFO)
	l.Info("100% done")

	if got := strings.TrimSpace(buf.String()); got != "[INFO] 100% done" {
		t.Errorf("got %q", got)
	}
}
