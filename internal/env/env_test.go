package env

import "testing"

func TestDefaults(t *testing.T) {
	t.Setenv(OutputDirVar, "")
	t.Setenv(LogLevelVar, "")
	t.Setenv(SniffHorizonVar, "")

	if got := OutputDir(); got != DefaultOutputDir {
		t.Errorf("OutputDir() = %q, want %q", got, DefaultOutputDir)
	}
	if got := LogLevel(); got != DefaultLogLevel {
		t.Errorf("LogLevel() = %q, want %q", got, DefaultLogLevel)
	}
	if got := SniffHorizon(); got != DefaultSniffHorizon {
		t.Errorf("SniffHorizon() = %d, want %d", got, DefaultSniffHorizon)
	}
}

func TestOverrides(t *testing.T) {
	t.Setenv(OutputDirVar, " /tmp/out ")
	t.Setenv(LogLevelVar, "DEBUG")
	t.Setenv(SniffHorizonVar, "4096")

	if got := OutputDir(); got != "/tmp/out" {
		t.Errorf("OutputDir() = %q", got)
	}
	if got := LogLevel(); got != "DEBUG" {
		t.Errorf("LogLevel() = %q", got)
	}
	if got := SniffHorizon(); got != 4096 {
		t.Errorf("SniffHorizon() = %d", got)
	}
}

func TestSniffHorizonRejectsGarbage(t *testing.T) {
	for _, v := range []string{"abc", "-5", "0"} {
		t.Setenv(SniffHorizonVar, v)
		if got := SniffHorizon(); got != DefaultSniffHorizon {
			t.Errorf("SniffHorizon() with %q = %d, want default", v, got)
		}
	}
}
