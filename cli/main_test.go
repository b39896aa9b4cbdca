package main

import "testing"

func TestRunVersionFlag(t *testing.T) {
	if code := run([]string{"-version"}); code != 0 {
		t.Fatalf("run -version = %d, want 0", code)
	}
}

func TestRunUnknownFlag(t *testing.T) {
	if code := run([]string{"-no-such-flag"}); code != 2 {
		t.Fatalf("run with unknown flag = %d, want 2", code)
	}
}

func TestNewLogger(t *testing.T) {
	for _, debug := range []bool{false, true} {
		log, err := newLogger(debug)
		if err != nil {
			t.Fatalf("newLogger(%v): %v", debug, err)
		}
		log.Sync()
	}
}
