package main

import (
	"errors"
	"testing"

	"github.com/tripsitter/tripsitter"
	"github.com/tripsitter/tripsitter/internal/manager"
)

func TestBuildRootWiresSubcommands(t *testing.T) {
	root := buildRoot()
	want := map[string]bool{"run": false, "build": false, "status": false, "stop": false}
	for _, c := range root.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Fatalf("subcommand %s not registered", name)
		}
	}
}

func TestExitCodeFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{&tripsitter.StateError{State: manager.StateBuildFailed}, exitBuildFailed},
		{&tripsitter.StateError{State: manager.StateFailed}, exitFailed},
		{&tripsitter.StateError{State: manager.StateStopped}, exitUsage},
		{errors.New("bad flag"), exitUsage},
	}
	for _, tc := range cases {
		if got := exitCodeFor(tc.err); got != tc.want {
			t.Fatalf("exitCodeFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	if parseLevel("debug").String() != "DEBUG" {
		t.Fatalf("debug level not parsed")
	}
	if parseLevel("nonsense").String() != "INFO" {
		t.Fatalf("unknown level should default to info")
	}
}
