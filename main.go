// Command revsync edits local-first text objects and syncs them through an
// authority.
package main

import (
	"runtime/debug"

	"github.com/marcus/revsync/cmd"
)

// Version is injected with -ldflags "-X main.Version=v1.2.3".
var Version = "dev"

// resolveVersion prefers the injected version, then the module version
// recorded by `go install`, then "devel+<rev>[+dirty]" from VCS stamps.
func resolveVersion(injected string, info *debug.BuildInfo) string {
	if injected != "" && injected != "dev" {
		return injected
	}
	if info == nil {
		return injected
	}
	if v := info.Main.Version; v != "" && v != "(devel)" {
		return v
	}
	settings := make(map[string]string, len(info.Settings))
	for _, s := range info.Settings {
		settings[s.Key] = s.Value
	}
	rev := settings["vcs.revision"]
	if rev == "" {
		return injected
	}
	v := "devel+" + rev[:min(len(rev), 12)]
	if settings["vcs.modified"] == "true" {
		v += "+dirty"
	}
	return v
}

func main() {
	info, _ := debug.ReadBuildInfo()
	cmd.SetVersion(resolveVersion(Version, info))
	cmd.Execute()
}
