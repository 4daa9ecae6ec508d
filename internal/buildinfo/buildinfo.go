// Package buildinfo carries version metadata, set with -ldflags "-X" at release time and
// filled from the embedded VCS stamp otherwise.
package buildinfo

import (
    "fmt"
    "runtime"
    "runtime/debug"
)

var (
    Version = "dev"
    Commit  = ""
    BuiltAt = ""
)

func Info() map[string]string {
    commit, builtAt := Commit, BuiltAt
    if bi, ok := debug.ReadBuildInfo(); ok {
        for _, s := range bi.Settings {
            switch s.Key {
            case "vcs.revision":
                if commit == "" {
                    commit = s.Value
                }
            case "vcs.time":
                if builtAt == "" {
                    builtAt = s.Value
                }
            }
        }
    }
    return map[string]string{
        "version": Version,
        "commit":  commit,
        "builtAt": builtAt,
        "go":      runtime.Version(),
    }
}

// String is the one-line form printed by the version command.
func String() string {
    i := Info()
    c := i["commit"]
    if len(c) > 12 {
        c = c[:12]
    }
    if c == "" {
        c = "unknown"
    }
    return fmt.Sprintf("collectroute %s (%s, %s)", i["version"], c, i["go"])
}
