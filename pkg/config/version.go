package config

import (
	"runtime/debug"
	"sync"
)

// Version reports the running build as "nebula/<revision>", with a -dirty
// suffix when the working tree had local modifications at build time.
// Resolved from the VCS metadata Go embeds in the binary; "nebula/dev" for
// non-VCS builds such as `go test`. Surfaced through the health endpoint
// and sent upstream as the User-Agent.
var Version = sync.OnceValue(func() string {
	rev, dirty := "dev", false
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				if s.Value != "" {
					rev = s.Value
					if len(rev) > 8 {
						rev = rev[:8]
					}
				}
			case "vcs.modified":
				dirty = s.Value == "true"
			}
		}
	}
	if dirty {
		return "nebula/" + rev + "-dirty"
	}
	return "nebula/" + rev
})
