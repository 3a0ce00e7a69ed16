// Package version carries build metadata injected at link time:
//
//	go build -ldflags "-X github.com/lynxe/lynxe-go/pkg/version.Version=v1.2.3 \
//	  -X github.com/lynxe/lynxe-go/pkg/version.BuildTime=2026-08-25T10:00:00Z"
package version

import "time"

const unknown = "unknown"

var (
	Version   = unknown
	BuildTime = unknown
)

// Info is the version payload served by the admin API.
type Info struct {
	Version   string `json:"version"`
	BuildTime string `json:"buildTime"`
	Timestamp string `json:"timestamp"`
}

// Current returns the build info. BuildTime is reformatted from RFC3339
// to a readable local form when it parses; Timestamp is the serving
// time.
func Current() Info {
	return Info{
		Version:   Version,
		BuildTime: formatBuildTime(BuildTime),
		Timestamp: time.Now().Format("2006-01-02T15:04:05"),
	}
}

func formatBuildTime(raw string) string {
	if raw == "" || raw == unknown {
		return unknown
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return raw
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
