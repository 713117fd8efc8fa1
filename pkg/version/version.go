package version

import "fmt"

// Set at build time:
//
//	go build -ldflags "-X github.com/Wachitugo/ConvivenciaLaboral-sub001/pkg/version.Version=v1.4.0"
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// String renders the build identity for startup logs and the service info metric.
func String() string {
	return fmt.Sprintf("%s (%s, built %s)", Version, shortCommit(GitCommit), BuildDate)
}

func shortCommit(commit string) string {
	if len(commit) > 7 {
		return commit[:7]
	}
	return commit
}
