package version

import (
	"fmt"
	"log"
)

var (
	Name        = "grelay"
	Authors     = "relaymesh"
	Description = "Multi-endpoint TCP/UDP relay with failover balancing"
	Version     = "v0.0.1"
	Commit      = "none"
	Date        = "nowish"
	User        = "local"
)

const (
	GithubHomeText = "github.com/relaymesh/grelay"
	GithubHomeURI  = "https://github.com/relaymesh/grelay"
)

// PrintVersionInfo writes a one-line banner, plus build provenance when
// extendedInfo is set (the --version flag).
func PrintVersionInfo(extendedInfo bool, vlog *log.Logger) {
	vlog.Printf("%s %s (%s)\n", Name, Version, Description)
	if extendedInfo {
		vlog.Println(fmt.Sprintf("  commit: %s", Commit))
		vlog.Println(fmt.Sprintf("   built: %s", Date))
		vlog.Println(fmt.Sprintf("   using: %s", User))
		vlog.Println(fmt.Sprintf("    repo: %s", GithubHomeURI))
	}
}
