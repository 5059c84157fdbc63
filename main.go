package main

import (
	"github.com/UoA-eResearch/s3backupdb/cmd"
)

// Version information (set by build flags)
var (
	Version   = "dev"
	GitCommit = "unknown"
)

func main() {
	cmd.SetVersionInfo(Version, GitCommit)
	cmd.Execute()
}
