package xodus

import (
	_ "embed"
	"strings"
)

//go:embed VERSION
var versionFile string

// Version is the current version of the environment core.
var Version = strings.TrimSpace(versionFile)
