package common

// PackageName is used as the metrics namespace and the default service tag.
const PackageName = "record_vault"

// Version is set at build time via -ldflags.
var Version = "dev"
