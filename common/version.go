package common

// Version is set at build time via -ldflags.
var Version = "dev"

// PackageName identifies this daemon in logs and diagnostics.
const PackageName = "blockcryptd"
