package version

// Version is the walkie-talkie release version.
// Overridden at build time via -ldflags "-X ...version.Version=v1.2.3".
var Version = "dev"
