package app

// Version is reported by --version and /healthz.
const Version = "0.3.0"
