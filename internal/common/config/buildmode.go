package config

// buildIsDevMode is the compile-time dev/release marker. It is a plain bool
// var, false by default; `-ldflags "-X ..."` only sets string variables, so
// it cannot change this one.
var buildIsDevMode = false
