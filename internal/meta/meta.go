// Package meta carries build metadata shared by the library and the CLI.
package meta

// Version is the toolgate release version.
const Version = "1.0.0"
