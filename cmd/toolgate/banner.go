package main

import (
	"fmt"
	"io"

	"golang.org/x/term"
)

func isTTY(fd uintptr) bool {
	return term.IsTerminal(int(fd))
}

// printBanner prints the toolgate ASCII art banner. When useColor is
// true, ANSI escape codes are used for a cyan/blue/magenta gradient.
func printBanner(w io.Writer, useColor bool) {
	lines := []string{
		`                                                  `,
		`  _              _             _                  `,
		` | |_ ___   ___ | | __ _  __ _| |_ ___            `,
		` | __/ _ \ / _ \| |/ _' |/ _' | __/ _ \           `,
		` | || (_) | (_) | | (_| | (_| | ||  __/           `,
		`  \__\___/ \___/|_|\__, |\__,_|\__\___|           `,
		`                   |___/                          `,
		`                                                  `,
	}

	if useColor {
		colors := []string{
			"\033[1;36m",
			"\033[1;36m",
			"\033[1;34m",
			"\033[1;34m",
			"\033[1;35m",
			"\033[1;35m",
			"\033[1;35m",
			"\033[0m",
		}
		for i, line := range lines {
			fmt.Fprintf(w, "%s%s\033[0m\n", colors[i], line)
		}
		return
	}

	for _, line := range lines {
		fmt.Fprintln(w, line)
	}
}
