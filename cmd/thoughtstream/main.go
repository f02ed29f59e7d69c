package main

import (
	"fmt"
	"os"

	"thoughtstream/cmd/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "thoughtstream:", err)
		os.Exit(1)
	}
}
