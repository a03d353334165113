package main

import "github.com/LeJamon/vmapd/internal/cli"

func main() {
	cli.Execute()
}
