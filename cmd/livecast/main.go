package main

import "github.com/mossy-p/livecast/internal/cli"

func main() {
	cli.Execute()
}
