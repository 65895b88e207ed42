package main

import "github.com/pfrederiksen/objstore/internal/cli"

func main() {
	cli.Execute()
}
