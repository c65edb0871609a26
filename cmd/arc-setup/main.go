package main

import "arcsetup/internal/cli"

func main() {
	cli.Execute()
}
