package main

import "arbwatch/internal/cli"

func main() {
	cli.Execute()
}
