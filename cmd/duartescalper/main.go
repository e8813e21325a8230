package main

import "duarte-scalper/internal/cli"

func main() {
	cli.Execute()
}
