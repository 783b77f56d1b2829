package main

import "finsign-bi/internal/cli"

func main() {
	cli.Execute()
}
