package main

import "methodlift/internal/cli"

func main() {
	cli.Execute()
}
