package main

import "matchpicks/internal/cli"

func main() {
	cli.Execute()
}
