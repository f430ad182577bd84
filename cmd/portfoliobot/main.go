package main

import "portfolio-bot/internal/cli"

func main() {
	cli.Execute()
}
