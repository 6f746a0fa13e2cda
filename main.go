package main

import "github.com/copilot-cli/copilot/cmd"

func main() {
	cmd.Execute()
}
