package main

import "mail-insights/cmd/cli/cmd"

func main() {
	cmd.Execute()
}
