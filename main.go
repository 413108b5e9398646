package main

import "github.com/dayuer/agentbus/cmd"

func main() {
	cmd.Execute()
}
