package main

import "icauth/cmd/icauth/cmd"

func main() {
	cmd.Execute()
}
