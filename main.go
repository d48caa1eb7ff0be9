package main

import "github.com/harmonycast/harmonycast/cmd"

func main() {
	cmd.Execute()
}
