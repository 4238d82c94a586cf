package main

import "github.com/bitdegrade/bdkv/cmd"

func main() {
	cmd.Execute()
}
