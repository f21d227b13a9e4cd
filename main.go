package main

import "github.com/nextlevelbuilder/linescout/cmd"

func main() {
	cmd.Execute()
}
