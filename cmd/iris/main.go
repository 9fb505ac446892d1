package main

import "github.com/nextlevelbuilder/iris/cmd"

func main() {
	cmd.Execute()
}
