package main

import "github.com/remedylabs/remedy/cmd"

func main() {
	cmd.Execute()
}
