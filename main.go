package main

import "github.com/audiolibrelab/clipstage/cmd"

func main() {
	cmd.Execute()
}
