package main

import "github.com/surge-downloader/surge-core/cmd"

func main() {
	cmd.Execute()
}
