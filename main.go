package main

import "github.com/vinylhound/discogs-etl/cmd"

func main() {
	cmd.Execute()
}
