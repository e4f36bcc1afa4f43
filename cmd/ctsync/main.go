package main

import "github.com/dbsmedya/ctsync/cmd/ctsync/cmd"

func main() {
	cmd.Execute()
}
