package main

import "github.com/ValentinKolb/saltfish/cmd"

func main() {
	cmd.Execute()
}
