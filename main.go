package main

import "github.com/Persevera-Asset-Management/PerseveraTools/cmd"

func main() {
	cmd.Execute()
}
