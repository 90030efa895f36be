package main

import "github.com/JuanfranciscoFioretti/Walkie-Talkie/internal/cmd"

func main() {
	cmd.Execute()
}
