package main

import "github.com/MeKo-Tech/colordeconv/internal/cmd"

func main() {
	cmd.Execute()
}
