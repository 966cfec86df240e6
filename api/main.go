package main

import (
	"github.com/joho/godotenv"

	"github.com/workplane/workplane/api/cmd/workplane"
)

func main() {
	_ = godotenv.Load()
	workplane.Execute()
}
