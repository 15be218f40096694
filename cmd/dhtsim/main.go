package main

import (
	"log"

	"dhtsim/chord"
	"dhtsim/dhtsimcmd"
	"dhtsim/kad"
	"dhtsim/simulation"
)

func main() {
	simulation.Register("kad", kad.Factory)
	simulation.Register("chord", chord.Factory)
	if err := dhtsimcmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
