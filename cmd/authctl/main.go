package main

import (
	"context"
	"os"

	"github.com/dmitrijs2005/gophgate/internal/authctl"
)

func main() {
	if err := authctl.Execute(context.Background()); err != nil {
		os.Exit(1)
	}
}
