package main

import (
	"fmt"
	"os"

	"github.com/RahulRimal/omnitenant/apps"
	"github.com/RahulRimal/omnitenant/bootstrap"
	"github.com/RahulRimal/omnitenant/cli"
	"github.com/RahulRimal/omnitenant/config"
)

// tenantctl administers tenants for a deployment configured through the
// environment. Applications with registered model apps embed the cli
// package over their own kernel instead; this standalone binary manages
// tenant records and storage lifecycle only.
func main() {
	cfg, err := config.Load("tenantctl")
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error: failed to load configuration:", err)
		os.Exit(1)
	}

	k, err := bootstrap.Run(bootstrap.Options{
		Config: cfg,
		Apps:   apps.NewRegistry(),
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}

	cli.Execute(cli.New(k))
}
