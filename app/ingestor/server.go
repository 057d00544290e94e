package ingestor

import (
	"net/http"
	"time"

	"github.com/canopy-network/ingestx/app/ingestor/controller"
	"github.com/canopy-network/ingestx/app/ingestor/types"
)

// NewServer builds the HTTP server of app.
func NewServer(app *types.App) error {
	ctler := controller.NewController(app)
	router, err := ctler.NewRouter()
	if err != nil {
		return err
	}

	// use <ip>:<port> to bind to a specific interface or :<port> to bind to all interfaces
	app.Server = &http.Server{
		Addr:              app.Config.Server.Addr,
		Handler:           controller.WithCORS(router),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return nil
}
