package main

import (
	"log/slog"
	"net/http"
	_ "net/http/pprof"
	"os"

	"github.com/gatherly/concierge/cmd"
	_ "github.com/joho/godotenv/autoload"
)

func main() {
	if os.Getenv("CONCIERGE_PROFILE") != "" {
		go func() {
			slog.Info("serving pprof at localhost:6060")
			if err := http.ListenAndServe("localhost:6060", nil); err != nil {
				slog.Error("pprof listen failed", "error", err)
			}
		}()
	}

	cmd.Execute()
}
