package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/joho/godotenv"

	"watchsync/internal/hertzapi"
	"watchsync/internal/httpapi"
	"watchsync/internal/rooms"
)

func main() {
	// Optional local overrides; absence is fine.
	_ = godotenv.Load()

	port := os.Getenv("PORT")
	if port == "" {
		port = "3000"
	}
	engine := os.Getenv("SERVER_ENGINE")
	if engine == "" {
		engine = "hertz"
	}

	manager := rooms.NewManager()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	manager.StartSweeper(ctx)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	switch engine {
	case "echo":
		srv := &http.Server{
			Addr:    ":" + port,
			Handler: httpapi.NewServer(manager).Router(),
		}
		go func() {
			log.Printf("listening on :%s (echo)", port)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("server error: %v", err)
			}
		}()

		<-stop
		log.Println("shutting down...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("graceful shutdown failed: %v", err)
		}

	default:
		h := server.Default(server.WithHostPorts(":" + port))
		hertzapi.NewRouter(h, manager)
		go func() {
			log.Printf("listening on :%s (hertz)", port)
			h.Spin()
		}()

		<-stop
		log.Println("shutting down...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := h.Shutdown(shutdownCtx); err != nil {
			log.Printf("graceful shutdown failed: %v", err)
		}
	}

	log.Println("server stopped")
}
