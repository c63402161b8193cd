package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/stake-plus/activity-leaderboard/src/api/webserver"
	"github.com/stake-plus/activity-leaderboard/src/data"
)

func main() {
	mysqlDSN := os.Getenv("MYSQL_DSN")
	if mysqlDSN == "" {
		mysqlDSN = "leaderboard:leaderboard@tcp(127.0.0.1:3306)/leaderboard"
	}
	db := data.MustMySQL(mysqlDSN)

	addr := os.Getenv("API_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	engine := webserver.New(db)
	srv := &http.Server{Addr: addr, Handler: engine}

	go func() {
		log.Printf("Leaderboard API listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("api: %v", err)
		}
	}()

	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	<-sc

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("api: shutdown: %v", err)
	}
	log.Println("Leaderboard API stopped")
}
