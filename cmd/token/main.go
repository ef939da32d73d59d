// Command token mints a JWT for a user id, for local testing of the
// websocket and REST endpoints.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/rs/zerolog/log"
	"github.com/tickchat/internal/config"
	"github.com/tickchat/pkg/jwt"
)

func main() {
	userID := flag.Int64("user", 0, "User ID to issue the token for")
	ttl := flag.Duration("ttl", 24*time.Hour, "Token lifetime")
	flag.Parse()

	if *userID <= 0 {
		fmt.Fprintln(os.Stderr, "usage: token -user <id> [-ttl 24h]")
		os.Exit(2)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	token, err := jwt.NewJWTService(cfg.JWTSecret).GenerateToken(*userID, *ttl)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to generate token")
	}
	fmt.Println(token)
}
