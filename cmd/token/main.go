package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"foodlabel-analyzer/internal/config"
	"foodlabel-analyzer/internal/pkg/jwtutil"
)

func main() {
	clientID := flag.String("client", "", "client id to embed in the token")
	ttl := flag.Duration("ttl", 0, "token lifetime (default: auth.jwt_expire_minute)")
	flag.Parse()

	if *clientID == "" {
		log.Fatal("-client is required")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}
	lifetime := *ttl
	if lifetime <= 0 {
		lifetime = time.Duration(cfg.Auth.JWTExpireMinute) * time.Minute
	}

	token, err := jwtutil.GenerateToken(cfg.Auth.JWTSecret, *clientID, lifetime)
	if err != nil {
		log.Fatalf("generate token failed: %v", err)
	}
	fmt.Println(token)
}
