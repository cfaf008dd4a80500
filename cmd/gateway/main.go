package main

import (
	"log"

	"havenplace/payments-gateway/internal/app"

	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found. Proceeding with environment variables.")
	}

	if err := app.Run(); err != nil {
		log.Fatalf("payments gateway failed: %v", err)
	}
}
