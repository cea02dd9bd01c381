package config

import (
	"encoding/base64"
	"fmt"
)

const (
	StorePostgres = "postgres"
	StoreMongo    = "mongo"
)

type Config struct {
	ServerAddr     string
	Store          string
	DatabaseDSN    string
	MongoDatabase  string
	SigningKey     []byte
	AllowedOrigins []string
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(base64Secret)
}

func NewConfig(serverAddr, store, databaseDSN, mongoDatabase, base64Secret string, allowedOrigins []string) (*Config, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if store != StorePostgres && store != StoreMongo {
		return nil, fmt.Errorf("unknown store %q, must be %q or %q", store, StorePostgres, StoreMongo)
	}
	if databaseDSN == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}
	if store == StoreMongo && mongoDatabase == "" {
		return nil, fmt.Errorf("mongo database name cannot be empty")
	}
	if base64Secret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}

	signingKey, err := decodeSigningSecret(base64Secret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	return &Config{
		ServerAddr:     serverAddr,
		Store:          store,
		DatabaseDSN:    databaseDSN,
		MongoDatabase:  mongoDatabase,
		SigningKey:     signingKey,
		AllowedOrigins: allowedOrigins,
	}, nil
}
