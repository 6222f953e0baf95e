package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/attachkeeper/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP bind address (e.g., ":8080")
//	-g string   gRPC health bind address (e.g., ":50051")
//	-k string   database driver: postgres or sqlite
//	-d string   database DSN
//	-s string   JWT HMAC secret key
//	-t int      access token validity, minutes
//	-b string   storage backend: local or s3
//	-p string   local storage root
//	-e string   S3 base endpoint
//	-n string   S3 bucket name
//	-q string   quota service URL
//	-m int      max payload size, bytes
//	-x string   auth mode: basic, bearer or none
//	-l string   log level
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{
		"-a", "-g", "-k", "-d", "-s", "-t", "-b", "-p", "-e", "-n", "-q", "-m", "-x", "-l",
	})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrHTTP, "a", config.EndpointAddrHTTP, "HTTP address and port")
	fs.StringVar(&config.EndpointAddrGRPC, "g", config.EndpointAddrGRPC, "gRPC health address and port")
	fs.StringVar(&config.DatabaseDriver, "k", config.DatabaseDriver, "database driver (postgres|sqlite)")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")

	accessTokenValidityDuration := fs.Int("t", int(config.AccessTokenValidityDuration.Minutes()), "access_token_validity_duration (in minutes)")

	fs.StringVar(&config.StorageBackend, "b", config.StorageBackend, "storage backend (local|s3)")
	fs.StringVar(&config.StoragePath, "p", config.StoragePath, "local storage root")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")
	fs.StringVar(&config.S3Bucket, "n", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.QuotaServiceURL, "q", config.QuotaServiceURL, "quota service URL")
	fs.Int64Var(&config.MaxPayloadBytes, "m", config.MaxPayloadBytes, "max payload size in bytes")
	fs.StringVar(&config.AuthMode, "x", config.AuthMode, "auth mode (basic|bearer|none)")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.AccessTokenValidityDuration = time.Duration(*accessTokenValidityDuration) * time.Minute
}
