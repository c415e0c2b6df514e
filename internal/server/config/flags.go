package config

import (
	"flag"
	"os"
	"time"

	"github.com/cipherdrop/cipherdrop/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP bind address (e.g., ":8080")
//	-u string   public base URL for share links
//	-m string   metadata backend: postgres | badger | memory
//	-d string   PostgreSQL DSN
//	-p string   badger data directory
//	-o string   blob backend: s3 | fs | memory
//	-f string   blob base directory (fs backend)
//	-b string   S3 bucket name
//	-g string   S3 region
//	-e string   S3 base endpoint (e.g., "http://127.0.0.1:9000/")
//	-s string   admin JWT secret key
//	-i int      sweep interval, minutes
//	-l int      pre-expiry notification lookahead, hours
//
// The function first filters os.Args to only the flags it recognizes using
// flagx.FilterArgs, avoiding collisions with other components.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:],
		[]string{"-a", "-u", "-m", "-d", "-p", "-o", "-f", "-b", "-g", "-e", "-s", "-i", "-l"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrHTTP, "a", config.EndpointAddrHTTP, "address and port to run server")
	fs.StringVar(&config.PublicBaseURL, "u", config.PublicBaseURL, "public base URL for share links")
	fs.StringVar(&config.MetadataBackend, "m", config.MetadataBackend, "metadata backend (postgres|badger|memory)")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.BadgerPath, "p", config.BadgerPath, "badger data directory")
	fs.StringVar(&config.BlobBackend, "o", config.BlobBackend, "blob backend (s3|fs|memory)")
	fs.StringVar(&config.BlobPath, "f", config.BlobPath, "blob base directory")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3Endpoint, "e", config.S3Endpoint, "S3 base endpoint")
	fs.StringVar(&config.AdminSecretKey, "s", config.AdminSecretKey, "admin secret key")

	sweepInterval := fs.Int("i", int(config.SweepInterval.Minutes()), "sweep interval (in minutes)")
	notifyLookahead := fs.Int("l", int(config.NotifyLookahead.Hours()), "notification lookahead (in hours)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	// Only overwrite the durations when the flag was actually passed, so a
	// JSON overlay with sub-minute precision survives flag parsing.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "i":
			config.SweepInterval = time.Duration(*sweepInterval) * time.Minute
		case "l":
			config.NotifyLookahead = time.Duration(*notifyLookahead) * time.Hour
		}
	})
}
