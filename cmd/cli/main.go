// Command cli is the CipherDrop terminal client. Files are encrypted
// locally before upload and decrypted locally after download; the server
// only ever sees ciphertext.
//
// Usage:
//
//	cipherdrop upload   -s <server> [-ttl hours] [-max n] [-protect] <file>
//	cipherdrop download -s <server> [-o path] <ref>
//	cipherdrop info     -s <server> <ref>
//	cipherdrop delete   -s <server> -t <admin-token> <file-id>
//	cipherdrop admin-token -k <secret> [-operator name] [-ttl hours]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/term"

	"github.com/cipherdrop/cipherdrop/internal/client"
	"github.com/cipherdrop/cipherdrop/internal/server/auth"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	ctx := context.Background()
	var err error

	switch os.Args[1] {
	case "upload":
		err = runUpload(ctx, os.Args[2:])
	case "download":
		err = runDownload(ctx, os.Args[2:])
	case "info":
		err = runInfo(ctx, os.Args[2:])
	case "delete":
		err = runDelete(ctx, os.Args[2:])
	case "admin-token":
		err = runAdminToken(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: cipherdrop <upload|download|info|delete|admin-token> [flags] [args]")
}

func promptPassword(prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, err
	}
	if len(password) == 0 {
		return nil, errors.New("empty password")
	}
	return password, nil
}

func runUpload(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	server := fs.String("s", "http://localhost:8080", "server base URL")
	ttl := fs.Int("ttl", 0, "retention in hours (default 24)")
	max := fs.Int64("max", 0, "download cap (0 = unlimited)")
	protect := fs.Bool("protect", false, "also require the password server-side for downloads")
	_ = fs.Parse(args)

	if fs.NArg() != 1 {
		return errors.New("upload expects exactly one file argument")
	}
	path := fs.Arg(0)

	plaintext, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	password, err := promptPassword("Encryption password: ")
	if err != nil {
		return err
	}

	opts := client.UploadOptions{
		TTLHours:     *ttl,
		OriginalName: filepath.Base(path),
		OriginalType: mime.TypeByExtension(filepath.Ext(path)),
	}
	if *max > 0 {
		opts.MaxDownloads = max
	}

	res, err := client.New(*server).EncryptAndUpload(ctx, plaintext, password, *protect, opts)
	if err != nil {
		return err
	}

	fmt.Printf("file id:   %s\n", res.FileID)
	fmt.Printf("share url: %s\n", res.ShareURL)
	fmt.Printf("expires:   %s\n", res.ExpiresAt.Format(time.RFC3339))
	if res.MaxDownloads != nil {
		fmt.Printf("downloads: max %d\n", *res.MaxDownloads)
	}
	return nil
}

func runDownload(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("download", flag.ExitOnError)
	server := fs.String("s", "http://localhost:8080", "server base URL")
	out := fs.String("o", "", "output path (default: stdout)")
	_ = fs.Parse(args)

	if fs.NArg() != 1 {
		return errors.New("download expects exactly one file reference")
	}
	ref := fs.Arg(0)

	password, err := promptPassword("Decryption password: ")
	if err != nil {
		return err
	}

	c := client.New(*server)

	// Only send the password to the server when the file is gated.
	info, err := c.Info(ctx, ref)
	if err != nil {
		return err
	}
	serverPassword := ""
	if info.IsPasswordProtected {
		serverPassword = string(password)
	}

	plaintext, err := c.DownloadAndDecrypt(ctx, ref, password, serverPassword)
	if err != nil {
		return err
	}

	if *out == "" {
		_, err = os.Stdout.Write(plaintext)
		return err
	}
	return os.WriteFile(*out, plaintext, 0o600)
}

func runInfo(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("info", flag.ExitOnError)
	server := fs.String("s", "http://localhost:8080", "server base URL")
	_ = fs.Parse(args)

	if fs.NArg() != 1 {
		return errors.New("info expects exactly one file reference")
	}

	info, err := client.New(*server).Info(ctx, fs.Arg(0))
	if err != nil {
		return err
	}

	fmt.Printf("file id:    %s\n", info.FileID)
	fmt.Printf("size:       %d bytes\n", info.Size)
	fmt.Printf("category:   %s\n", info.ZKMetadata.ContentCategory)
	fmt.Printf("algorithm:  %s\n", info.ZKMetadata.Algorithm)
	fmt.Printf("uploaded:   %s\n", info.ZKMetadata.UploadTimestamp.Format(time.RFC3339))
	fmt.Printf("expires:    %s\n", info.ExpiresAt.Format(time.RFC3339))
	fmt.Printf("expired:    %v\n", info.IsExpired)
	fmt.Printf("protected:  %v\n", info.IsPasswordProtected)
	fmt.Printf("downloads:  %d\n", info.DownloadCount)
	if info.RemainingDownloads != nil {
		fmt.Printf("remaining:  %d\n", *info.RemainingDownloads)
	}
	return nil
}

func runDelete(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	server := fs.String("s", "http://localhost:8080", "server base URL")
	token := fs.String("t", "", "admin bearer token")
	_ = fs.Parse(args)

	if fs.NArg() != 1 {
		return errors.New("delete expects exactly one file id")
	}
	if *token == "" {
		return errors.New("delete requires an admin token (-t)")
	}

	if err := client.New(*server).Delete(ctx, fs.Arg(0), *token); err != nil {
		return err
	}
	fmt.Println("deleted")
	return nil
}

func runAdminToken(args []string) error {
	fs := flag.NewFlagSet("admin-token", flag.ExitOnError)
	secret := fs.String("k", "", "admin secret key (must match the server)")
	operator := fs.String("operator", "cli", "operator name recorded in audit logs")
	ttl := fs.Int("ttl", 24, "token validity in hours")
	_ = fs.Parse(args)

	if *secret == "" {
		return errors.New("admin-token requires the secret key (-k)")
	}

	token, err := auth.GenerateAdminToken(*operator, []byte(*secret), time.Duration(*ttl)*time.Hour)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
